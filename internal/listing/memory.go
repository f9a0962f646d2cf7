package listing

import (
	"sort"
	"strings"

	"github.com/hospital-it/helpdesk/internal/shared"
)

// Table describes how to search, filter and sort a slice in memory.
type Table[T any] struct {
	// Text returns the searchable fields of an item.
	Text func(T) []string
	// Match reports whether item passes filter key=value. Unknown keys pass.
	Match func(item T, key, value string) bool
	// Less orders items by sort key.
	Less map[string]func(a, b T) bool
}

// Page is one page of a listing.
type Page[T any] struct {
	Items      []T
	Pagination shared.Pagination
	Query      Query
}

// Apply searches, filters, sorts and paginates items without modifying them.
func Apply[T any](items []T, q Query, t Table[T]) Page[T] {
	needle := strings.ToLower(strings.TrimSpace(q.Search))
	filtered := make([]T, 0, len(items))
	for _, item := range items {
		if needle != "" && t.Text != nil && !containsAny(t.Text(item), needle) {
			continue
		}
		if !matchesAll(item, q.Filters, t.Match) {
			continue
		}
		filtered = append(filtered, item)
	}

	if less, ok := t.Less[q.Sort]; ok {
		sort.SliceStable(filtered, func(i, j int) bool {
			if q.Dir == Desc {
				return less(filtered[j], filtered[i])
			}
			return less(filtered[i], filtered[j])
		})
	}

	pagination := shared.NewPagination(q.Page, q.PerPage, len(filtered))
	start := pagination.Offset()
	if start > len(filtered) {
		start = len(filtered)
	}
	end := start + pagination.PerPage
	if end > len(filtered) {
		end = len(filtered)
	}
	return Page[T]{Items: filtered[start:end], Pagination: pagination, Query: q}
}

func containsAny(fields []string, needle string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

func matchesAll[T any](item T, filters map[string]string, match func(T, string, string) bool) bool {
	if match == nil {
		return true
	}
	for key, value := range filters {
		if !match(item, key, value) {
			return false
		}
	}
	return true
}
