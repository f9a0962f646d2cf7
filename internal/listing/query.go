// Package listing implements the data table contract shared by list pages:
// search, filters, sorting and pagination parsed from the query string and
// applied either in SQL or in memory.
package listing

import (
	"net/url"
	"strconv"
	"strings"
)

// Sort directions.
const (
	Asc  = "asc"
	Desc = "desc"
)

// Spec declares what a table accepts. SortColumns maps public sort keys to
// SQL expressions; unknown keys fall back to DefaultSort.
type Spec struct {
	SortColumns    map[string]string
	DefaultSort    string
	DefaultDir     string
	Filters        []string
	DefaultPerPage int
	MaxPerPage     int

	// KeyColumn breaks sort ties. Defaults to "id".
	KeyColumn string
}

// Query is a parsed table request.
type Query struct {
	Search  string
	Filters map[string]string
	Sort    string
	Dir     string
	Page    int
	PerPage int
}

// Parse reads search, sort, dir, page, per_page and the allowed filters.
func Parse(values url.Values, spec Spec) Query {
	q := Query{
		Search:  strings.TrimSpace(values.Get("search")),
		Filters: make(map[string]string),
		Sort:    strings.ToLower(strings.TrimSpace(values.Get("sort"))),
		Dir:     strings.ToLower(strings.TrimSpace(values.Get("dir"))),
	}
	if len(q.Search) > 100 {
		q.Search = q.Search[:100]
	}
	for _, key := range spec.Filters {
		if v := strings.TrimSpace(values.Get(key)); v != "" {
			q.Filters[key] = v
		}
	}
	if _, ok := spec.SortColumns[q.Sort]; !ok {
		q.Sort = spec.DefaultSort
	}
	if q.Dir != Asc && q.Dir != Desc {
		q.Dir = spec.DefaultDir
		if q.Dir != Desc {
			q.Dir = Asc
		}
	}

	q.Page, _ = strconv.Atoi(values.Get("page"))
	if q.Page < 1 {
		q.Page = 1
	}
	perPage := spec.DefaultPerPage
	if perPage <= 0 {
		perPage = 20
	}
	if n, err := strconv.Atoi(values.Get("per_page")); err == nil && n > 0 {
		perPage = n
	}
	if spec.MaxPerPage > 0 && perPage > spec.MaxPerPage {
		perPage = spec.MaxPerPage
	}
	q.PerPage = perPage
	return q
}

// Filter returns the value of a filter or "".
func (q Query) Filter(key string) string {
	return q.Filters[key]
}

// Offset returns the number of rows preceding the current page.
func (q Query) Offset() int {
	if q.Page <= 1 {
		return 0
	}
	return (q.Page - 1) * q.PerPage
}

// OrderBy renders the ORDER BY expression. id breaks ties so pages are stable.
func (q Query) OrderBy(spec Spec) string {
	col, ok := spec.SortColumns[q.Sort]
	if !ok {
		col, ok = spec.SortColumns[spec.DefaultSort]
	}
	key := spec.KeyColumn
	if key == "" {
		key = "id"
	}
	if !ok {
		return key
	}
	dir := "ASC"
	if q.Dir == Desc {
		dir = "DESC"
	}
	return col + " " + dir + ", " + key + " " + dir
}

// Encode renders the query back into a query string.
func (q Query) Encode() string {
	v := url.Values{}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	for key, value := range q.Filters {
		v.Set(key, value)
	}
	if q.Sort != "" {
		v.Set("sort", q.Sort)
	}
	if q.Dir != "" {
		v.Set("dir", q.Dir)
	}
	if q.Page > 1 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(q.PerPage))
	}
	return v.Encode()
}

// PageURL links to page of the same listing.
func (q Query) PageURL(path string, page int) string {
	q.Page = page
	return path + "?" + q.Encode()
}

// SortURL links to the listing sorted by key, toggling the direction when the
// listing is already sorted by key.
func (q Query) SortURL(path, key string) string {
	dir := Asc
	if q.Sort == key && q.Dir == Asc {
		dir = Desc
	}
	q.Sort, q.Dir, q.Page = key, dir, 1
	return path + "?" + q.Encode()
}

// SortIndicator returns an arrow for the active sort column.
func (q Query) SortIndicator(key string) string {
	if q.Sort != key {
		return ""
	}
	if q.Dir == Desc {
		return "▼"
	}
	return "▲"
}
