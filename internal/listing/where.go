package listing

import (
	"strconv"
	"strings"
)

// Where accumulates SQL predicates with positional arguments. Each "?" in an
// added expression becomes the next $n placeholder.
type Where struct {
	clauses []string
	args    []any
}

// Add appends expr with its arguments.
func (w *Where) Add(expr string, args ...any) {
	var b strings.Builder
	i := 0
	for _, r := range expr {
		if r == '?' && i < len(args) {
			w.args = append(w.args, args[i])
			i++
			b.WriteString("$" + strconv.Itoa(len(w.args)))
			continue
		}
		b.WriteRune(r)
	}
	w.clauses = append(w.clauses, b.String())
}

// Search matches term case-insensitively against any of columns.
func (w *Where) Search(term string, columns ...string) {
	term = strings.TrimSpace(term)
	if term == "" || len(columns) == 0 {
		return
	}
	w.args = append(w.args, "%"+escapeLike(term)+"%")
	ph := "$" + strconv.Itoa(len(w.args))
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = col + " ILIKE " + ph
	}
	w.clauses = append(w.clauses, "("+strings.Join(parts, " OR ")+")")
}

// SQL renders the WHERE clause, or "" without predicates.
func (w *Where) SQL() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// Args returns the collected arguments.
func (w *Where) Args() []any {
	out := make([]any, len(w.args))
	copy(out, w.args)
	return out
}

// Paginate returns " LIMIT $n OFFSET $m" and the arguments extended by both.
func (w *Where) Paginate(q Query) (string, []any) {
	args := append(w.Args(), q.PerPage, q.Offset())
	n := len(args)
	return " LIMIT $" + strconv.Itoa(n-1) + " OFFSET $" + strconv.Itoa(n), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
