package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect captures the differences between the supported SQL engines. Queries
// are written with ? placeholders and rebound per dialect.
type Dialect struct {
	Name string
	// Numbered switches ? placeholders to $1, $2, ...
	Numbered bool
}

var (
	// SQLite uses ? placeholders.
	SQLite = Dialect{Name: "sqlite"}
	// Postgres uses numbered placeholders.
	Postgres = Dialect{Name: "postgres", Numbered: true}
)

// Rebind rewrites ? placeholders for the dialect. Queries must not contain a
// literal question mark.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
