package db

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/qustavo/dotsql"
)

//go:embed queries/*.sql
var queriesFS embed.FS

// Queries holds the named statements from queries/*.sql, rebound for one
// handle's placeholder style.
type Queries struct {
	dot *dotsql.DotSql
	db  *sqlx.DB
}

// LoadQueries parses every embedded query file. A name defined in two files
// is an error.
func LoadQueries(db *sqlx.DB) (*Queries, error) {
	files, err := fs.Glob(queriesFS, "queries/*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list query files: %w", err)
	}
	sort.Strings(files)

	seen := make(map[string]string)
	dots := make([]*dotsql.DotSql, 0, len(files))
	for _, file := range files {
		body, err := queriesFS.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		dot, err := dotsql.LoadFromString(string(body))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", file, err)
		}
		for name := range dot.QueryMap() {
			if prev, dup := seen[name]; dup {
				return nil, fmt.Errorf("query %q defined in both %s and %s", name, prev, file)
			}
			seen[name] = file
		}
		dots = append(dots, dot)
	}

	return &Queries{dot: dotsql.Merge(dots...), db: db}, nil
}

// Names lists the loaded query names, sorted.
func (q *Queries) Names() []string {
	m := q.dot.QueryMap()
	out := make([]string, 0, len(m))
	for name := range m {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Raw returns the SQL text of a named query, rebound for the handle's driver.
func (q *Queries) Raw(name string) (string, error) {
	query, err := q.dot.Raw(name)
	if err != nil {
		return "", fmt.Errorf("query not found: %s", name)
	}
	return q.db.Rebind(query), nil
}
