// Package sqlconn opens database connections for SQL panels and turns query
// results into JSON-friendly rows.
package sqlconn

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/kingrea/datastation/internal/state"
)

const defaultPostgresAddress = "localhost:5432"

// Params are resolved connection settings; Password is already cleartext.
type Params struct {
	Driver   state.SQLDriver
	Database string
	Username string
	Password string
	Address  string
}

// Open returns a database handle for p. Relative sqlite paths resolve
// against root.
func Open(p Params, root string) (*sql.DB, error) {
	switch p.Driver {
	case state.SQLPostgres:
		connector, err := pq.NewConnector(postgresDSN(p))
		if err != nil {
			return nil, fmt.Errorf("sqlconn: postgres: %w", err)
		}
		return sql.OpenDB(connector), nil
	case state.SQLSQLite:
		path := strings.TrimSpace(p.Database)
		if path == "" {
			return nil, fmt.Errorf("sqlconn: sqlite database path is required")
		}
		if !filepath.IsAbs(path) && root != "" {
			path = filepath.Join(root, path)
		}
		db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=busy_timeout(5000)")
		if err != nil {
			return nil, fmt.Errorf("sqlconn: sqlite: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlconn: unsupported driver %q", p.Driver)
	}
}

func postgresDSN(p Params) string {
	address := strings.TrimSpace(p.Address)
	if address == "" {
		address = defaultPostgresAddress
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     address,
		Path:     "/" + p.Database,
		RawQuery: "sslmode=disable",
	}
	if p.Username != "" {
		if p.Password != "" {
			u.User = url.UserPassword(p.Username, p.Password)
		} else {
			u.User = url.User(p.Username)
		}
	}
	return u.String()
}

// Query runs query and returns each row as a column name to value map.
func Query(ctx context.Context, p Params, root, query string) ([]map[string]any, error) {
	db, err := Open(p, root)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlconn: query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sqlconn: columns: %w", err)
	}
	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("sqlconn: scan: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = jsonValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlconn: rows: %w", err)
	}
	return out, nil
}

func jsonValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	default:
		return t
	}
}
