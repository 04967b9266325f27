package database

import (
	"context"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// Query executes a SurrealQL statement and decodes the first result set
// into a slice of T.
//
// Example:
//
//	query := "SELECT * FROM message WHERE sender_id = $sender"
//	rows, err := Query[messageRecord](ctx, db, query, map[string]any{"sender": "alice"})
func Query[T any](ctx context.Context, db *surrealdb.DB, query string, params map[string]any) ([]T, error) {
	results, err := surrealdb.Query[[]T](ctx, db, query, params)
	if err != nil {
		return nil, NewDBError(err, "query").WithQuery(query)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}

// QueryOne executes a query and returns its first row, or nil when there is
// none. SELECT statements without a LIMIT get LIMIT 1 appended.
func QueryOne[T any](ctx context.Context, db *surrealdb.DB, query string, params map[string]any) (*T, error) {
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT") && !hasLimitClause(query) {
		query += " LIMIT 1"
	}
	rows, err := Query[T](ctx, db, query, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Execute runs a statement whose result is not needed.
func Execute(ctx context.Context, db *surrealdb.DB, query string, params map[string]any) error {
	if _, err := surrealdb.Query[any](ctx, db, query, params); err != nil {
		return NewDBError(err, "execute").WithQuery(query)
	}
	return nil
}

func hasLimitClause(query string) bool {
	query = " " + strings.ToUpper(query) + " "
	return strings.Contains(query, " LIMIT ")
}
