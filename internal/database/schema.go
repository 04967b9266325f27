package database

import (
	"context"
	"log/slog"

	"github.com/surrealdb/surrealdb.go"
)

const (
	messageTable = "message"
	profileTable = "profile"
)

var schemaStatements = []string{
	"DEFINE TABLE IF NOT EXISTS message SCHEMALESS",
	"DEFINE INDEX IF NOT EXISTS message_id_unique ON message FIELDS message_id UNIQUE",
	"DEFINE INDEX IF NOT EXISTS message_created ON message FIELDS created_at",
	"DEFINE INDEX IF NOT EXISTS message_pair ON message FIELDS sender_id, recipient_id",
	"DEFINE TABLE IF NOT EXISTS profile SCHEMALESS",
	"DEFINE INDEX IF NOT EXISTS profile_user ON profile FIELDS user_id UNIQUE",
}

// EnsureSchema defines the tables and indexes the stores rely on.
func EnsureSchema(ctx context.Context, conn DBConnection) error {
	ctx, cancel := timeoutFromContext(ctx, conn.ExecuteTimeout(), ContextKeyExecuteTimeout)
	defer cancel()

	return conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		for _, stmt := range schemaStatements {
			if err := Execute(ctx, db, stmt, nil); err != nil {
				return WrapError(err, "ensure schema")
			}
		}
		slog.DebugContext(ctx, "Database schema ensured", "statements", len(schemaStatements))
		return nil
	})
}
