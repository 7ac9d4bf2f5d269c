package store

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed store when DATABASE_URL is
// configured, a sqlite-backed one when a file path is, and otherwise an
// in-memory store for local/dev use.
func NewStore(ctx context.Context, databaseURL, sqlitePath string) (Store, string, error) {
	if strings.TrimSpace(databaseURL) != "" {
		s, err := NewPostgresStore(ctx, databaseURL)
		if err != nil {
			return nil, "", err
		}
		return s, "postgres", nil
	}
	if strings.TrimSpace(sqlitePath) != "" {
		s, err := NewSQLiteStore(sqlitePath)
		if err != nil {
			return nil, "", err
		}
		return s, "sqlite", nil
	}
	return NewMemoryStore(), "memory", nil
}
