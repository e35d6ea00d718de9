package db

import (
	"context"
	_ "embed"
	"fmt"

	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates missing tables. It is idempotent and safe to run on
// every start; it does not migrate existing tables.
func EnsureSchema(ctx context.Context, pool *Pool, logger *zap.Logger) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("[DATABASE] failed to apply schema: %w", err)
	}
	logger.Info("database schema ensured")
	return nil
}
