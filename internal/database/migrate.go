package database

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schema string

// Migrate applies the schema on the primary. Statements are idempotent.
func (m *DBManager) Migrate(ctx context.Context) error {
	if _, err := m.primary.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
