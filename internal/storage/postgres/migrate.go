package postgres

import (
	"context"
	"fmt"

	"ambar-ledger/internal/storage/migrations"
)

// Migrate applies the embedded schema. Every script is idempotent, so
// Migrate runs on each start.
func (p *Pool) Migrate(ctx context.Context) error {
	scripts, err := migrations.Postgres()
	if err != nil {
		return err
	}
	for _, m := range scripts {
		for _, stmt := range m.Statements {
			if _, err := p.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", m.Name, err)
			}
		}
	}
	return nil
}
