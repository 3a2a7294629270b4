package clickhouse

import (
	"context"
	"fmt"

	"ambar-ledger/internal/storage/migrations"
)

// Migrate creates the target database if needed and applies the embedded
// schema. The native protocol runs one statement per Exec.
func Migrate(ctx context.Context, dsn string) error {
	opts, err := parseDSN(dsn)
	if err != nil {
		return err
	}

	if database := opts.Auth.Database; database != "" && database != "default" {
		opts.Auth.Database = ""
		admin, err := open(ctx, opts)
		if err != nil {
			return err
		}
		err = admin.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", database))
		_ = admin.Close()
		if err != nil {
			return fmt.Errorf("create database %s: %w", database, err)
		}
		opts.Auth.Database = database
	}

	conn, err := open(ctx, opts)
	if err != nil {
		return err
	}
	defer conn.Close()

	scripts, err := migrations.ClickHouse()
	if err != nil {
		return err
	}
	for _, m := range scripts {
		for _, stmt := range m.Statements {
			if err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", m.Name, err)
			}
		}
	}
	return nil
}
