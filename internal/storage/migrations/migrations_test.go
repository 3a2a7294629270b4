package migrations

import (
	"strings"
	"testing"
)

func TestEmbeddedMigrations(t *testing.T) {
	pg, err := Postgres()
	if err != nil {
		t.Fatalf("postgres migrations: %v", err)
	}
	if len(pg) == 0 || len(pg[0].Statements) != 1 {
		t.Fatalf("expected whole-file postgres scripts, got %+v", pg)
	}
	if !strings.Contains(pg[0].Statements[0], "ledger_state") {
		t.Errorf("postgres schema should create ledger_state")
	}

	ch, err := ClickHouse()
	if err != nil {
		t.Fatalf("clickhouse migrations: %v", err)
	}
	if len(ch) == 0 {
		t.Fatalf("expected clickhouse migrations")
	}
	for _, stmt := range ch[0].Statements {
		if strings.HasSuffix(stmt, ";") || strings.HasPrefix(stmt, "--") {
			t.Errorf("statement not cleaned: %q", stmt)
		}
	}
}

func TestSplitStatements(t *testing.T) {
	script := "-- header\nCREATE TABLE a (x UInt8);\n\nCREATE TABLE b (y String DEFAULT 'it''s');\n"
	if err := checkSplittable(script); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stmts := splitStatements(script)
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
	if stmts[0] != "CREATE TABLE a (x UInt8)" {
		t.Errorf("unexpected first statement: %q", stmts[0])
	}
}

func TestCheckSplittable(t *testing.T) {
	tests := []struct {
		name   string
		script string
		ok     bool
	}{
		{"plain", "SELECT 1;", true},
		{"escaped quote", "SELECT 'a''b';", true},
		{"semicolon in literal", "SELECT 'a;b';", false},
		{"block comment", "/* x */ SELECT 1;", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkSplittable(tt.script)
			if (err == nil) != tt.ok {
				t.Fatalf("checkSplittable(%q) = %v", tt.script, err)
			}
		})
	}
}
