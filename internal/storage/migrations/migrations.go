// Package migrations embeds the SQL schema of the durable storage backends.
// Files apply in lexical order and must be idempotent.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed postgres/*.sql
var postgresFS embed.FS

//go:embed clickhouse/*.sql
var clickhouseFS embed.FS

// Migration is one schema file.
type Migration struct {
	Name string
	// Statements holds the file as a single script, or one entry per
	// statement for drivers without multi-statement Exec.
	Statements []string
}

// Postgres returns the PostgreSQL migrations, one script per file.
func Postgres() ([]Migration, error) {
	return load(postgresFS, "postgres", false)
}

// ClickHouse returns the ClickHouse migrations split into statements.
func ClickHouse() ([]Migration, error) {
	return load(clickhouseFS, "clickhouse", true)
}

func load(fsys fs.FS, dir string, split bool) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s migrations: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, dir+"/"+name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		script := string(data)
		if strings.TrimSpace(script) == "" {
			continue
		}

		m := Migration{Name: name, Statements: []string{script}}
		if split {
			if err := checkSplittable(script); err != nil {
				return nil, fmt.Errorf("migration %s: %w", name, err)
			}
			m.Statements = splitStatements(script)
		}
		out = append(out, m)
	}
	return out, nil
}

// splitStatements drops -- comment lines and splits on semicolons.
// Scripts must pass checkSplittable first.
func splitStatements(script string) []string {
	var kept []string
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		kept = append(kept, line)
	}

	var stmts []string
	for _, part := range strings.Split(strings.Join(kept, "\n"), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// checkSplittable rejects semicolons inside single-quoted literals and
// block comments, which splitStatements cannot handle.
func checkSplittable(script string) error {
	if strings.Contains(script, "/*") {
		return fmt.Errorf("block comments are not supported")
	}
	inString := false
	for i := 0; i < len(script); i++ {
		switch script[i] {
		case '\'':
			if inString && i+1 < len(script) && script[i+1] == '\'' {
				i++
				continue
			}
			inString = !inString
		case ';':
			if inString {
				return fmt.Errorf("semicolon inside string literal at offset %d", i)
			}
		}
	}
	return nil
}
