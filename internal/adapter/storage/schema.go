package storage

import (
	"context"
	"embed"
	"fmt"
	"strings"
)

//go:embed schema/*.sql
var schemaFS embed.FS

var schemaFiles = map[string]string{
	DriverMySQL:    "schema/mysql.sql",
	DriverPostgres: "schema/postgres.sql",
	DriverSQLite:   "schema/sqlite.sql",
}

// Migrate creates the engine's tables if they don't exist. Safe to call on
// every start.
func (s *SQLStore) Migrate(ctx context.Context) error {
	raw, err := schemaFS.ReadFile(schemaFiles[s.dialect.name])
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}

	for _, stmt := range splitStatements(string(raw)) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return s.classify(fmt.Errorf("apply schema: %w", err))
		}
	}
	return nil
}

// splitStatements splits on ';'. The schema files contain no semicolons inside
// literals.
func splitStatements(script string) []string {
	var stmts []string
	for _, part := range strings.Split(script, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
