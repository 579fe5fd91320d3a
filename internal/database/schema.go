package database

import (
	"fmt"
	"strings"
)

//go:generate go run ./tools

// Schema returns the CREATE statements of every table and index, tables
// first, excluding SQLite internals and the migration bookkeeping table.
func (s *SQLiteDatabase) Schema() (string, error) {
	rows, err := s.db.Query(`
		SELECT sql || ';'
		FROM sqlite_master
		WHERE type IN ('table', 'index')
		  AND sql IS NOT NULL
		  AND name NOT LIKE 'sqlite_%'
		  AND tbl_name != 'schema_migrations'
		ORDER BY
		  CASE type
		    WHEN 'table' THEN 1
		    WHEN 'index' THEN 2
		  END,
		  name`)
	if err != nil {
		return "", fmt.Errorf("querying schema: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", fmt.Errorf("scanning schema: %w", err)
		}
		b.WriteString(stmt)
		b.WriteString("\n\n")
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("reading schema: %w", err)
	}
	return b.String(), nil
}
