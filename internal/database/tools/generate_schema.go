// Command generate_schema writes schema.sql, the schema produced by the
// embedded migrations, for reading and review.
package main

import (
	"fmt"
	"os"

	"wsundo/internal/database"
)

const header = `-- This file is generated from the migration files.
-- DO NOT EDIT MANUALLY. Run 'go generate ./internal/database' to regenerate.
-- Source: internal/database/migrations/files/*.sql

`

func main() {
	db, err := database.NewSQLiteDatabase(":memory:")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	schema, err := db.Schema()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to extract schema: %v\n", err)
		os.Exit(1)
	}

	const outPath = "schema.sql"
	if err := os.WriteFile(outPath, []byte(header+schema), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write schema file: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated %s from migrations\n", outPath)
}
