package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
)

var ErrSchema = errors.New("store schema mismatch")

// requiredColumns lists the columns the API reads, per table.
var requiredColumns = map[string][]string{
	"station":     {"station"},
	"measurement": {"station", "date", "prcp", "tobs"},
}

// VerifySchema checks that the store has the tables and columns the API
// reads. It runs once at startup instead of mapping the schema at runtime.
func VerifySchema(ctx context.Context, db *sql.DB) error {
	tables := make([]string, 0, len(requiredColumns))
	for table := range requiredColumns {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	for _, table := range tables {
		cols, err := tableColumns(ctx, db, table)
		if err != nil {
			return fmt.Errorf("read %s columns: %w", table, err)
		}
		if len(cols) == 0 {
			return fmt.Errorf("%w: missing table %q", ErrSchema, table)
		}
		for _, col := range requiredColumns[table] {
			if !cols[col] {
				return fmt.Errorf("%w: table %q has no column %q", ErrSchema, table, col)
			}
		}
	}
	return nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	// PRAGMA arguments cannot be bound; table names come from requiredColumns only.
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
