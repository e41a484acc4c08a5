// Command climatedb creates a climate store for local development. The API
// server only ever opens the store read-only.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"climate-api/internal/config"
	"climate-api/internal/migrate"
)

const usage = `usage: %s <command>
  init  create the store and apply schema migrations
  seed  init, then load the sample Hawaii dataset
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}

	dbPath := filepath.Clean(config.LookupEnv("SQLITE_PATH", "Resources/hawaii.sqlite"))

	if err := run(context.Background(), os.Args[1], dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command, dbPath string) error {
	switch command {
	case "init", "seed":
	default:
		return fmt.Errorf("unknown command (see usage)")
	}

	conn, err := open(dbPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			slog.Error("db close", "err", closeErr)
		}
	}()

	if err := migrate.Run(ctx, conn); err != nil {
		return err
	}
	fmt.Println("migrations applied:", dbPath)

	if command == "seed" {
		if err := migrate.Seed(ctx, conn); err != nil {
			return err
		}
		fmt.Println("sample data loaded")
	}
	return nil
}

func open(dbPath string) (*sql.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", buildDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	// Migrations are applied on one connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func buildDSN(dbPath string) string {
	params := "_busy_timeout=5000&_journal_mode=DELETE"
	if strings.HasPrefix(dbPath, "file:") {
		sep := "?"
		if strings.Contains(dbPath, "?") {
			sep = "&"
		}
		return dbPath + sep + params
	}
	return "file:" + dbPath + "?" + params
}
