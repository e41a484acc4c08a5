package db

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"climate-api/internal/config"
	"climate-api/internal/migrate"
)

// writeStore creates a store file with the given DDL and returns its path.
func writeStore(t *testing.T, ddl string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hawaii.sqlite")
	rw, err := sql.Open(driverName, path)
	if err != nil {
		t.Fatalf("open rw: %v", err)
	}
	defer func() { _ = rw.Close() }()
	// Writing the header guarantees the file exists even without tables.
	if _, err := rw.Exec(`PRAGMA user_version = 1`); err != nil {
		t.Fatalf("init store: %v", err)
	}
	if ddl != "" {
		if _, err := rw.Exec(ddl); err != nil {
			t.Fatalf("exec ddl: %v", err)
		}
	}
	return path
}

func migratedStore(t *testing.T) string {
	t.Helper()
	path := writeStore(t, "")
	rw, err := sql.Open(driverName, path)
	if err != nil {
		t.Fatalf("open rw: %v", err)
	}
	defer func() { _ = rw.Close() }()
	rw.SetMaxOpenConns(1)
	if err := migrate.Run(context.Background(), rw); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return path
}

func testConfig(path string) config.Config {
	return config.Config{
		LogLevel:           slog.LevelInfo,
		SQLitePath:         path,
		SQLiteMaxOpenConns: 2,
		SQLiteMaxIdleConns: 2,
	}
}

func TestOpen_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.sqlite")

	_, err := Open(testConfig(path), nil)
	if err == nil {
		t.Fatal("Open(missing) err = nil, want error")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
	if _, statErr := os.Stat(path); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("Open created %s", path)
	}
}

func TestOpen_Directory(t *testing.T) {
	_, err := Open(testConfig(t.TempDir()), nil)
	if err == nil || !strings.Contains(err.Error(), "is a directory") {
		t.Fatalf("Open(dir) err = %v, want directory error", err)
	}
}

func TestOpen_ReadOnly(t *testing.T) {
	path := migratedStore(t)

	conn, err := Open(testConfig(path), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = Close(conn) }()

	if _, err := conn.Exec(`INSERT INTO station (station) VALUES ('X')`); err == nil {
		t.Fatal("insert on read-only store: err = nil, want error")
	}
}

func TestOpen_DebugUsesLoggingConnector(t *testing.T) {
	path := migratedStore(t)
	handler := &captureHandler{}
	cfg := testConfig(path)
	cfg.LogLevel = slog.LevelDebug

	conn, err := Open(cfg, slog.New(handler))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = Close(conn) }()

	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM station`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if len(handler.recordsFor(t, "sql")) == 0 {
		t.Fatal("expected sql log records at debug level")
	}
}

func TestClose_Nil(t *testing.T) {
	if err := Close(nil); err != nil {
		t.Fatalf("Close(nil) = %v, want nil", err)
	}
}

func Test_buildDSN(t *testing.T) {
	path := migratedStore(t)

	t.Run("explicit DSN wins", func(t *testing.T) {
		got, err := buildDSN(config.Config{SQLiteDSN: "file:x.db?mode=ro", SQLitePath: "/does/not/exist"})
		if err != nil {
			t.Fatalf("buildDSN: %v", err)
		}
		if got != "file:x.db?mode=ro" {
			t.Errorf("dsn = %q", got)
		}
	})

	t.Run("plain path is wrapped read-only", func(t *testing.T) {
		got, err := buildDSN(config.Config{SQLitePath: path})
		if err != nil {
			t.Fatalf("buildDSN: %v", err)
		}
		if !strings.HasPrefix(got, "file:"+path+"?") || !strings.Contains(got, "mode=ro") {
			t.Errorf("dsn = %q", got)
		}
	})
}

func TestVerifySchema(t *testing.T) {
	t.Run("migrated store passes", func(t *testing.T) {
		conn, err := Open(testConfig(migratedStore(t)), nil)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer func() { _ = Close(conn) }()

		if err := VerifySchema(context.Background(), conn); err != nil {
			t.Fatalf("VerifySchema: %v", err)
		}
	})

	tests := []struct {
		name    string
		ddl     string
		wantMsg string
	}{
		{
			name:    "empty store",
			ddl:     "",
			wantMsg: `missing table "measurement"`,
		},
		{
			name:    "missing station table",
			ddl:     `CREATE TABLE measurement (id INTEGER, station TEXT, date TEXT, prcp FLOAT, tobs FLOAT)`,
			wantMsg: `missing table "station"`,
		},
		{
			name: "missing tobs column",
			ddl: `CREATE TABLE measurement (id INTEGER, station TEXT, date TEXT, prcp FLOAT);
			      CREATE TABLE station (id INTEGER, station TEXT)`,
			wantMsg: `no column "tobs"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := Open(testConfig(writeStore(t, tt.ddl)), nil)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer func() { _ = Close(conn) }()

			err = VerifySchema(context.Background(), conn)
			if !errors.Is(err, ErrSchema) {
				t.Fatalf("VerifySchema err = %v, want ErrSchema", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("err = %q, want it to contain %q", err.Error(), tt.wantMsg)
			}
		})
	}
}
