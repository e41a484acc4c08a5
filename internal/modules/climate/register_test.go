package climate

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"climate-api/internal/config"
	"climate-api/internal/migrate"
	"climate-api/internal/modules/climate/service"
	"climate-api/internal/modules/climate/types"
	"climate-api/internal/mqtt"
)

type captureResponder struct {
	handler mqtt.QueryHandler
}

func (c *captureResponder) SetQueryHandler(handler mqtt.QueryHandler) {
	c.handler = handler
}

func seededDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	if err := migrate.Run(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := migrate.Seed(ctx, db); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{ReferenceDate: "2017-08-23", ActiveStation: "USC00519281"}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegisterFeature_Routes(t *testing.T) {
	mux := http.NewServeMux()
	RegisterFeature(mux, seededDB(t), testConfig(), nil, discardLogger())

	for _, path := range []string{
		"/",
		"/api/v1.0/precipitation",
		"/api/v1.0/stations",
		"/api/v1.0/tobs",
		"/api/v1.0/temp/08232016",
		"/api/v1.0/temp/08232016/08232017",
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d; want 200", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1.0/stations", nil))
	want := `{"stations":["USC00519397","USC00513117","USC00519281","USC00516128"]}`
	if got := strings.TrimSpace(rec.Body.String()); got != want {
		t.Errorf("stations body = %s; want %s", got, want)
	}
}

func TestRegisterFeature_MQTTHandler(t *testing.T) {
	responder := &captureResponder{}
	RegisterFeature(http.NewServeMux(), seededDB(t), testConfig(), responder, discardLogger())

	if responder.handler == nil {
		t.Fatal("query handler not registered")
	}
	ctx := context.Background()

	got, err := responder.handler(ctx, mqtt.QueryRequest{ID: "1", Query: "stations"})
	if err != nil {
		t.Fatalf("stations query: %v", err)
	}
	stations, ok := got.(types.StationsResponse)
	if !ok || len(stations.Stations) != 4 {
		t.Errorf("stations result = %#v", got)
	}

	got, err = responder.handler(ctx, mqtt.QueryRequest{ID: "2", Query: "temp", Start: "08222017", End: "08232017"})
	if err != nil {
		t.Fatalf("temp query: %v", err)
	}
	temps, ok := got.(types.TempsResponse)
	if !ok || len(temps.Temps) != 3 || temps.Temps[0] == nil || *temps.Temps[0] != 76 || *temps.Temps[2] != 82 {
		t.Errorf("temp result = %#v", got)
	}

	got, err = responder.handler(ctx, mqtt.QueryRequest{ID: "3", Query: "precipitation"})
	if err != nil {
		t.Fatalf("precipitation query: %v", err)
	}
	if precip, ok := got.(map[string]*float64); !ok || len(precip) != 5 {
		t.Errorf("precipitation result = %#v", got)
	}

	if _, err := responder.handler(ctx, mqtt.QueryRequest{ID: "4", Query: "temp", Start: "2017-08-23"}); !errors.Is(err, service.ErrInvalidDate) {
		t.Errorf("bad date err = %v; want ErrInvalidDate", err)
	}
	if _, err := responder.handler(ctx, mqtt.QueryRequest{ID: "5", Query: "drop"}); err == nil {
		t.Error("unknown query err = nil; want error")
	}
}
