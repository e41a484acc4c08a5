package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"climate-api/internal/modules/climate/types"
)

//go:embed sql/get-precipitation-since.sql
var getPrecipitationSinceSQL string

//go:embed sql/get-station-ids.sql
var getStationIDsSQL string

//go:embed sql/get-station-temperatures.sql
var getStationTemperaturesSQL string

//go:embed sql/get-temperature-stats.sql
var getTemperatureStatsSQL string

//go:embed sql/get-latest-date.sql
var getLatestDateSQL string

//go:embed sql/get-most-active-station.sql
var getMostActiveStationSQL string

// ClimateRepository reads the station and measurement tables. Date bounds are
// compared against the stored YYYY-MM-DD text and are inclusive.
type ClimateRepository interface {
	GetPrecipitationSince(ctx context.Context, since time.Time) ([]types.PrecipitationReading, error)
	GetStationIDs(ctx context.Context) ([]string, error)
	GetStationTemperatures(ctx context.Context, stationID string, since time.Time) ([]*float64, error)
	GetTemperatureStats(ctx context.Context, start time.Time, end *time.Time) (types.TemperatureStats, error)
	GetLatestDate(ctx context.Context) (time.Time, bool, error)
	GetMostActiveStation(ctx context.Context) (string, bool, error)
}

type repositoryImpl struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) ClimateRepository {
	return &repositoryImpl{db: db}
}

func formatDate(t time.Time) string {
	return t.Format(time.DateOnly)
}

func (r *repositoryImpl) GetPrecipitationSince(ctx context.Context, since time.Time) ([]types.PrecipitationReading, error) {
	rows, err := r.db.QueryContext(ctx, getPrecipitationSinceSQL, formatDate(since))
	if err != nil {
		return nil, fmt.Errorf("query precipitation: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close precipitation rows", "error", err)
		}
	}()

	out := []types.PrecipitationReading{}
	for rows.Next() {
		var (
			rec  types.PrecipitationReading
			prcp sql.NullFloat64
		)
		if err := rows.Scan(&rec.Date, &prcp); err != nil {
			return nil, fmt.Errorf("scan precipitation: %w", err)
		}
		rec.Prcp = nullableFloat(prcp)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *repositoryImpl) GetStationIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, getStationIDsSQL)
	if err != nil {
		return nil, fmt.Errorf("query stations: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close stations rows", "error", err)
		}
	}()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan station: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *repositoryImpl) GetStationTemperatures(ctx context.Context, stationID string, since time.Time) ([]*float64, error) {
	rows, err := r.db.QueryContext(ctx, getStationTemperaturesSQL, stationID, formatDate(since))
	if err != nil {
		return nil, fmt.Errorf("query temperatures: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close temperature rows", "error", err)
		}
	}()

	out := []*float64{}
	for rows.Next() {
		var tobs sql.NullFloat64
		if err := rows.Scan(&tobs); err != nil {
			return nil, fmt.Errorf("scan temperature: %w", err)
		}
		out = append(out, nullableFloat(tobs))
	}
	return out, rows.Err()
}

func (r *repositoryImpl) GetTemperatureStats(ctx context.Context, start time.Time, end *time.Time) (types.TemperatureStats, error) {
	var endArg any
	if end != nil {
		endArg = formatDate(*end)
	}

	var lo, avg, hi sql.NullFloat64
	err := r.db.QueryRowContext(ctx, getTemperatureStatsSQL, formatDate(start), endArg).Scan(&lo, &avg, &hi)
	if err != nil {
		return types.TemperatureStats{}, fmt.Errorf("query temperature stats: %w", err)
	}
	return types.TemperatureStats{
		Min: nullableFloat(lo),
		Avg: nullableFloat(avg),
		Max: nullableFloat(hi),
	}, nil
}

// GetLatestDate returns the newest measurement date; ok is false on an empty store.
func (r *repositoryImpl) GetLatestDate(ctx context.Context) (time.Time, bool, error) {
	var raw sql.NullString
	if err := r.db.QueryRowContext(ctx, getLatestDateSQL).Scan(&raw); err != nil {
		return time.Time{}, false, fmt.Errorf("query latest date: %w", err)
	}
	if !raw.Valid || len(raw.String) < len(time.DateOnly) {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.DateOnly, raw.String[:len(time.DateOnly)])
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse latest date %q: %w", raw.String, err)
	}
	return t, true, nil
}

// GetMostActiveStation returns the station with the most measurements, ties
// broken by station code; ok is false on an empty store.
func (r *repositoryImpl) GetMostActiveStation(ctx context.Context) (string, bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx, getMostActiveStationSQL).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query most active station: %w", err)
	}
	return id, true, nil
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
