package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"climate-api/internal/config"
	"climate-api/internal/modules/climate/repository"
	"climate-api/internal/modules/climate/types"
)

// DateParamLayout is the MMDDYYYY form accepted in URL paths and MQTT queries.
const DateParamLayout = "01022006"

const defaultLookbackDays = 365

var ErrInvalidDate = errors.New("invalid date")

var validate = validator.New()

// Settings controls how the trailing-year window and the active station are chosen.
type Settings struct {
	// ReferenceDate is YYYY-MM-DD or config.ReferenceDateLatest.
	ReferenceDate string
	// ActiveStation is a station code or config.ActiveStationAuto.
	ActiveStation string
	LookbackDays  int
}

func SettingsFromConfig(cfg config.Config) Settings {
	return Settings{
		ReferenceDate: cfg.ReferenceDate,
		ActiveStation: cfg.ActiveStation,
		LookbackDays:  defaultLookbackDays,
	}
}

type Service struct {
	repository repository.ClimateRepository
	settings   Settings
}

func NewService(repository repository.ClimateRepository, settings Settings) *Service {
	if settings.LookbackDays <= 0 {
		settings.LookbackDays = defaultLookbackDays
	}
	return &Service{repository: repository, settings: settings}
}

// ParseDateParam parses an MMDDYYYY path segment. Errors wrap ErrInvalidDate.
func ParseDateParam(s string) (time.Time, error) {
	if err := validate.Var(s, "len=8,numeric"); err != nil {
		return time.Time{}, fmt.Errorf("%w: %q (expected MMDDYYYY)", ErrInvalidDate, s)
	}
	t, err := time.Parse(DateParamLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q (expected MMDDYYYY)", ErrInvalidDate, s)
	}
	return t, nil
}

// windowStart returns the first day of the trailing window. ok is false when
// the reference date follows the data and the store is empty.
func (s *Service) windowStart(ctx context.Context) (time.Time, bool, error) {
	var ref time.Time
	if s.settings.ReferenceDate == config.ReferenceDateLatest {
		latest, ok, err := s.repository.GetLatestDate(ctx)
		if err != nil || !ok {
			return time.Time{}, false, err
		}
		ref = latest
	} else {
		parsed, err := time.Parse(time.DateOnly, s.settings.ReferenceDate)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("reference date %q: %w", s.settings.ReferenceDate, err)
		}
		ref = parsed
	}
	return ref.AddDate(0, 0, -s.settings.LookbackDays), true, nil
}

func (s *Service) activeStation(ctx context.Context) (string, bool, error) {
	if s.settings.ActiveStation != config.ActiveStationAuto {
		return s.settings.ActiveStation, true, nil
	}
	return s.repository.GetMostActiveStation(ctx)
}

// Precipitation maps each date in the trailing window to its reading. When a
// date has several rows the one with the highest id wins.
func (s *Service) Precipitation(ctx context.Context) (map[string]*float64, error) {
	out := map[string]*float64{}

	since, ok, err := s.windowStart(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return out, nil
	}

	readings, err := s.repository.GetPrecipitationSince(ctx, since)
	if err != nil {
		return nil, err
	}
	for _, r := range readings {
		out[r.Date] = r.Prcp
	}
	slog.Debug("precipitation resolved", "since", since.Format(time.DateOnly), "rows", len(readings), "dates", len(out))
	return out, nil
}

func (s *Service) Stations(ctx context.Context) (types.StationsResponse, error) {
	ids, err := s.repository.GetStationIDs(ctx)
	if err != nil {
		return types.StationsResponse{}, err
	}
	if ids == nil {
		ids = []string{}
	}
	return types.StationsResponse{Stations: ids}, nil
}

// ActiveStationTemperatures lists the active station's observations in the trailing window.
func (s *Service) ActiveStationTemperatures(ctx context.Context) (types.TempsResponse, error) {
	empty := types.TempsResponse{Temps: []*float64{}}

	station, ok, err := s.activeStation(ctx)
	if err != nil {
		return types.TempsResponse{}, err
	}
	if !ok {
		return empty, nil
	}

	since, ok, err := s.windowStart(ctx)
	if err != nil {
		return types.TempsResponse{}, err
	}
	if !ok {
		return empty, nil
	}

	temps, err := s.repository.GetStationTemperatures(ctx, station, since)
	if err != nil {
		return types.TempsResponse{}, err
	}
	if temps == nil {
		temps = []*float64{}
	}
	slog.Debug("station temperatures resolved", "station", station, "since", since.Format(time.DateOnly), "count", len(temps))
	return types.TempsResponse{Temps: temps}, nil
}

// TemperatureStats returns [min, avg, max] of tobs from start through end,
// both inclusive. An empty end leaves the range open. A start after end
// matches nothing and yields three nulls.
func (s *Service) TemperatureStats(ctx context.Context, start, end string) (types.TempsResponse, error) {
	from, err := ParseDateParam(start)
	if err != nil {
		return types.TempsResponse{}, err
	}

	var to *time.Time
	if end != "" {
		parsed, err := ParseDateParam(end)
		if err != nil {
			return types.TempsResponse{}, err
		}
		to = &parsed
	}

	stats, err := s.repository.GetTemperatureStats(ctx, from, to)
	if err != nil {
		return types.TempsResponse{}, err
	}
	return types.TempsResponse{Temps: stats.Temps()}, nil
}
