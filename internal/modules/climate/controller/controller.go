package controller

import (
	"context"
	"net/http"

	"climate-api/internal/modules/climate/types"
)

// ClimateService is the subset of service.Service the HTTP layer needs.
type ClimateService interface {
	Precipitation(ctx context.Context) (map[string]*float64, error)
	Stations(ctx context.Context) (types.StationsResponse, error)
	ActiveStationTemperatures(ctx context.Context) (types.TempsResponse, error)
	TemperatureStats(ctx context.Context, start, end string) (types.TempsResponse, error)
}

type ClimateController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type climateControllerImpl struct {
	service ClimateService
}

func NewClimateController(service ClimateService) ClimateController {
	return &climateControllerImpl{service: service}
}

func (c *climateControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", c.handleWelcome)
	mux.HandleFunc("GET /api/v1.0/precipitation", c.handlePrecipitation)
	mux.HandleFunc("GET /api/v1.0/stations", c.handleStations)
	mux.HandleFunc("GET /api/v1.0/tobs", c.handleTobs)
	mux.HandleFunc("GET /api/v1.0/temp/{start}", c.handleTemperatureStats)
	mux.HandleFunc("GET /api/v1.0/temp/{start}/{end}", c.handleTemperatureStats)
}
