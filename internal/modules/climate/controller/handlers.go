package controller

import (
	"errors"
	"log/slog"
	"net/http"

	"climate-api/internal/modules/climate/service"
	"climate-api/internal/utils"
)

const welcomePage = "Welcome to Hawaii Climate Analysis API<br/>" +
	"Available Routes:<br/>" +
	"/api/v1.0/precipitation<br/>" +
	"/api/v1.0/stations<br/>" +
	"/api/v1.0/tobs<br/>" +
	"/api/v1.0/temp/start<br/>" +
	"/api/v1.0/temp/start/end<br/>" +
	"<p>'start' and 'end' date should be in format MMDDYYYY.</p>"

func (c *climateControllerImpl) handleWelcome(w http.ResponseWriter, r *http.Request) {
	utils.WriteHTML(w, http.StatusOK, welcomePage)
}

func (c *climateControllerImpl) handlePrecipitation(w http.ResponseWriter, r *http.Request) {
	precipitation, err := c.service.Precipitation(r.Context())
	if err != nil {
		slog.Error("precipitation: query failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load precipitation")
		return
	}
	utils.WriteJSON(w, http.StatusOK, precipitation)
}

func (c *climateControllerImpl) handleStations(w http.ResponseWriter, r *http.Request) {
	stations, err := c.service.Stations(r.Context())
	if err != nil {
		slog.Error("stations: query failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load stations")
		return
	}
	utils.WriteJSON(w, http.StatusOK, stations)
}

func (c *climateControllerImpl) handleTobs(w http.ResponseWriter, r *http.Request) {
	temps, err := c.service.ActiveStationTemperatures(r.Context())
	if err != nil {
		slog.Error("tobs: query failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load temperature observations")
		return
	}
	utils.WriteJSON(w, http.StatusOK, temps)
}

func (c *climateControllerImpl) handleTemperatureStats(w http.ResponseWriter, r *http.Request) {
	start := r.PathValue("start")
	end := r.PathValue("end")

	stats, err := c.service.TemperatureStats(r.Context(), start, end)
	if errors.Is(err, service.ErrInvalidDate) {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		slog.Error("temp: query failed", "start", start, "end", end, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load temperature statistics")
		return
	}
	utils.WriteJSON(w, http.StatusOK, stats)
}
