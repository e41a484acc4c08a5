package climate

import (
	"database/sql"
	"log/slog"
	"net/http"

	"climate-api/internal/config"
	"climate-api/internal/modules/climate/controller"
	"climate-api/internal/modules/climate/repository"
	"climate-api/internal/modules/climate/service"
)

// RegisterFeature mounts the climate routes on mux. A nil responder leaves
// MQTT queries unanswered.
func RegisterFeature(mux *http.ServeMux, db *sql.DB, cfg config.Config, responder QueryResponder, logger *slog.Logger) {
	climateRepository := repository.NewRepository(db)
	climateService := service.NewService(climateRepository, service.SettingsFromConfig(cfg))
	climateController := controller.NewClimateController(climateService)
	climateController.RegisterRoutes(mux)

	if responder != nil {
		registerMQTTHandler(responder, climateService, logger)
	}
}
