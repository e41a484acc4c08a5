package climate

import (
	"context"
	"fmt"
	"log/slog"

	"climate-api/internal/modules/climate/service"
	"climate-api/internal/mqtt"
)

// QueryResponder is implemented by transports that accept climate queries.
type QueryResponder interface {
	SetQueryHandler(handler mqtt.QueryHandler)
}

// registerMQTTHandler answers MQTT queries with the same payloads the HTTP routes return.
func registerMQTTHandler(responder QueryResponder, svc *service.Service, logger *slog.Logger) {
	responder.SetQueryHandler(func(ctx context.Context, req mqtt.QueryRequest) (any, error) {
		logger.Debug("processing query message", "id", req.ID, "query", req.Query)

		switch req.Query {
		case "precipitation":
			return svc.Precipitation(ctx)
		case "stations":
			return svc.Stations(ctx)
		case "tobs":
			return svc.ActiveStationTemperatures(ctx)
		case "temp":
			return svc.TemperatureStats(ctx, req.Start, req.End)
		default:
			return nil, fmt.Errorf("unknown query %q", req.Query)
		}
	})
}
