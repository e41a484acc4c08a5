package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"climate-api/internal/config"
	"climate-api/internal/db"
	"climate-api/internal/httpapi"
	"climate-api/internal/modules/climate"
	"climate-api/internal/mqtt"
)

func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"sqlitePath", cfg.SQLitePath,
		"sqliteDSNOverride", cfg.SQLiteDSN != "",
		"sqliteMaxOpenConns", cfg.SQLiteMaxOpenConns,
		"sqliteMaxIdleConns", cfg.SQLiteMaxIdleConns,
		"sqliteConnMaxLifetime", cfg.SQLiteConnMaxLifetime,
		"referenceDate", cfg.ReferenceDate,
		"activeStation", cfg.ActiveStation,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"mqttTopic", cfg.MQTTTopic,
	)

	dbConn, err := db.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := db.Close(dbConn)
		if closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}()

	verifyCtx, verifyCancel := context.WithTimeout(ctx, 5*time.Second)
	err = db.VerifySchema(verifyCtx, dbConn)
	verifyCancel()
	if err != nil {
		return fmt.Errorf("store %s: %w", cfg.SQLitePath, err)
	}
	logger.Info("store schema verified")

	mux := httpapi.NewMux(dbConn)

	// The handler is attached before Connect so the first subscription already
	// has something to dispatch to.
	var responder *mqtt.Responder
	if cfg.MQTTEnabled() {
		responder = mqtt.NewResponder(cfg, logger)
		climate.RegisterFeature(mux, dbConn, cfg, responder, logger)

		connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
		err = responder.Connect(connectCtx)
		connectCancel()
		if err != nil {
			logger.Warn("mqtt connection failed (continuing without mqtt)", "error", err)
		}
	} else {
		climate.RegisterFeature(mux, dbConn, cfg, nil, logger)
		logger.Info("mqtt disabled (MQTT_BROKER not set)")
	}

	srv := httpapi.NewServer(cfg, mux, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if responder != nil {
		logger.Info("mqtt disconnecting")
		responder.Disconnect()
	}

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}
