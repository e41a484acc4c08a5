package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	_ "github.com/joho/godotenv/autoload"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

const (
	// ReferenceDateLatest resolves the reference date from the newest measurement.
	ReferenceDateLatest = "latest"
	// ActiveStationAuto resolves the active station from observation counts.
	ActiveStationAuto = "auto"
)

type Config struct {
	AppEnv       string     `koanf:"app_env" validate:"oneof=dev prod"`
	LogLevelName string     `koanf:"log_level"`
	LogLevel     slog.Level `koanf:"-"`
	HTTPAddr     string     `koanf:"http_addr" validate:"required"`

	// SQLitePath is the read-only dataset file. Ignored when SQLiteDSN is set.
	SQLitePath            string        `koanf:"sqlite_path" validate:"required_without=SQLiteDSN"`
	SQLiteDSN             string        `koanf:"db_dsn"`
	SQLiteMaxOpenConns    int           `koanf:"db_max_open_conns" validate:"gte=0"`
	SQLiteMaxIdleConns    int           `koanf:"db_max_idle_conns" validate:"gte=0"`
	SQLiteConnMaxLifetime time.Duration `koanf:"db_conn_max_lifetime" validate:"gte=0"`

	// ReferenceDate is YYYY-MM-DD or "latest".
	ReferenceDate string `koanf:"reference_date" validate:"required,refdate"`
	// ActiveStation is a station code or "auto".
	ActiveStation string `koanf:"active_station" validate:"required"`

	// MQTTBroker empty disables the MQTT query responder.
	MQTTBroker   string `koanf:"mqtt_broker"`
	MQTTPort     int    `koanf:"mqtt_port" validate:"min=1,max=65535"`
	MQTTClientID string `koanf:"mqtt_client_id" validate:"required"`
	MQTTTopic    string `koanf:"mqtt_topic" validate:"required"`
}

var envKeys = map[string]struct{}{
	"APP_ENV":              {},
	"LOG_LEVEL":            {},
	"HTTP_ADDR":            {},
	"SQLITE_PATH":          {},
	"DB_DSN":               {},
	"DB_MAX_OPEN_CONNS":    {},
	"DB_MAX_IDLE_CONNS":    {},
	"DB_CONN_MAX_LIFETIME": {},
	"REFERENCE_DATE":       {},
	"ACTIVE_STATION":       {},
	"MQTT_BROKER":          {},
	"MQTT_PORT":            {},
	"MQTT_CLIENT_ID":       {},
	"MQTT_TOPIC":           {},
}

func defaults() Config {
	return Config{
		AppEnv:                "dev",
		LogLevelName:          "info",
		HTTPAddr:              ":8080",
		SQLitePath:            "Resources/hawaii.sqlite",
		SQLiteMaxOpenConns:    4,
		SQLiteMaxIdleConns:    4,
		SQLiteConnMaxLifetime: 0,
		ReferenceDate:         "2017-08-23",
		ActiveStation:         "USC00519281",
		MQTTPort:              1883,
		MQTTClientID:          "climate-api",
		MQTTTopic:             "climate/query",
	}
}

func LoadFromEnv() (Config, error) {
	k := koanf.New(".")

	// Unset and blank variables fall through to the defaults.
	err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		if _, ok := envKeys[key]; !ok {
			return "", nil
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return "", nil
		}
		return strings.ToLower(key), value
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	cfg := defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode env: %w", err)
	}

	level, err := parseLogLevel(cfg.LogLevelName)
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	if err := newValidator().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	if cfg.SQLiteDSN == "" {
		abs, err := filepath.Abs(cfg.SQLitePath)
		if err != nil {
			return Config{}, fmt.Errorf("SQLITE_PATH %q: %w", cfg.SQLitePath, err)
		}
		cfg.SQLitePath = abs
	}

	return cfg, nil
}

// MQTTEnabled reports whether a broker was configured.
func (c Config) MQTTEnabled() bool {
	return c.MQTTBroker != ""
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("refdate", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == ReferenceDateLatest {
			return true
		}
		_, err := time.Parse(time.DateOnly, s)
		return err == nil
	})
	return v
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

// LookupEnv is exposed for tooling that shares the store path with the server.
func LookupEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
