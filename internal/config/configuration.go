package config

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	// WebServer Configuration
	WebServerPort int `mapstructure:"WEBSERVER_PORT"`

	// Database Configuration
	DatabaseDSN     string `mapstructure:"DATABASE_DSN" validate:"required"`
	DatabaseRetries int    `mapstructure:"DATABASE_RETRIES"`

	// Import pipeline
	SpoolDir            string `mapstructure:"SPOOL_DIR"`
	ImportWorkers       int    `mapstructure:"IMPORT_WORKERS" validate:"gte=1"`
	FileWorkers         int    `mapstructure:"FILE_WORKERS" validate:"gte=1"`
	StageTimeoutSeconds int    `mapstructure:"STAGE_TIMEOUT_SECONDS" validate:"gte=1"`

	// External providers
	TranscribeURL string `mapstructure:"TRANSCRIBE_URL"`
	AnalysisURL   string `mapstructure:"ANALYSIS_URL"`

	// API surface
	SigningSecret string `mapstructure:"SIGNING_SECRET" validate:"required"`
	APITokens     string `mapstructure:"API_TOKENS"`
	PublicBaseURL string `mapstructure:"PUBLIC_BASE_URL"`
}

// use reflect to bind environment variables based on mapstructure tags
func bindEnv(c Config) {
	val := reflect.ValueOf(c)
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		fieldVal := val.Field(i)
		tag := field.Tag.Get("mapstructure")

		if tag != "" {
			viper.BindEnv(tag)
		}

		// Handle nested structs
		if field.Type.Kind() == reflect.Struct && tag == "" {
			nestedTyp := fieldVal.Type()
			for j := 0; j < fieldVal.NumField(); j++ {
				nestedField := nestedTyp.Field(j)
				nestedTag := nestedField.Tag.Get("mapstructure")
				if nestedTag != "" {
					viper.BindEnv(nestedTag)
				}
			}
		}
	}
}

func LoadConfig(ctx context.Context) (*Config, error) {
	bindEnv(Config{})
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("DATABASE_RETRIES", 10)
	viper.SetDefault("SPOOL_DIR", "/spool")
	viper.SetDefault("IMPORT_WORKERS", 2)
	viper.SetDefault("FILE_WORKERS", 4)
	viper.SetDefault("STAGE_TIMEOUT_SECONDS", 300)

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	slog.Info("Loaded configuration",
		"webserver_port", cfg.WebServerPort,
		"spool_dir", cfg.SpoolDir,
		"import_workers", cfg.ImportWorkers,
		"file_workers", cfg.FileWorkers,
		"stage_timeout_seconds", cfg.StageTimeoutSeconds,
	)

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
