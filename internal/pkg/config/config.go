package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	SerialPort          string        `env:"SERIAL_PORT" envDefault:"/dev/ttyACM0"`
	SerialBaud          int           `env:"SERIAL_BAUD" envDefault:"115200"`
	SerialReadTimeout   time.Duration `env:"SERIAL_READ_TIMEOUT" envDefault:"2s"`
	ReconnectBackoff    time.Duration `env:"DEVICE_RECONNECT_BACKOFF" envDefault:"3s"`
	MaxReconnectFailure int           `env:"DEVICE_MAX_RECONNECT_FAILURES" envDefault:"20"`

	RootDir       string `env:"ROOT_DIR,required"`
	NodeID        string `env:"NODE_ID"`
	Location      string `env:"LOCATION"`
	Operator      string `env:"OPERATOR"`
	RotationLines int    `env:"ROTATION_LINES" envDefault:"20"`

	S3Endpoint    string `env:"S3_ENDPOINT,required"`
	S3Region      string `env:"S3_REGION" envDefault:"us-east-1"`
	S3AccessKey   string `env:"S3_ACCESS_KEY"`
	S3SecretKey   string `env:"S3_SECRET_KEY"`
	S3Bucket      string `env:"S3_BUCKET,required"`
	S3UseSSL      bool   `env:"S3_USE_SSL" envDefault:"false"`
	S3MaxAttempts int    `env:"S3_MAX_ATTEMPTS" envDefault:"2"`

	UploadPollInterval time.Duration `env:"UPLOAD_POLL_INTERVAL" envDefault:"5s"`
	UploadRateLimit    float64       `env:"UPLOAD_RATE_LIMIT" envDefault:"2"`
	UploadBurst        int           `env:"UPLOAD_BURST" envDefault:"4"`
	UploadJournalDir   string        `env:"UPLOAD_JOURNAL_DIR"`
	UploadCompress     bool          `env:"UPLOAD_COMPRESS" envDefault:"true"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	AdminAddr       string        `env:"ADMIN_ADDR" envDefault:":9100"`
	StatusInterval  time.Duration `env:"STATUS_INTERVAL" envDefault:"5s"`
	RedisURL        string        `env:"REDIS_URL"`
	CatalogURL      string        `env:"CATALOG_POSTGRES_URL"`
	CPUAffinity     int           `env:"CPU_AFFINITY" envDefault:"-1"`
}

// Load reads configuration from environment variables, after loading envFile
// (or ./.env when envFile is empty) if it exists.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else {
		// Attempt to load .env file for local development.
		_ = godotenv.Load()
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.UploadJournalDir == "" {
		cfg.UploadJournalDir = filepath.Join(cfg.RootDir, ".journal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.RotationLines <= 0:
		return fmt.Errorf("ROTATION_LINES must be positive, got %d", c.RotationLines)
	case c.SerialBaud <= 0:
		return fmt.Errorf("SERIAL_BAUD must be positive, got %d", c.SerialBaud)
	case c.SerialReadTimeout <= 0:
		return errors.New("SERIAL_READ_TIMEOUT must be positive")
	case c.ReconnectBackoff < 0:
		return errors.New("DEVICE_RECONNECT_BACKOFF must not be negative")
	case c.MaxReconnectFailure <= 0:
		return fmt.Errorf("DEVICE_MAX_RECONNECT_FAILURES must be positive, got %d", c.MaxReconnectFailure)
	case c.UploadPollInterval <= 0:
		return errors.New("UPLOAD_POLL_INTERVAL must be positive")
	case c.UploadRateLimit < 0:
		return errors.New("UPLOAD_RATE_LIMIT must not be negative")
	case c.UploadRateLimit > 0 && c.UploadBurst <= 0:
		return errors.New("UPLOAD_BURST must be positive when UPLOAD_RATE_LIMIT is set")
	case c.StatusInterval <= 0:
		return errors.New("STATUS_INTERVAL must be positive")
	case c.ShutdownTimeout <= 0:
		return errors.New("SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}
