package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Defaults for program configuration
const (
	MaxWorkers       = 4  // concurrent image jobs
	DefaultMaxLabels = 10 // labels requested per image
)

// Config is the full application configuration
type Config struct {
	AWS     AWSConfig     `mapstructure:"aws"`
	Bucket  string        `mapstructure:"bucket"`
	Overlay OverlayConfig `mapstructure:"overlay"`
	Poll    PollConfig    `mapstructure:"poll"`
	Storage StorageConfig `mapstructure:"storage"`
	Output  OutputConfig  `mapstructure:"output"`
	Workers int           `mapstructure:"workers"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type AWSConfig struct {
	Region  string `mapstructure:"region"`
	Profile string `mapstructure:"profile"`
}

// OverlayConfig controls which labels are requested and drawn
type OverlayConfig struct {
	ThresholdMs   int64   `mapstructure:"threshold_ms"`
	Captions      bool    `mapstructure:"captions"` // list whole-frame labels in the corner
	MaxLabels     int32   `mapstructure:"max_labels"`
	MinConfidence float32 `mapstructure:"min_confidence"`
}

// PollConfig bounds the wait for an asynchronous video job
type PollConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type StorageConfig struct {
	Driver   string         `mapstructure:"driver"` // file, postgres or none
	Dir      string         `mapstructure:"dir"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds connection details for PostgreSQL
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// ConnString renders a pgx connection URL
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", p.User, p.Password, p.Host, p.Port, p.DBName)
}

type OutputConfig struct {
	Dir          string `mapstructure:"dir"`
	Transcode    bool   `mapstructure:"transcode"`     // re-encode video output to H.264
	UploadPrefix string `mapstructure:"upload_prefix"` // empty disables upload
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type MetricsConfig struct {
	File string `mapstructure:"file"`
}

// Load reads an optional .env file, an optional config file and the
// LABELVISION_* environment, in increasing order of precedence.
func Load(configPath string) (*Config, error) {
	// A missing .env is normal
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("config file '%s': %w", configPath, err)
		}
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("LABELVISION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings that cannot work
func (c *Config) Validate() error {
	if c.Overlay.ThresholdMs < 0 {
		return fmt.Errorf("overlay.threshold_ms must be >= 0, got %d", c.Overlay.ThresholdMs)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.Poll.InitialInterval <= 0 || c.Poll.MaxInterval < c.Poll.InitialInterval {
		return fmt.Errorf("poll intervals invalid: initial=%v max=%v", c.Poll.InitialInterval, c.Poll.MaxInterval)
	}
	switch c.Storage.Driver {
	case "file", "postgres", "none":
	default:
		return fmt.Errorf("unknown storage driver '%s'", c.Storage.Driver)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("aws.region", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("bucket", "")

	v.SetDefault("overlay.threshold_ms", 100)
	v.SetDefault("overlay.captions", false)
	v.SetDefault("overlay.max_labels", DefaultMaxLabels)
	v.SetDefault("overlay.min_confidence", 0)

	v.SetDefault("poll.initial_interval", "5s")
	v.SetDefault("poll.max_interval", "30s")
	v.SetDefault("poll.timeout", "30m")

	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.dir", "output_labels")
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.user", "")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.dbname", "labelvision")

	v.SetDefault("output.dir", ".")
	v.SetDefault("output.transcode", false)
	v.SetDefault("output.upload_prefix", "")

	v.SetDefault("workers", MaxWorkers)
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.file", "")
}
