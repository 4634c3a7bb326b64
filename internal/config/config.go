package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
	"github.com/wb-go/wbf/zlog"
)

// Storage backends for processed outputs.
const (
	BackendLocal = "local"
	BackendMinIO = "minio"
)

// Config holds the main configuration for the application.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Storage   Storage   `mapstructure:"storage"`
	Upload    Upload    `mapstructure:"upload"`
	Output    Output    `mapstructure:"output"`
	Watermark Watermark `mapstructure:"watermark"`
	Batch     Batch     `mapstructure:"batch"`
	Kafka     Kafka     `mapstructure:"kafka"`
	Retry     Retry     `mapstructure:"retry"`
	CORS      CORS      `mapstructure:"cors"`
}

// Server holds HTTP server-related configuration.
type Server struct {
	Port            string        `mapstructure:"port"` // HTTP port to listen on
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Storage holds configuration for the staging area and the processed-output store.
type Storage struct {
	Backend   string `mapstructure:"backend"`    // "local" or "minio"
	UploadDir string `mapstructure:"upload_dir"` // staging directory for raw uploads
	OutputDir string `mapstructure:"output_dir"` // directory for processed outputs (local backend)
	MinIO     MinIO  `mapstructure:"minio"`
}

// MinIO holds configuration for the S3-compatible output store.
type MinIO struct {
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BucketName string `mapstructure:"bucket_name"`
	UseSSL     bool   `mapstructure:"use_ssl"`
}

// Upload limits the multipart surface.
type Upload struct {
	MaxFiles  int   `mapstructure:"max_files"`  // max files per batch upload
	MaxMemory int64 `mapstructure:"max_memory"` // multipart parts kept in memory, bytes
}

// Output describes the encoded artifact.
type Output struct {
	Width   int `mapstructure:"width"`
	Height  int `mapstructure:"height"`
	Quality int `mapstructure:"quality"` // JPEG quality, 1-100
}

// Watermark describes the text overlay.
type Watermark struct {
	Text        string  `mapstructure:"text"`
	FontSize    float64 `mapstructure:"font_size"`
	StrokeWidth float64 `mapstructure:"stroke_width"`
	StrokeColor string  `mapstructure:"stroke_color"` // hex, e.g. #ffffff
	FillColor   string  `mapstructure:"fill_color"`   // hex, e.g. #000000
	Width       int     `mapstructure:"width"`
	Height      int     `mapstructure:"height"`
	Placement   string  `mapstructure:"placement"` // southeast, southwest, northeast, northwest
}

// Batch controls the batch pipeline.
type Batch struct {
	MaxConcurrency  int  `mapstructure:"max_concurrency"`  // 0 means one goroutine per file
	IsolateFailures bool `mapstructure:"isolate_failures"` // report per-item failures instead of failing the batch
}

// Kafka holds configuration for processed-image events.
type Kafka struct {
	Enabled bool     `mapstructure:"enabled"`
	Topic   string   `mapstructure:"topic"`   // Kafka topic name
	Brokers []string `mapstructure:"brokers"` // List of Kafka broker addresses
}

// Retry defines retry policy configuration.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// CORS lists the origins allowed to call the API.
type CORS struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// Addr returns the listen address for the HTTP server.
func (s Server) Addr() string {
	return ":" + s.Port
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "3000")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 2*time.Minute)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.upload_dir", "uploads")
	v.SetDefault("storage.output_dir", "processed")
	v.SetDefault("storage.minio.bucket_name", "processed")

	v.SetDefault("upload.max_files", 10)
	v.SetDefault("upload.max_memory", 10<<20)

	v.SetDefault("output.width", 800)
	v.SetDefault("output.height", 600)
	v.SetDefault("output.quality", 80)

	v.SetDefault("watermark.text", "Imager.com")
	v.SetDefault("watermark.font_size", 25)
	v.SetDefault("watermark.stroke_width", 2)
	v.SetDefault("watermark.stroke_color", "#ffffff")
	v.SetDefault("watermark.fill_color", "#000000")
	v.SetDefault("watermark.width", 400)
	v.SetDefault("watermark.height", 50)
	v.SetDefault("watermark.placement", "southeast")

	v.SetDefault("batch.max_concurrency", 0)
	v.SetDefault("batch.isolate_failures", false)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "images.processed")

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", 100*time.Millisecond)
	v.SetDefault("retry.backoff", 2)

	v.SetDefault("cors.allow_origins", []string{"*"})
}

// bindEnv binds environment variables to Viper keys.
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"server.port":               "PORT",
		"storage.backend":           "STORAGE_BACKEND",
		"storage.upload_dir":        "UPLOAD_DIR",
		"storage.output_dir":        "OUTPUT_DIR",
		"storage.minio.endpoint":    "MINIO_ENDPOINT",
		"storage.minio.access_key":  "MINIO_ACCESS_KEY",
		"storage.minio.secret_key":  "MINIO_SECRET_KEY",
		"storage.minio.bucket_name": "MINIO_BUCKET",
		"storage.minio.use_ssl":     "MINIO_USE_SSL",
		"watermark.text":            "WATERMARK_TEXT",
		"batch.isolate_failures":    "BATCH_ISOLATE_FAILURES",
		"kafka.enabled":             "KAFKA_ENABLED",
		"kafka.brokers":             "KAFKA_BROKERS",
		"kafka.topic":               "KAFKA_TOPIC",
	}

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	return nil
}

// Load reads the configuration from the YAML file at path, environment variables and defaults.
// A missing file is not an error; an empty path skips the file entirely.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad loads the configuration from the specified file path.
// It panics if the configuration cannot be loaded or is invalid.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to load config")
	}

	return cfg
}

// Validate checks the values the pipeline cannot work without.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port == "":
		return errors.New("config: server.port is required")
	case c.Output.Width <= 0 || c.Output.Height <= 0:
		return fmt.Errorf("config: invalid output size %dx%d", c.Output.Width, c.Output.Height)
	case c.Output.Quality < 1 || c.Output.Quality > 100:
		return fmt.Errorf("config: output.quality must be in 1..100, got %d", c.Output.Quality)
	case c.Watermark.Width <= 0 || c.Watermark.Height <= 0:
		return fmt.Errorf("config: invalid watermark size %dx%d", c.Watermark.Width, c.Watermark.Height)
	case c.Upload.MaxFiles <= 0:
		return fmt.Errorf("config: upload.max_files must be positive, got %d", c.Upload.MaxFiles)
	case c.Storage.UploadDir == "":
		return errors.New("config: storage.upload_dir is required")
	}

	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.OutputDir == "" {
			return errors.New("config: storage.output_dir is required")
		}
	case BackendMinIO:
		if c.Storage.MinIO.Endpoint == "" || c.Storage.MinIO.BucketName == "" {
			return errors.New("config: storage.minio.endpoint and bucket_name are required")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errors.New("config: kafka.brokers and kafka.topic are required when kafka is enabled")
	}

	return nil
}
