package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, ":3000", cfg.Server.Addr())
	assert.Equal(t, BackendLocal, cfg.Storage.Backend)
	assert.Equal(t, "uploads", cfg.Storage.UploadDir)
	assert.Equal(t, "processed", cfg.Storage.OutputDir)
	assert.Equal(t, 10, cfg.Upload.MaxFiles)
	assert.Equal(t, 800, cfg.Output.Width)
	assert.Equal(t, 600, cfg.Output.Height)
	assert.Equal(t, 80, cfg.Output.Quality)
	assert.Equal(t, "Imager.com", cfg.Watermark.Text)
	assert.Equal(t, 400, cfg.Watermark.Width)
	assert.Equal(t, 50, cfg.Watermark.Height)
	assert.Equal(t, 25.0, cfg.Watermark.FontSize)
	assert.Equal(t, "southeast", cfg.Watermark.Placement)
	assert.False(t, cfg.Batch.IsolateFailures)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "3000", cfg.Server.Port)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := `
server:
  port: "8081"
storage:
  upload_dir: /tmp/in
  output_dir: /tmp/out
watermark:
  text: Example
  placement: northwest
batch:
  max_concurrency: 4
  isolate_failures: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.Server.Port)
	assert.Equal(t, "/tmp/in", cfg.Storage.UploadDir)
	assert.Equal(t, "/tmp/out", cfg.Storage.OutputDir)
	assert.Equal(t, "Example", cfg.Watermark.Text)
	assert.Equal(t, "northwest", cfg.Watermark.Placement)
	assert.Equal(t, 4, cfg.Batch.MaxConcurrency)
	assert.True(t, cfg.Batch.IsolateFailures)
	// untouched keys keep their defaults
	assert.Equal(t, 80, cfg.Output.Quality)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("WATERMARK_TEXT", "from env")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "from env", cfg.Watermark.Text)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }},
		{"zero width", func(c *Config) { c.Output.Width = 0 }},
		{"quality too high", func(c *Config) { c.Output.Quality = 101 }},
		{"quality zero", func(c *Config) { c.Output.Quality = 0 }},
		{"zero watermark", func(c *Config) { c.Watermark.Height = 0 }},
		{"no max files", func(c *Config) { c.Upload.MaxFiles = 0 }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "ftp" }},
		{"minio without endpoint", func(c *Config) { c.Storage.Backend = BackendMinIO }},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, valid().Validate())
}
