package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"transcoder/internal/contracts"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	SharedDir string `toml:"shared_dir"`
	LogDir    string `toml:"log_dir"`
}

// AMQP contains broker connection and retry settings.
type AMQP struct {
	URL                     string `toml:"url"`
	Exchange                string `toml:"exchange"`
	RetryTTLMillis          int    `toml:"retry_ttl_ms"`
	RedeliveryDropThreshold int    `toml:"redelivery_drop_threshold"`
	Prefetch                int    `toml:"prefetch"`
	HeartbeatSeconds        int    `toml:"heartbeat_seconds"`
	ConnectionName          string `toml:"connection_name"`
}

// Progress selects the progress store backend.
type Progress struct {
	Backend    string `toml:"backend"`
	SQLitePath string `toml:"sqlite_path"`
	Buffer     int    `toml:"buffer"`
}

// Redis contains connection settings for the redis progress backend.
type Redis struct {
	Addr     string `toml:"addr"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// S3 contains blob store settings. Endpoint is only set for S3-compatible
// services such as MinIO.
type S3 struct {
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UsePathStyle    bool   `toml:"use_path_style"`
}

// Encoding contains encoder binaries and the rendition ladder.
type Encoding struct {
	FFmpegBinary      string                   `toml:"ffmpeg_binary"`
	FFprobeBinary     string                   `toml:"ffprobe_binary"`
	HLSSegmentSeconds int                      `toml:"hls_segment_seconds"`
	Profiles          []contracts.EncodingSpec `toml:"profiles"`
}

// Upload contains artifact upload settings.
type Upload struct {
	Concurrency int `toml:"concurrency"`
}

// Download contains source download settings.
type Download struct {
	TimeoutSeconds int   `toml:"timeout_seconds"`
	MaxBytes       int64 `toml:"max_bytes"`
}

// Metrics configures the Prometheus endpoint. An empty bind disables it.
type Metrics struct {
	Bind string `toml:"bind"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the transcoder stages.
//
// Configuration sections by subsystem:
//   - Paths: shared job storage and log directory
//   - AMQP: broker URL, exchange, retry TTL and drop threshold
//   - Progress/Redis: where encoding progress entries live
//   - S3: artifact bucket and credentials
//   - Encoding: ffmpeg binaries and the rendition ladder
//   - Upload/Download: transfer tuning
//   - Metrics: Prometheus listener
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	AMQP     AMQP     `toml:"amqp"`
	Progress Progress `toml:"progress"`
	Redis    Redis    `toml:"redis"`
	S3       S3       `toml:"s3"`
	Encoding Encoding `toml:"encoding"`
	Upload   Upload   `toml:"upload"`
	Download Download `toml:"download"`
	Metrics  Metrics  `toml:"metrics"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		// A ladder in the file replaces the default ladder instead of
		// extending it.
		cfg.Encoding.Profiles = nil
		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
		if len(cfg.Encoding.Profiles) == 0 {
			cfg.Encoding.Profiles = DefaultProfiles()
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("transcoder.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories stage processes write into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.SharedDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Progress.Backend == ProgressBackendSQLite {
		if err := os.MkdirAll(filepath.Dir(c.Progress.SQLitePath), 0o755); err != nil {
			return fmt.Errorf("create progress database directory: %w", err)
		}
	}
	return nil
}

// RetryTTL returns the retry queue message TTL.
func (c *Config) RetryTTL() time.Duration {
	return time.Duration(c.AMQP.RetryTTLMillis) * time.Millisecond
}

// Heartbeat returns the broker heartbeat interval.
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.AMQP.HeartbeatSeconds) * time.Second
}

// DownloadTimeout returns the per-download HTTP timeout.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Download.TimeoutSeconds) * time.Second
}

// RetryExchange returns the name of the dead-letter exchange used for delayed
// redelivery.
func (c *Config) RetryExchange() string {
	return c.AMQP.Exchange + ".retry"
}

// Profile returns the configured ladder entry for id.
func (c *Config) Profile(id contracts.EncodingID) (contracts.EncodingSpec, bool) {
	for _, p := range c.Encoding.Profiles {
		if p.ID == id {
			return p, true
		}
	}
	return contracts.EncodingSpec{}, false
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
