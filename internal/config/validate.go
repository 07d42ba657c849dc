package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"transcoder/internal/contracts"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAMQP(); err != nil {
		return err
	}
	if err := c.validateProgress(); err != nil {
		return err
	}
	if err := c.validateEncoding(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return ensurePositiveMap(map[string]int{
		"upload.concurrency":       c.Upload.Concurrency,
		"download.timeout_seconds": c.Download.TimeoutSeconds,
	})
}

// ValidateBlobStore is checked only by stages that talk to S3, so the encoder
// and orchestrator can run without bucket credentials.
func (c *Config) ValidateBlobStore() error {
	if strings.TrimSpace(c.S3.Bucket) == "" {
		return errors.New("s3.bucket is required (or set S3_BUCKET)")
	}
	if (c.S3.AccessKeyID == "") != (c.S3.SecretAccessKey == "") {
		return errors.New("s3.access_key_id and s3.secret_access_key must be set together")
	}
	if c.S3.Endpoint != "" {
		parsed, err := url.Parse(c.S3.Endpoint)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("s3.endpoint %q must be an absolute URL", c.S3.Endpoint)
		}
	}
	return nil
}

func (c *Config) validateAMQP() error {
	parsed, err := url.Parse(c.AMQP.URL)
	if err != nil {
		return fmt.Errorf("amqp.url: %w", err)
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return fmt.Errorf("amqp.url must use amqp:// or amqps:// (got %q)", parsed.Scheme)
	}
	if err := ensurePositiveMap(map[string]int{
		"amqp.retry_ttl_ms":              c.AMQP.RetryTTLMillis,
		"amqp.redelivery_drop_threshold": c.AMQP.RedeliveryDropThreshold,
		"amqp.prefetch":                  c.AMQP.Prefetch,
	}); err != nil {
		return err
	}
	if c.AMQP.HeartbeatSeconds < 0 {
		return errors.New("amqp.heartbeat_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateProgress() error {
	switch c.Progress.Backend {
	case ProgressBackendRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr must be set when progress.backend is redis")
		}
		if c.Redis.DB < 0 {
			return errors.New("redis.db must be >= 0")
		}
	case ProgressBackendSQLite:
		if c.Progress.SQLitePath == "" {
			return errors.New("progress.sqlite_path must be set when progress.backend is sqlite")
		}
	default:
		return fmt.Errorf("progress.backend: unsupported value %q (use redis or sqlite)", c.Progress.Backend)
	}
	return nil
}

func (c *Config) validateEncoding() error {
	if len(c.Encoding.Profiles) == 0 {
		return errors.New("encoding.profiles must contain at least one profile")
	}
	seen := make(map[contracts.EncodingID]struct{}, len(c.Encoding.Profiles))
	for i, profile := range c.Encoding.Profiles {
		field := fmt.Sprintf("encoding.profiles[%d]", i)
		kind, err := contracts.Classify(profile.ID)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		if _, dup := seen[profile.ID]; dup {
			return fmt.Errorf("%s: duplicate id %q", field, profile.ID)
		}
		seen[profile.ID] = struct{}{}
		if err := profile.Validate(); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		if kind == contracts.KindFullVideo {
			if profile.Bitrate == nil {
				return fmt.Errorf("%s: bitrate is required for HLS rendition %q", field, profile.ID)
			}
			if profile.Container != contracts.ContainerM3U8 {
				return fmt.Errorf("%s: HLS rendition %q must use the m3u8 container", field, profile.ID)
			}
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
