package config

import (
	"fmt"
	"os"
	"strings"

	"transcoder/internal/contracts"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAMQP()
	if err := c.normalizeProgress(); err != nil {
		return err
	}
	c.normalizeRedis()
	c.normalizeS3()
	c.normalizeEncoding()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.SharedDir) == "" {
		c.Paths.SharedDir = defaultSharedDir
	}
	if c.Paths.SharedDir, err = expandPath(c.Paths.SharedDir); err != nil {
		return fmt.Errorf("paths.shared_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAMQP() {
	c.AMQP.URL = strings.TrimSpace(c.AMQP.URL)
	if value, ok := lookupEnv("AMQP_URL"); ok {
		c.AMQP.URL = value
	}
	if c.AMQP.URL == "" {
		c.AMQP.URL = defaultAMQPURL
	}
	c.AMQP.Exchange = strings.TrimSpace(c.AMQP.Exchange)
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = defaultExchange
	}
	c.AMQP.ConnectionName = strings.TrimSpace(c.AMQP.ConnectionName)
	if c.AMQP.ConnectionName == "" {
		c.AMQP.ConnectionName = defaultConnectionName
	}
	if c.AMQP.Prefetch == 0 {
		c.AMQP.Prefetch = defaultPrefetch
	}
}

func (c *Config) normalizeProgress() error {
	c.Progress.Backend = strings.ToLower(strings.TrimSpace(c.Progress.Backend))
	if c.Progress.Backend == "" {
		c.Progress.Backend = ProgressBackendRedis
	}
	if strings.TrimSpace(c.Progress.SQLitePath) == "" {
		c.Progress.SQLitePath = defaultSQLitePath
	}
	var err error
	if c.Progress.SQLitePath, err = expandPath(c.Progress.SQLitePath); err != nil {
		return fmt.Errorf("progress.sqlite_path: %w", err)
	}
	if c.Progress.Buffer <= 0 {
		c.Progress.Buffer = defaultProgressBuffer
	}
	return nil
}

func (c *Config) normalizeRedis() {
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	if value, ok := lookupEnv("REDIS_ADDR"); ok {
		c.Redis.Addr = value
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = defaultRedisAddr
	}
	if c.Redis.Password == "" {
		if value, ok := lookupEnv("REDIS_PASSWORD"); ok {
			c.Redis.Password = value
		}
	}
}

func (c *Config) normalizeS3() {
	if c.S3.Bucket = strings.TrimSpace(c.S3.Bucket); c.S3.Bucket == "" {
		if value, ok := lookupEnv("S3_BUCKET"); ok {
			c.S3.Bucket = value
		}
	}
	if c.S3.Endpoint = strings.TrimRight(strings.TrimSpace(c.S3.Endpoint), "/"); c.S3.Endpoint == "" {
		if value, ok := lookupEnv("S3_ENDPOINT"); ok {
			c.S3.Endpoint = strings.TrimRight(value, "/")
		}
	}
	if c.S3.AccessKeyID = strings.TrimSpace(c.S3.AccessKeyID); c.S3.AccessKeyID == "" {
		if value, ok := lookupEnv("AWS_ACCESS_KEY_ID"); ok {
			c.S3.AccessKeyID = value
		}
	}
	if c.S3.SecretAccessKey = strings.TrimSpace(c.S3.SecretAccessKey); c.S3.SecretAccessKey == "" {
		if value, ok := lookupEnv("AWS_SECRET_ACCESS_KEY"); ok {
			c.S3.SecretAccessKey = value
		}
	}
	if value, ok := lookupEnv("AWS_REGION"); ok {
		c.S3.Region = value
	}
	if c.S3.Region = strings.TrimSpace(c.S3.Region); c.S3.Region == "" {
		c.S3.Region = defaultS3Region
	}
}

func (c *Config) normalizeEncoding() {
	if strings.TrimSpace(c.Encoding.FFmpegBinary) == "" {
		c.Encoding.FFmpegBinary = defaultFFmpegBinary
	}
	if strings.TrimSpace(c.Encoding.FFprobeBinary) == "" {
		c.Encoding.FFprobeBinary = defaultFFprobeBinary
	}
	if c.Encoding.HLSSegmentSeconds <= 0 {
		c.Encoding.HLSSegmentSeconds = defaultHLSSegmentSeconds
	}
	for i := range c.Encoding.Profiles {
		p := &c.Encoding.Profiles[i]
		if id, err := contracts.ParseEncodingID(string(p.ID)); err == nil {
			p.ID = id
		}
		p.Container = contracts.Container(strings.ToLower(strings.TrimSpace(string(p.Container))))
	}
	if c.Upload.Concurrency <= 0 {
		c.Upload.Concurrency = defaultUploadConcurrency
	}
	if c.Download.TimeoutSeconds <= 0 {
		c.Download.TimeoutSeconds = defaultDownloadTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func lookupEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}
