package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"transcoder/internal/blobstore"
	"transcoder/internal/config"
	"transcoder/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	publisher  *testsupport.Publisher
	blobs      *blobstore.Memory
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))
	for _, key := range []string{"AMQP_URL", "REDIS_ADDR", "S3_BUCKET", "S3_ENDPOINT"} {
		t.Setenv(key, "")
	}

	configPath := filepath.Join(base, "transcoder.toml")
	writeTestConfig(t, configPath, cfg)

	env := &cliTestEnv{
		cfg:        cfg,
		configPath: configPath,
		publisher:  &testsupport.Publisher{},
		blobs:      blobstore.NewMemory(),
	}

	prevPublisher, prevBlobs := openPublisher, openBlobStore
	openPublisher = func(context.Context, *config.Config, *slog.Logger) (closingPublisher, error) {
		return nopCloser{env.publisher}, nil
	}
	openBlobStore = func(context.Context, *config.Config) (blobstore.Store, error) {
		return env.blobs, nil
	}
	t.Cleanup(func() {
		openPublisher = prevPublisher
		openBlobStore = prevBlobs
	})
	return env
}

type nopCloser struct {
	*testsupport.Publisher
}

func (nopCloser) Close() error { return nil }

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\nshared_dir = %q\nlog_dir = %q\n\n[progress]\nbackend = %q\nsqlite_path = %q\n\n[s3]\nbucket = %q\n\n[metrics]\nbind = \"\"\n",
		cfg.Paths.SharedDir,
		cfg.Paths.LogDir,
		config.ProgressBackendSQLite,
		cfg.Progress.SQLitePath,
		cfg.S3.Bucket,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
