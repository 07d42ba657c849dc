// Package downloader fetches an ingested video's source file onto shared
// storage and announces it to the orchestrator.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"transcoder/internal/broker"
	"transcoder/internal/config"
	"transcoder/internal/contracts"
	"transcoder/internal/fileutil"
	"transcoder/internal/logging"
	"transcoder/internal/services"
	"transcoder/internal/stage"
)

// HTTPDoer describes the HTTP client used for downloads.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Downloader handles video ingested messages.
type Downloader struct {
	sharedDir string
	maxBytes  int64
	timeout   time.Duration
	client    HTTPDoer
	publisher broker.Publisher
	logger    *slog.Logger
}

// New returns a downloader. A nil client uses http.DefaultClient.
func New(cfg *config.Config, client HTTPDoer, publisher broker.Publisher, logger *slog.Logger) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	d := &Downloader{
		sharedDir: cfg.Paths.SharedDir,
		maxBytes:  cfg.Download.MaxBytes,
		timeout:   cfg.DownloadTimeout(),
		client:    client,
		publisher: publisher,
	}
	d.SetLogger(logger)
	return d
}

func (d *Downloader) Name() string { return contracts.StageDownloader }

func (d *Downloader) SetLogger(logger *slog.Logger) {
	d.logger = logging.NewComponentLogger(logger, contracts.StageDownloader)
}

func (d *Downloader) Handle(ctx context.Context, body []byte) error {
	msg, err := stage.Decode[contracts.VideoIngested](d.Name(), body)
	if err != nil {
		return err
	}
	return d.Download(ctx, msg)
}

// Download streams the video into {shared_dir}/{videoId}.{ext}. The extension
// comes from the response Content-Type, falling back to the message's
// container when the header is absent.
func (d *Downloader) Download(ctx context.Context, msg contracts.VideoIngested) error {
	ctx = services.WithVideoID(ctx, msg.VideoID)
	logger := logging.WithContext(ctx, d.logger)

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, msg.VideoURL, nil)
	if err != nil {
		return services.Wrap(services.ErrValidation, d.Name(), "build request", msg.VideoURL, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, d.Name(), "fetch video", msg.VideoURL, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp.StatusCode); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return services.Wrap(err, d.Name(), "fetch video", fmt.Sprintf("%s returned %d", msg.VideoURL, resp.StatusCode), nil)
	}

	ext, err := resolveExtension(resp.Header.Get("Content-Type"), msg.VideoContainer)
	if err != nil {
		return services.Wrap(services.ErrValidation, d.Name(), "resolve container", msg.VideoURL, err)
	}

	location := filepath.Join(d.sharedDir, msg.VideoID+"."+ext)
	written, err := fileutil.WriteStream(location, resp.Body, d.maxBytes)
	if err != nil {
		if errors.Is(err, fileutil.ErrTooLarge) {
			return services.Wrap(services.ErrValidation, d.Name(), "write video", location, err)
		}
		return services.Wrap(services.ErrTransient, d.Name(), "write video", location, err)
	}

	event := contracts.VideoDownloaded{
		VideoID:        msg.VideoID,
		Location:       location,
		VideoContainer: contracts.Container(ext),
	}
	if err := d.publisher.Publish(ctx, contracts.RoutingKeyVideoDownloaded, event); err != nil {
		return err
	}
	logger.Info("video downloaded",
		logging.String("location", location),
		logging.Int64("bytes", written.Bytes),
		logging.String("sha256", written.SHA256),
	)
	return nil
}

func checkStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return services.ErrNotFound
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout:
		return services.ErrTransient
	case code >= 400 && code < 500:
		return services.ErrValidation
	default:
		return services.ErrTransient
	}
}

func resolveExtension(contentType string, fallback contracts.Container) (string, error) {
	if strings.TrimSpace(contentType) != "" {
		if ext, ok := contracts.SourceExtension(contentType); ok {
			return ext, nil
		}
		if fallback == "" {
			return "", fmt.Errorf("unsupported content type %q", contentType)
		}
	}
	if fallback != "" && contracts.IsSourceExtension(string(fallback)) {
		return strings.ToLower(string(fallback)), nil
	}
	return "", fmt.Errorf("no content type and no videoContainer")
}
