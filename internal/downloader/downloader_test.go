package downloader_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"transcoder/internal/contracts"
	"transcoder/internal/downloader"
	"transcoder/internal/services"
	"transcoder/internal/testsupport"
)

const videoID = "3f2a9c1e-0000-4000-8000-000000000001"

func serve(t *testing.T, status int, contentType, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloadWritesFileAndPublishes(t *testing.T) {
	srv := serve(t, http.StatusOK, "video/quicktime", "moov")
	cfg := testsupport.NewConfig(t)
	pub := &testsupport.Publisher{}
	d := downloader.New(cfg, srv.Client(), pub, nil)

	msg := contracts.VideoIngested{VideoID: videoID, VideoURL: srv.URL + "/clip", VideoContainer: contracts.ContainerMP4}
	if err := d.Download(context.Background(), msg); err != nil {
		t.Fatalf("Download returned error: %v", err)
	}

	want := filepath.Join(cfg.Paths.SharedDir, videoID+".mov")
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != "moov" {
		t.Fatalf("unexpected content %q", data)
	}

	events := testsupport.DecodeAll[contracts.VideoDownloaded](t, pub, contracts.RoutingKeyVideoDownloaded)
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	if events[0].Location != want || events[0].VideoContainer != contracts.ContainerMOV {
		t.Fatalf("unexpected event %+v", events[0])
	}
}

func TestDownloadFallsBackToMessageContainer(t *testing.T) {
	srv := serve(t, http.StatusOK, "application/octet-stream", "data")
	cfg := testsupport.NewConfig(t)
	pub := &testsupport.Publisher{}
	d := downloader.New(cfg, srv.Client(), pub, nil)

	msg := contracts.VideoIngested{VideoID: videoID, VideoURL: srv.URL, VideoContainer: contracts.ContainerMKV}
	if err := d.Download(context.Background(), msg); err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.SharedDir, videoID+".mkv")); err != nil {
		t.Fatalf("expected mkv file: %v", err)
	}
}

func TestDownloadErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		container   contracts.Container
		marker      error
	}{
		{name: "not found", status: http.StatusNotFound, contentType: "video/mp4", marker: services.ErrNotFound},
		{name: "forbidden", status: http.StatusForbidden, contentType: "video/mp4", marker: services.ErrValidation},
		{name: "server error", status: http.StatusBadGateway, contentType: "video/mp4", marker: services.ErrTransient},
		{name: "unsupported type", status: http.StatusOK, contentType: "text/html", marker: services.ErrValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := serve(t, tc.status, tc.contentType, "body")
			cfg := testsupport.NewConfig(t)
			pub := &testsupport.Publisher{}
			d := downloader.New(cfg, srv.Client(), pub, nil)

			err := d.Download(context.Background(), contracts.VideoIngested{VideoID: videoID, VideoURL: srv.URL, VideoContainer: tc.container})
			if !errors.Is(err, tc.marker) {
				t.Fatalf("expected %v, got %v", tc.marker, err)
			}
			if len(pub.Messages()) != 0 {
				t.Fatal("failed download must not publish")
			}
		})
	}
}

func TestDownloadRejectsOversizedBody(t *testing.T) {
	srv := serve(t, http.StatusOK, "video/mp4", "0123456789")
	cfg := testsupport.NewConfig(t)
	cfg.Download.MaxBytes = 4
	d := downloader.New(cfg, srv.Client(), &testsupport.Publisher{}, nil)

	err := d.Download(context.Background(), contracts.VideoIngested{VideoID: videoID, VideoURL: srv.URL})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(cfg.Paths.SharedDir, videoID+".mp4")); !os.IsNotExist(statErr) {
		t.Fatal("oversized download should not leave a file")
	}
}

func TestHandleRejectsNonHTTPS(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := downloader.New(cfg, nil, &testsupport.Publisher{}, nil)
	body := []byte(`{"videoId":"` + videoID + `","videoUrl":"http://example.com/v.mp4"}`)
	if err := d.Handle(context.Background(), body); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
