package encoding

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"transcoder/internal/config"
	"transcoder/internal/contracts"
	"transcoder/internal/progress"
	"transcoder/internal/services"
	"transcoder/internal/testsupport"
)

const testVideoID = "3f2a9c1e-0000-4000-8000-000000000001"

type fakeEngine struct {
	mu    sync.Mutex
	runs  []Invocation
	fail  error
	steps []float64
}

func (f *fakeEngine) Run(_ context.Context, inv Invocation, onProgress ProgressFunc) error {
	f.mu.Lock()
	f.runs = append(f.runs, inv)
	f.mu.Unlock()
	for _, step := range f.steps {
		onProgress(step)
	}
	if f.fail != nil {
		return f.fail
	}
	if err := os.MkdirAll(filepath.Dir(inv.Output), 0o755); err != nil {
		return err
	}
	return os.WriteFile(inv.Output, []byte("out"), 0o644)
}

func stubProbe(t *testing.T, duration string, err error) {
	t.Helper()
	original := probeMedia
	probeMedia = func(context.Context, string, string) (ProbeResult, error) {
		var result ProbeResult
		result.Format.Duration = duration
		return result, err
	}
	t.Cleanup(func() { probeMedia = original })
}

func newTestWorker(t *testing.T, engine Engine) (*Worker, *config.Config, *testsupport.ProgressStore, *testsupport.Publisher) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.NewProgressStore()
	pub := &testsupport.Publisher{}
	return NewWorker(cfg, engine, store, pub, nil), cfg, store, pub
}

func request(cfg *config.Config, id contracts.EncodingID) contracts.VideoEncodingRequested {
	spec, ok := cfg.Profile(id)
	if !ok {
		spec = contracts.EncodingSpec{ID: id, Container: contracts.ContainerMP4, Width: 640, Height: 360}
	}
	return contracts.VideoEncodingRequested{
		VideoID:        testVideoID,
		Location:       filepath.Join(cfg.Paths.SharedDir, testVideoID+".mp4"),
		VideoContainer: contracts.ContainerMP4,
		Encoding:       spec,
	}
}

func assertMonotonic(t *testing.T, history []string) {
	t.Helper()
	last := -1
	for _, value := range history {
		if progress.IsTerminal(value) {
			continue
		}
		pct, ok := progress.ParsePercent(value)
		if !ok {
			t.Fatalf("unexpected progress value %q in %v", value, history)
		}
		if pct < last {
			t.Fatalf("progress went backwards: %v", history)
		}
		last = pct
	}
}

func assertNoWritesAfterTerminal(t *testing.T, history []string) {
	t.Helper()
	for i, value := range history {
		if progress.IsTerminal(value) && i != len(history)-1 {
			t.Fatalf("entry rewritten after terminal %q: %v", value, history)
		}
	}
}

func TestEncodeFullVideoPublishesEncoded(t *testing.T) {
	stubProbe(t, "20.0", nil)
	engine := &fakeEngine{steps: []float64{0.1, 0.5, 0.9}}
	worker, cfg, store, pub := newTestWorker(t, engine)

	if err := worker.Encode(context.Background(), request(cfg, contracts.Encoding720p)); err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	history := store.History(testVideoID, contracts.Encoding720p)
	if len(history) < 2 || history[0] != "0%" || history[len(history)-1] != progress.Completed {
		t.Fatalf("unexpected progress history %v", history)
	}
	assertMonotonic(t, history)

	if len(engine.runs) != 1 || engine.runs[0].Duration != 20 {
		t.Fatalf("unexpected engine runs %+v", engine.runs)
	}

	events := testsupport.DecodeAll[contracts.VideoEncoded](t, pub, contracts.RoutingKeyVideoEncoded)
	if len(events) != 1 {
		t.Fatalf("expected one video.encoded event, got %d", len(events))
	}
	wantDir := JobDir(cfg.Paths.SharedDir, testVideoID, contracts.Encoding720p)
	if events[0].ArtifactsDirectory != wantDir || events[0].EncodingID != contracts.Encoding720p {
		t.Fatalf("unexpected event %+v", events[0])
	}
	if _, err := os.Stat(filepath.Join(wantDir, "playlist_720p.m3u8")); err != nil {
		t.Fatalf("expected playlist in job dir: %v", err)
	}
	if _, err := os.Stat(wantDir + ".lock"); err != nil {
		t.Fatalf("lock file should stay in place: %v", err)
	}
	unlock, err := lockJob(wantDir)
	if err != nil {
		t.Fatalf("lock should be released after the job: %v", err)
	}
	unlock()
}

func TestEncodeRedeliveryKeepsCompletedEntry(t *testing.T) {
	stubProbe(t, "20.0", nil)
	engine := &fakeEngine{steps: []float64{0.5}}
	worker, cfg, store, pub := newTestWorker(t, engine)
	msg := request(cfg, contracts.Encoding720p)

	for attempt := 1; attempt <= 2; attempt++ {
		if err := worker.Encode(context.Background(), msg); err != nil {
			t.Fatalf("attempt %d: Encode returned error: %v", attempt, err)
		}
	}

	history := store.History(testVideoID, contracts.Encoding720p)
	if history[len(history)-1] != progress.Completed {
		t.Fatalf("unexpected progress history %v", history)
	}
	assertNoWritesAfterTerminal(t, history)
	if len(engine.runs) != 1 {
		t.Fatalf("completed job should not be encoded again, got %d runs", len(engine.runs))
	}
	events := testsupport.DecodeAll[contracts.VideoEncoded](t, pub, contracts.RoutingKeyVideoEncoded)
	if len(events) != 2 || events[1] != events[0] {
		t.Fatalf("expected the encoded event to be repeated, got %+v", events)
	}
}

func TestEncodeRetryAfterFailureLeavesEntryFailed(t *testing.T) {
	stubProbe(t, "20.0", nil)
	engine := &fakeEngine{fail: services.Wrap(services.ErrExternalTool, "encoder", "run ffmpeg", "", errors.New("exit 1"))}
	worker, cfg, store, pub := newTestWorker(t, engine)
	msg := request(cfg, contracts.Encoding480p)

	if err := worker.Encode(context.Background(), msg); err == nil {
		t.Fatal("expected first attempt to fail")
	}
	engine.fail = nil
	if err := worker.Encode(context.Background(), msg); err != nil {
		t.Fatalf("retry returned error: %v", err)
	}

	history := store.History(testVideoID, contracts.Encoding480p)
	if history[len(history)-1] != progress.Failed {
		t.Fatalf("failed entry must not change, history %v", history)
	}
	assertNoWritesAfterTerminal(t, history)
	if len(engine.runs) != 2 {
		t.Fatalf("retry should run the engine again, got %d runs", len(engine.runs))
	}
	if events := testsupport.DecodeAll[contracts.VideoEncoded](t, pub, contracts.RoutingKeyVideoEncoded); len(events) != 1 {
		t.Fatalf("successful retry should publish once, got %+v", events)
	}
}

func TestEncodePreviewRunsOnePass(t *testing.T) {
	stubProbe(t, "30", nil)
	engine := &fakeEngine{steps: []float64{0.25, 0.75}}
	worker, cfg, store, pub := newTestWorker(t, engine)

	if err := worker.Encode(context.Background(), request(cfg, contracts.EncodingPreview360p)); err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if len(engine.runs) != 1 {
		t.Fatalf("expected one engine run, got %d", len(engine.runs))
	}
	if engine.runs[0].Duration != previewSeconds {
		t.Fatalf("preview duration = %v, want %d", engine.runs[0].Duration, previewSeconds)
	}
	history := store.History(testVideoID, contracts.EncodingPreview360p)
	if history[len(history)-1] != progress.Completed {
		t.Fatalf("unexpected progress history %v", history)
	}
	assertMonotonic(t, history)
	events := testsupport.DecodeAll[contracts.VideoEncoded](t, pub, contracts.RoutingKeyVideoEncoded)
	if len(events) != 1 || events[0].EncodingID != contracts.EncodingPreview360p {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestEncodeAcceptsPluralThumbnailsID(t *testing.T) {
	stubProbe(t, "60", nil)
	engine := &fakeEngine{}
	worker, cfg, store, pub := newTestWorker(t, engine)
	msg := request(cfg, contracts.EncodingThumbnail)
	msg.Encoding.ID = contracts.EncodingThumbnails

	if err := worker.Encode(context.Background(), msg); err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if len(engine.runs) != 2 {
		t.Fatalf("expected two engine runs, got %d", len(engine.runs))
	}
	history := store.History(testVideoID, contracts.EncodingThumbnails)
	if history[len(history)-1] != progress.Completed {
		t.Fatalf("unexpected progress history %v", history)
	}
	events := testsupport.DecodeAll[contracts.VideoEncoded](t, pub, contracts.RoutingKeyVideoEncoded)
	if len(events) != 1 || events[0].EncodingID != contracts.EncodingThumbnails {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestEncodeThumbnailsRunsTwoPassesAndCleansFrames(t *testing.T) {
	stubProbe(t, "120", nil)
	engine := &fakeEngine{}
	worker, cfg, store, _ := newTestWorker(t, engine)

	if err := worker.Encode(context.Background(), request(cfg, contracts.EncodingThumbnail)); err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if len(engine.runs) != 2 {
		t.Fatalf("expected two engine runs, got %d", len(engine.runs))
	}
	dir := JobDir(cfg.Paths.SharedDir, testVideoID, contracts.EncodingThumbnail)
	if _, err := os.Stat(FramesDir(dir)); !os.IsNotExist(err) {
		t.Fatalf("frames directory should be removed, stat err %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "thumbnail.jpg")); err != nil {
		t.Fatalf("expected sprite sheet: %v", err)
	}
	history := store.History(testVideoID, contracts.EncodingThumbnail)
	if history[len(history)-1] != progress.Completed {
		t.Fatalf("unexpected progress history %v", history)
	}
}

func TestEncodeFailureMarksFailedAndKeepsDirectory(t *testing.T) {
	stubProbe(t, "", errors.New("no ffprobe"))
	boom := services.Wrap(services.ErrExternalTool, "encoder", "run ffmpeg", "", errors.New("exit 1"))
	engine := &fakeEngine{fail: boom, steps: []float64{0.4}}
	worker, cfg, store, pub := newTestWorker(t, engine)

	err := worker.Encode(context.Background(), request(cfg, contracts.EncodingPreview360p))
	if !errors.Is(err, boom) {
		t.Fatalf("expected engine error, got %v", err)
	}
	if !services.IsRetryable(err) {
		t.Fatal("engine failure should be retryable")
	}
	history := store.History(testVideoID, contracts.EncodingPreview360p)
	if history[0] != "0%" || history[len(history)-1] != progress.Failed {
		t.Fatalf("unexpected progress history %v", history)
	}
	assertMonotonic(t, history)
	if len(pub.Messages()) != 0 {
		t.Fatal("failed job must not publish")
	}
	if _, err := os.Stat(JobDir(cfg.Paths.SharedDir, testVideoID, contracts.EncodingPreview360p)); err != nil {
		t.Fatalf("job directory should be kept on failure: %v", err)
	}
}

func TestEncodeUnknownIDFailsWithoutEngine(t *testing.T) {
	engine := &fakeEngine{}
	worker, cfg, store, pub := newTestWorker(t, engine)

	err := worker.Encode(context.Background(), request(cfg, contracts.EncodingID("4k")))
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if services.IsRetryable(err) {
		t.Fatal("unknown encoding id should not be retried")
	}
	if len(engine.runs) != 0 || len(pub.Messages()) != 0 {
		t.Fatal("engine must not run for unknown ids")
	}
	if len(store.History(testVideoID, "4k")) != 0 {
		t.Fatal("no progress should be written for unknown ids")
	}
}

func TestEncodeRejectsConcurrentAttempt(t *testing.T) {
	stubProbe(t, "10", nil)
	worker, cfg, _, _ := newTestWorker(t, &fakeEngine{})
	msg := request(cfg, contracts.Encoding360p)

	dir := JobDir(cfg.Paths.SharedDir, testVideoID, contracts.Encoding360p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	unlock, err := lockJob(dir)
	if err != nil {
		t.Fatalf("lockJob: %v", err)
	}
	defer unlock()

	err = worker.Encode(context.Background(), msg)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient lock error, got %v", err)
	}
}

func TestHandleRejectsMalformedBody(t *testing.T) {
	worker, _, _, _ := newTestWorker(t, &fakeEngine{})
	err := worker.Handle(context.Background(), []byte(`{"videoId":"nope"}`))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEncodeRedeliveryAfterUploadLeavesNoEmptyDirectory(t *testing.T) {
	stubProbe(t, "20.0", nil)
	worker, cfg, _, pub := newTestWorker(t, &fakeEngine{})
	msg := request(cfg, contracts.Encoding360p)

	if err := worker.Encode(context.Background(), msg); err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	dir := JobDir(cfg.Paths.SharedDir, testVideoID, contracts.Encoding360p)
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}

	if err := worker.Encode(context.Background(), msg); err != nil {
		t.Fatalf("redelivery returned error: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("uploaded job directory should not be recreated, stat err %v", err)
	}
	if events := testsupport.DecodeAll[contracts.VideoEncoded](t, pub, contracts.RoutingKeyVideoEncoded); len(events) != 2 {
		t.Fatalf("expected two encoded events, got %d", len(events))
	}
}
