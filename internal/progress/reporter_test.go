package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"transcoder/internal/contracts"
)

type recordingStore struct {
	mu     sync.Mutex
	writes []string
	gate   chan struct{}
	failOn string
	stored map[contracts.EncodingID]string
}

func (s *recordingStore) Set(ctx context.Context, videoID string, encodingID contracts.EncodingID, value string) error {
	if s.gate != nil && value != Percent(0) && !IsTerminal(value) {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == s.failOn {
		return errors.New("store unavailable")
	}
	s.writes = append(s.writes, value)
	return nil
}

func (s *recordingStore) Entries(context.Context, string) (map[contracts.EncodingID]string, error) {
	return s.stored, nil
}

func (s *recordingStore) Ping(context.Context) error { return nil }

func (s *recordingStore) Close() error { return nil }

func (s *recordingStore) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

func assertNonDecreasing(t *testing.T, writes []string) {
	t.Helper()
	last := -1
	for i, w := range writes {
		if IsTerminal(w) {
			if i != len(writes)-1 {
				t.Fatalf("terminal value %q followed by more writes: %v", w, writes)
			}
			continue
		}
		n, ok := ParsePercent(w)
		if !ok {
			t.Fatalf("unexpected entry %q in %v", w, writes)
		}
		if n < last {
			t.Fatalf("progress decreased: %v", writes)
		}
		last = n
	}
}

func TestReporterLifecycle(t *testing.T) {
	store := &recordingStore{}
	r := NewReporter(store, "vid", contracts.Encoding720p, 8, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	r.Report(0.105)
	r.Report(0.05)
	r.Report(0.5)
	r.ReportPercent(250)
	if err := r.Complete(context.Background()); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	r.Report(0.7)

	writes := store.snapshot()
	want := []string{"0%", "10%", "50%", "99%", "100%"}
	if len(writes) != len(want) {
		t.Fatalf("got %v want %v", writes, want)
	}
	for i := range want {
		if writes[i] != want[i] {
			t.Fatalf("got %v want %v", writes, want)
		}
	}
}

func TestReporterFailIsTerminal(t *testing.T) {
	store := &recordingStore{}
	r := NewReporter(store, "vid", contracts.EncodingThumbnail, 4, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	r.Report(0.3)
	r.Fail(context.Background())
	r.Report(0.9)
	r.Fail(context.Background())

	writes := store.snapshot()
	assertNonDecreasing(t, writes)
	if writes[len(writes)-1] != Failed {
		t.Fatalf("expected failed as last write, got %v", writes)
	}
	failures := 0
	for _, w := range writes {
		if w == Failed {
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("got %d failed writes, want 1: %v", failures, writes)
	}
	if err := r.Complete(context.Background()); err != nil {
		t.Fatalf("Complete after Fail returned error: %v", err)
	}
	if got := store.snapshot(); got[len(got)-1] != Failed {
		t.Fatalf("terminal value changed: %v", got)
	}
}

func TestReporterCoalescesWhenStoreIsSlow(t *testing.T) {
	store := &recordingStore{gate: make(chan struct{})}
	r := NewReporter(store, "vid", contracts.Encoding1080p, 2, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	reported := make(chan struct{})
	go func() {
		for p := 1; p <= 50; p++ {
			r.ReportPercent(float64(p))
		}
		close(reported)
	}()
	select {
	case <-reported:
	case <-time.After(2 * time.Second):
		t.Fatal("Report blocked on a slow store")
	}

	close(store.gate)
	if err := r.Complete(context.Background()); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}

	writes := store.snapshot()
	assertNonDecreasing(t, writes)
	if len(writes) > 2+3 {
		t.Fatalf("expected coalesced writes, got %v", writes)
	}
	if writes[len(writes)-2] != "50%" || writes[len(writes)-1] != Completed {
		t.Fatalf("expected newest value before completion, got %v", writes)
	}
}

func TestReporterIgnoresReportsBeforeStart(t *testing.T) {
	store := &recordingStore{}
	r := NewReporter(store, "vid", contracts.Encoding360p, 4, nil)
	r.Report(0.4)
	if err := r.Complete(context.Background()); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	writes := store.snapshot()
	if len(writes) != 1 || writes[0] != Completed {
		t.Fatalf("got %v", writes)
	}
}

func TestReporterStartFailure(t *testing.T) {
	store := &recordingStore{failOn: "0%"}
	r := NewReporter(store, "vid", contracts.Encoding360p, 4, nil)
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	r.Fail(context.Background())
}

func TestReporterLeavesTerminalEntryAlone(t *testing.T) {
	for _, prior := range []string{Completed, Failed} {
		store := &recordingStore{stored: map[contracts.EncodingID]string{contracts.Encoding720p: prior}}
		r := NewReporter(store, "vid", contracts.Encoding720p, 4, nil)
		if err := r.Start(context.Background()); err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
		if r.Terminal() != prior {
			t.Fatalf("Terminal() = %q, want %q", r.Terminal(), prior)
		}
		r.Report(0.5)
		if err := r.Complete(context.Background()); err != nil {
			t.Fatalf("Complete returned error: %v", err)
		}
		r.Fail(context.Background())
		if writes := store.snapshot(); len(writes) != 0 {
			t.Fatalf("entry %q was rewritten: %v", prior, writes)
		}
	}
}
