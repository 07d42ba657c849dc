package blobstore_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"transcoder/internal/blobstore"
	"transcoder/internal/contracts"
)

func TestArtifactKey(t *testing.T) {
	got := blobstore.ArtifactKey("3f2a9c1e-0000-4000-8000-000000000001", contracts.Encoding720p, "playlist_720p.m3u8")
	want := "3f2a9c1e-0000-4000-8000-000000000001/720p/playlist_720p.m3u8"
	if got != want {
		t.Fatalf("ArtifactKey = %q, want %q", got, want)
	}
	if prefix := blobstore.VideoPrefix("abc"); prefix != "abc/" {
		t.Fatalf("VideoPrefix = %q", prefix)
	}
	if prefix := blobstore.ArtifactPrefix("abc", contracts.EncodingPreview); prefix != "abc/preview/" {
		t.Fatalf("ArtifactPrefix = %q", prefix)
	}
}

func TestMemoryStoreListsByPrefix(t *testing.T) {
	store := blobstore.NewMemory()
	ctx := context.Background()
	for _, key := range []string{"b/720p/x.m3u8", "a/360p/y.m3u8", "a/360p/640x360x800_000.ts"} {
		if _, err := store.Upload(ctx, key, strings.NewReader(key), "text/plain"); err != nil {
			t.Fatalf("Upload %s: %v", key, err)
		}
	}

	blobs, err := store.List(ctx, "a/")
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(blobs) != 2 || blobs[0].Key != "a/360p/640x360x800_000.ts" || blobs[1].Key != "a/360p/y.m3u8" {
		t.Fatalf("unexpected listing %+v", blobs)
	}

	if err := store.Delete(ctx, "a/360p/y.m3u8"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("expected 2 objects after delete, got %d", store.Len())
	}
}

func TestMemoryStoreFailUpload(t *testing.T) {
	store := blobstore.NewMemory()
	boom := errors.New("boom")
	store.FailUpload = func(key string) error {
		if strings.HasSuffix(key, ".ts") {
			return boom
		}
		return nil
	}
	if _, err := store.Upload(context.Background(), "a/seg.ts", strings.NewReader(""), ""); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if _, _, ok := store.Object("a/seg.ts"); ok {
		t.Fatal("failed upload should not be stored")
	}
}
