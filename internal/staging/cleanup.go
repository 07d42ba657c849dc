package staging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"transcoder/internal/contracts"
	"transcoder/internal/logging"
)

const lockSuffix = ".lock"

// EntryKind distinguishes what the downloader and encoder leave in the shared
// directory.
type EntryKind string

const (
	EntrySource EntryKind = "source"
	EntryJob    EntryKind = "job"
	// EntryLock is an encoder lock file whose job directory is gone, usually
	// because the uploader removed it.
	EntryLock EntryKind = "lock"
)

// Entry describes one source file or job directory.
type Entry struct {
	Kind       EntryKind
	VideoID    string
	EncodingID contracts.EncodingID
	Path       string
	ModTime    time.Time
	Size       int64
	Locked     bool
}

// CleanStaleResult contains the outcome of a stale entry cleanup.
type CleanStaleResult struct {
	Removed []string
	Skipped []string
	Errors  []CleanupError
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// List returns every source file, job directory and orphaned lock file under
// sharedDir, sorted by path. A missing shared directory yields an empty list.
func List(sharedDir string) ([]Entry, error) {
	sharedDir = strings.TrimSpace(sharedDir)
	if sharedDir == "" {
		return nil, nil
	}

	top, err := os.ReadDir(sharedDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	for _, item := range top {
		itemPath := filepath.Join(sharedDir, item.Name())
		if !item.IsDir() {
			if entry, ok := sourceEntry(item, itemPath); ok {
				entries = append(entries, entry)
			}
			continue
		}
		jobs, err := os.ReadDir(itemPath)
		if err != nil {
			return nil, fmt.Errorf("read video directory %s: %w", itemPath, err)
		}
		for _, job := range jobs {
			if !job.IsDir() {
				if entry, ok := orphanLockEntry(item.Name(), job, filepath.Join(itemPath, job.Name())); ok {
					entries = append(entries, entry)
				}
				continue
			}
			info, err := job.Info()
			if err != nil {
				continue
			}
			jobPath := filepath.Join(itemPath, job.Name())
			size, _ := dirSize(jobPath)
			entries = append(entries, Entry{
				Kind:       EntryJob,
				VideoID:    item.Name(),
				EncodingID: contracts.EncodingID(job.Name()),
				Path:       jobPath,
				ModTime:    info.ModTime(),
				Size:       size,
				Locked:     isLocked(jobPath),
			})
		}
	}

	slices.SortFunc(entries, func(a, b Entry) int { return strings.Compare(a.Path, b.Path) })
	return entries, nil
}

func sourceEntry(item os.DirEntry, path string) (Entry, bool) {
	name := item.Name()
	ext := filepath.Ext(name)
	if ext == lockSuffix || !contracts.IsSourceExtension(ext) {
		return Entry{}, false
	}
	info, err := item.Info()
	if err != nil {
		return Entry{}, false
	}
	return Entry{
		Kind:    EntrySource,
		VideoID: strings.TrimSuffix(name, ext),
		Path:    path,
		ModTime: info.ModTime(),
		Size:    info.Size(),
	}, true
}

func orphanLockEntry(videoID string, item os.DirEntry, path string) (Entry, bool) {
	jobPath, ok := strings.CutSuffix(path, lockSuffix)
	if !ok {
		return Entry{}, false
	}
	if _, err := os.Stat(jobPath); !os.IsNotExist(err) {
		return Entry{}, false
	}
	info, err := item.Info()
	if err != nil {
		return Entry{}, false
	}
	return Entry{
		Kind:       EntryLock,
		VideoID:    videoID,
		EncodingID: contracts.EncodingID(strings.TrimSuffix(item.Name(), lockSuffix)),
		Path:       path,
		ModTime:    info.ModTime(),
		Locked:     isHeld(path),
	}, true
}

// CleanStale removes source files, job directories and orphaned lock files
// older than maxAge. Entries whose encoder lock is held are skipped. Video directories
// left empty afterwards are removed too.
func CleanStale(ctx context.Context, sharedDir string, maxAge time.Duration, logger *slog.Logger) CleanStaleResult {
	result := CleanStaleResult{}
	if logger == nil {
		logger = logging.NewNop()
	}

	entries, err := List(sharedDir)
	if err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: sharedDir, Error: err})
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	touched := make(map[string]struct{})
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !entry.ModTime.Before(cutoff) {
			continue
		}

		err := remove(entry)
		switch {
		case errors.Is(err, errLocked):
			result.Skipped = append(result.Skipped, entry.Path)
			logger.Debug("skipping locked job directory", logging.String("path", entry.Path))
		case err != nil:
			result.Errors = append(result.Errors, CleanupError{Path: entry.Path, Error: err})
			logging.WarnWithContext(logger, "failed to remove stale shared entry", "shared_cleanup_failed",
				logging.String("path", entry.Path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check shared_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
		default:
			result.Removed = append(result.Removed, entry.Path)
			logger.Info("removed stale shared entry",
				logging.String("path", entry.Path),
				logging.String("kind", string(entry.Kind)),
				logging.String(logging.FieldVideoID, entry.VideoID),
				logging.Duration("age", time.Since(entry.ModTime)),
				logging.String(logging.FieldEventType, "shared_cleanup"),
			)
			if entry.Kind != EntrySource {
				touched[filepath.Dir(entry.Path)] = struct{}{}
			}
		}
	}

	for dir := range touched {
		// Fails harmlessly while other jobs or lock files remain.
		_ = os.Remove(dir)
	}
	return result
}

var errLocked = errors.New("job directory is locked")

func remove(entry Entry) error {
	switch entry.Kind {
	case EntrySource:
		return os.Remove(entry.Path)
	case EntryLock:
		lock := flock.New(entry.Path)
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", entry.Path, err)
		}
		if !locked {
			return errLocked
		}
		defer func() { _ = lock.Unlock() }()
		return os.Remove(entry.Path)
	}

	lockPath := entry.Path + lockSuffix
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", lockPath, err)
	}
	if !locked {
		return errLocked
	}
	defer func() {
		_ = lock.Unlock()
		_ = os.Remove(lockPath)
	}()
	return os.RemoveAll(entry.Path)
}

// isLocked reports whether an encoder currently holds the job's lock.
func isLocked(jobPath string) bool {
	return isHeld(jobPath + lockSuffix)
}

func isHeld(lockPath string) bool {
	if _, err := os.Stat(lockPath); err != nil {
		return false
	}
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return false
	}
	if !locked {
		return true
	}
	_ = lock.Unlock()
	return false
}

// dirSize calculates the total size of a directory recursively.
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // best effort
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
