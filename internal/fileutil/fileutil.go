package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrTooLarge is returned when a stream exceeds the caller's size limit.
var ErrTooLarge = errors.New("stream exceeds size limit")

// Written describes a completed WriteStream.
type Written struct {
	Bytes  int64
	SHA256 string
}

// WriteStream copies r into dst through a ".part" sibling and renames it into
// place only once the copy finished, so readers never see a truncated file.
// A maxBytes <= 0 disables the limit. On any error the partial file is
// removed and dst is left untouched.
func WriteStream(dst string, r io.Reader, maxBytes int64) (Written, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Written{}, fmt.Errorf("create parent directory: %w", err)
	}
	part := dst + ".part"
	out, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return Written{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = out.Close()
			_ = os.Remove(part)
		}
	}()

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, hasher), src)
	if err != nil {
		return Written{}, err
	}
	if maxBytes > 0 && n > maxBytes {
		return Written{}, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxBytes)
	}
	if err := out.Sync(); err != nil {
		return Written{}, err
	}
	if err := out.Close(); err != nil {
		return Written{}, err
	}
	if err := os.Rename(part, dst); err != nil {
		return Written{}, err
	}
	committed = true
	return Written{Bytes: n, SHA256: hex.EncodeToString(hasher.Sum(nil))}, nil
}
