package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"docrelay/internal/models"
)

const (
	spoolPattern = "docrelay-upload-*"

	DefaultTempFileCleanupInterval = 10 * time.Minute
)

// spooledFile is an upload buffered on disk. Remove is safe to call any
// number of times; the file is deleted once.
type spooledFile struct {
	meta models.TempFile
	once sync.Once
}

// spool copies the file part into a fresh temp file under dir. Bytes beyond limit are
// counted but not stored so the caller can report the real size.
func spool(dir string, part *multipart.Part, limit int64) (*spooledFile, error) {
	return spoolReader(dir, part, part.FileName(), part.Header.Get("Content-Type"), limit)
}

func spoolReader(dir string, r io.Reader, name, mimeType string, limit int64) (*spooledFile, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	f, err := os.CreateTemp(dir, spoolPattern)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	sf := &spooledFile{meta: models.TempFile{
		Path:      f.Name(),
		FileName:  name,
		MimeType:  mimeType,
		CreatedAt: time.Now().UTC(),
	}}

	stored, err := io.Copy(f, io.LimitReader(r, limit+1))
	if err == nil && stored > limit {
		var extra int64
		extra, err = io.Copy(io.Discard, r)
		stored += extra
	}
	sf.meta.Size = stored
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return sf, fmt.Errorf("buffer upload: %w", err)
	}
	return sf, nil
}

func (f *spooledFile) Info() models.FileInfo {
	return models.FileInfo{Name: f.meta.FileName, Size: f.meta.Size, MimeType: f.meta.MimeType}
}

func (f *spooledFile) Open() (*os.File, error) {
	return os.Open(f.meta.Path)
}

func (f *spooledFile) Path() string {
	return f.meta.Path
}

func (f *spooledFile) Remove() {
	f.once.Do(func() {
		if err := os.Remove(f.meta.Path); err != nil && !os.IsNotExist(err) {
			slog.Warn("remove temp upload failed", "path", f.meta.Path, "error", err)
		}
	})
}

// StartTempFileCleaner removes spooled uploads older than maxAge left behind
// by a crash or a killed process.
func StartTempFileCleaner(ctx context.Context, dir string, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = DefaultTempFileCleanupInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := cleanupStaleUploads(dir, maxAge, time.Now()); err != nil {
					slog.Error("cleanup temp uploads failed", "dir", dir, "error", err)
				} else if n > 0 {
					slog.Info("removed stale temp uploads", "count", n)
				}
			}
		}
	}()
}

func cleanupStaleUploads(dir string, maxAge time.Duration, now time.Time) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, spoolPattern))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range matches {
		if !strings.HasPrefix(filepath.Base(path), "docrelay-upload-") {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("remove stale temp upload failed", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
