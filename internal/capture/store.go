package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	filePrefix     = "screenshot_"
	fileExt        = ".jpg"
	timestampStyle = "20060102_150405"
	maxNameRetries = 1000
)

// Store persists captured images and returns where each one was written.
type Store interface {
	Save(ctx context.Context, img *Image) (string, error)
}

// FileStore writes one timestamped JPEG per capture into a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory when needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("capture - os.MkdirAll: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory captures are written to.
func (s *FileStore) Dir() string {
	return s.dir
}

// Save writes img as screenshot_YYYYMMDD_HHMMSS.jpg. A capture landing on an
// already used second gets a numeric suffix instead of replacing the earlier file.
func (s *FileStore) Save(ctx context.Context, img *Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	stamp := img.CapturedAt.Format(timestampStyle)
	for n := 0; n < maxNameRetries; n++ {
		name := filePrefix + stamp + fileExt
		if n > 0 {
			name = fmt.Sprintf("%s%s_%d%s", filePrefix, stamp, n, fileExt)
		}
		path := filepath.Join(s.dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("capture - os.OpenFile: %w", err)
		}

		if _, err := f.Write(img.Data); err != nil {
			f.Close()
			return "", fmt.Errorf("capture - write %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("capture - close %s: %w", name, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("capture - no free file name for %s", stamp)
}
