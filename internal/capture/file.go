package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"}

// FileProvider serves frames from image files, in order. After the last file
// it keeps returning the last one.
type FileProvider struct {
	paths []string
	dir   string
}

// NewFileProvider serves the given image files.
func NewFileProvider(paths ...string) *FileProvider {
	return &FileProvider{paths: paths}
}

// NewDirProvider serves every image in dir, sorted by name. The directory is listed at open time.
func NewDirProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

// RequestAccess checks that every file is readable.
func (p *FileProvider) RequestAccess(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	paths := p.paths
	if p.dir != "" {
		listed, err := listImages(p.dir)
		if err != nil {
			return nil, fileError(err)
		}
		paths = listed
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no image files", ErrDeviceUnavailable)
	}

	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fileError(err)
		}
		f.Close()
	}
	return &fileStream{paths: slices.Clone(paths)}, nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(out)
	return out, nil
}

func fileError(err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
}

type fileStream struct {
	mu    sync.Mutex
	paths []string
	next  int
}

func (s *fileStream) GrabFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	s.mu.Lock()
	path := s.paths[min(s.next, len(s.paths)-1)]
	if s.next < len(s.paths) {
		s.next++
	}
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, fileError(err)
	}
	return Frame{Data: data, CapturedAt: time.Now()}, nil
}

func (s *fileStream) Close() error { return nil }
