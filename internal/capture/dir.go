package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var imageContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".bmp":  "image/bmp",
	".webp": "image/webp",
}

// DirSource yields the newest image in dir that has not been yielded yet.
// Files with a .txt extension are read as text frames.
type DirSource struct {
	dir string

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir, seen: make(map[string]time.Time)}
}

func (s *DirSource) Open(_ context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("open capture dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("open capture dir: %s is not a directory", s.dir)
	}
	return nil
}

func (s *DirSource) Frame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return Frame{}, fmt.Errorf("read capture dir: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		newestName string
		newestMod  time.Time
	)
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if _, ok := imageContentTypes[ext]; !ok && ext != ".txt" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if seenAt, ok := s.seen[entry.Name()]; ok && !info.ModTime().After(seenAt) {
			continue
		}
		if newestName == "" || info.ModTime().After(newestMod) {
			newestName = entry.Name()
			newestMod = info.ModTime()
		}
	}
	if newestName == "" {
		return Frame{}, ErrNoFrame
	}

	data, err := os.ReadFile(filepath.Join(s.dir, newestName))
	if err != nil {
		return Frame{}, fmt.Errorf("read capture file: %w", err)
	}
	s.seen[newestName] = newestMod

	ext := strings.ToLower(filepath.Ext(newestName))
	if ext == ".txt" {
		return Frame{Text: strings.TrimSpace(string(data)), Name: newestName, At: newestMod}, nil
	}
	return Frame{
		Image:       data,
		ContentType: imageContentTypes[ext],
		Name:        newestName,
		At:          newestMod,
	}, nil
}

func (s *DirSource) Close() error {
	return nil
}
