package capture

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"time"
)

// LineSource turns text lines from r into frames. Lines that arrive between
// two Frame calls collapse to the newest one.
type LineSource struct {
	r   io.Reader
	now func() time.Time

	mu      sync.Mutex
	latest  *Frame
	readErr error
	closed  bool
	started bool
}

func NewLineSource(r io.Reader) *LineSource {
	return &LineSource{r: r, now: time.Now}
}

func (s *LineSource) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}
	s.started = true
	go s.read()
	return nil
}

func (s *LineSource) read() {
	scanner := bufio.NewScanner(s.r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.latest = &Frame{Text: line, Name: "line", At: s.now()}
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.readErr = scanner.Err()
	if s.readErr == nil {
		s.readErr = io.EOF
	}
	s.mu.Unlock()
}

func (s *LineSource) Frame(_ context.Context) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Frame{}, ErrClosed
	}
	if s.latest == nil {
		return Frame{}, ErrNoFrame
	}
	frame := *s.latest
	s.latest = nil
	return frame, nil
}

// Exhausted reports whether the reader hit EOF (or failed) and every line has
// been consumed.
func (s *LineSource) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readErr != nil && s.latest == nil
}

func (s *LineSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.latest = nil
	return nil
}
