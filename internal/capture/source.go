package capture

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoFrame означает, что с момента прошлого вызова нового кадра нет.
	ErrNoFrame = errors.New("no new frame")
	ErrClosed  = errors.New("capture source closed")
)

// Frame is one captured image or, for text sources, one line of already
// recognized text.
type Frame struct {
	Text        string
	Image       []byte
	ContentType string
	Name        string
	At          time.Time
}

func (f Frame) IsText() bool {
	return len(f.Image) == 0
}

type Source interface {
	// Open checks that the source is ready. Frame must not be called before
	// Open succeeds.
	Open(ctx context.Context) error
	// Frame returns the latest frame or ErrNoFrame.
	Frame(ctx context.Context) (Frame, error)
	Close() error
}
