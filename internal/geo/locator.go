package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"vin-service/internal/domain/vin"
)

var ErrUnavailable = errors.New("geolocation unavailable")

// Locator returns the scanner position. A nil position with a nil error is
// not allowed: failures return ErrUnavailable.
type Locator interface {
	CurrentPosition(ctx context.Context) (*vin.Geolocation, error)
}

// Static reports fixed coordinates, e.g. a scanner mounted at a gate.
type Static struct {
	Position vin.Geolocation
}

func (s Static) CurrentPosition(_ context.Context) (*vin.Geolocation, error) {
	pos := s.Position
	return &pos, nil
}

// None is used when no position source is configured.
type None struct{}

func (None) CurrentPosition(_ context.Context) (*vin.Geolocation, error) {
	return nil, ErrUnavailable
}

// HTTPLocator reads {"lat":..,"lng":..} from a GPS daemon endpoint.
type HTTPLocator struct {
	client *http.Client
	url    string
}

func NewHTTPLocator(client *http.Client, url string) *HTTPLocator {
	return &HTTPLocator{client: client, url: url}
}

func (l *HTTPLocator) CurrentPosition(ctx context.Context) (*vin.Geolocation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var pos struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&pos); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if pos.Lat == nil || pos.Lng == nil {
		return nil, fmt.Errorf("%w: incomplete position", ErrUnavailable)
	}
	if *pos.Lat < -90 || *pos.Lat > 90 || *pos.Lng < -180 || *pos.Lng > 180 {
		return nil, fmt.Errorf("%w: position out of range", ErrUnavailable)
	}
	return &vin.Geolocation{Lat: *pos.Lat, Lng: *pos.Lng}, nil
}

type timeoutLocator struct {
	next    Locator
	timeout time.Duration
}

// WithTimeout bounds every lookup of next. Any failure, including the
// deadline, surfaces as ErrUnavailable so callers can submit without a
// position.
func WithTimeout(next Locator, timeout time.Duration) Locator {
	return &timeoutLocator{next: next, timeout: timeout}
}

func (l *timeoutLocator) CurrentPosition(ctx context.Context) (*vin.Geolocation, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	type result struct {
		pos *vin.Geolocation
		err error
	}
	done := make(chan result, 1)
	go func() {
		pos, err := l.next.CurrentPosition(ctx)
		done <- result{pos: pos, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, ErrUnavailable) {
				return nil, r.err
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, r.err)
		}
		if r.pos == nil {
			return nil, ErrUnavailable
		}
		return r.pos, nil
	}
}
