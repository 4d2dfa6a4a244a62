package scanner

import "time"

// Ticker is the scheduling source of the loop. Stop must be safe to call once.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct {
	t *time.Ticker
}

func newRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

func (r realTicker) C() <-chan time.Time {
	return r.t.C
}

func (r realTicker) Stop() {
	r.t.Stop()
}

type Option func(*Session)

func WithTicker(factory func(time.Duration) Ticker) Option {
	return func(s *Session) {
		s.newTicker = factory
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}
