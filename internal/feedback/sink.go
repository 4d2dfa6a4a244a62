package feedback

import (
	"time"

	"github.com/rs/zerolog"

	"vin-service/internal/domain/vin"
)

type Kind string

const (
	KindAccepted          Kind = "accepted"
	KindSaved             Kind = "saved"
	KindDuplicate         Kind = "duplicate"
	KindSubmitFailed      Kind = "submit_failed"
	KindUnverified        Kind = "unverified"
	KindRecognitionFailed Kind = "recognition_failed"
)

type Event struct {
	Kind    Kind
	VIN     vin.VIN
	Outcome vin.Outcome
	Err     error
	At      time.Time
}

// Sink receives operator feedback. Notify must not block the scan loop.
type Sink interface {
	Notify(event Event)
}

type multi []Sink

// Multi fans an event out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multi) Notify(event Event) {
	for _, s := range m {
		s.Notify(event)
	}
}

type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Notify(event Event) {
	var e *zerolog.Event
	switch event.Kind {
	case KindSubmitFailed, KindRecognitionFailed:
		e = s.log.Warn()
	case KindUnverified:
		e = s.log.Debug()
	default:
		e = s.log.Info()
	}
	if event.VIN != "" {
		e = e.Str("vin", event.VIN.String())
	}
	if event.Outcome != 0 {
		e = e.Str("outcome", event.Outcome.String())
	}
	if event.Err != nil {
		e = e.Err(event.Err)
	}
	e.Time("at", event.At).Msg(string(event.Kind))
}
