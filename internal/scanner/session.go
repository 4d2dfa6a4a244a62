package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"vin-service/internal/capture"
	"vin-service/internal/domain/vin"
	"vin-service/internal/feedback"
	"vin-service/internal/geo"
	"vin-service/internal/recognizer"
	"vin-service/internal/utils"
)

var (
	ErrAlreadyStarted = errors.New("scanner session already started")
	ErrStopped        = errors.New("scanner session stopped")
)

type State int32

const (
	StateIdle State = iota
	StateCapturing
	StateBusy
	StateCooldown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateBusy:
		return "busy"
	case StateCooldown:
		return "cooldown"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Submitter interface {
	Submit(ctx context.Context, result vin.ScanResult) (vin.Outcome, error)
}

// SnapshotUploader attaches the frame image to a freshly created record.
type SnapshotUploader interface {
	UploadSnapshot(ctx context.Context, v vin.VIN, filename string, data []byte) (string, error)
}

type Config struct {
	Interval      time.Duration
	Cooldown      time.Duration
	SubmitTimeout time.Duration
	Material      string
	SourceIP      string
}

type Deps struct {
	Source     capture.Source
	Recognizer recognizer.Recognizer
	Submitter  Submitter
	Locator    geo.Locator
	Sink       feedback.Sink
	Snapshots  SnapshotUploader
	Log        zerolog.Logger
}

type Stats struct {
	Ticks               uint64
	DroppedTicks        uint64
	Attempts            uint64
	RecognitionFailures uint64
	Unverified          uint64
	Submissions         uint64
}

type attemptResult struct {
	candidate *vin.Candidate
	output    vin.RecognitionOutput
	frame     capture.Frame
	err       error
	at        time.Time
}

type submissionResult struct {
	vin     vin.VIN
	outcome vin.Outcome
	err     error
}

// Session owns one scan loop: a single goroutine drives the state machine,
// recognition runs one attempt at a time and submissions are fire-and-forget.
type Session struct {
	cfg       Config
	deps      Deps
	newTicker func(time.Duration) Ticker
	now       func() time.Time

	state    atomic.Int32
	inFlight atomic.Int32

	ticks               atomic.Uint64
	droppedTicks        atomic.Uint64
	attempts            atomic.Uint64
	recognitionFailures atomic.Uint64
	unverified          atomic.Uint64
	submissions         atomic.Uint64

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	// принадлежат горутине цикла
	lastAccepted  vin.VIN
	pending       map[vin.VIN]struct{}
	cooldownUntil time.Time
	results       chan submissionResult
}

func New(cfg Config, deps Deps, opts ...Option) *Session {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	if deps.Locator == nil {
		deps.Locator = geo.None{}
	}
	if deps.Sink == nil {
		deps.Sink = feedback.Multi()
	}

	s := &Session{
		cfg:       cfg,
		deps:      deps,
		newTicker: newRealTicker,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		pending:   make(map[vin.VIN]struct{}),
		results:   make(chan submissionResult),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.Store(int32(StateIdle))
	return s
}

// Start opens the capture source and launches the loop. The loop runs until
// Stop is called or ctx is cancelled.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == StateStopped {
		return ErrStopped
	}
	if s.started {
		return ErrAlreadyStarted
	}
	if err := s.deps.Source.Open(ctx); err != nil {
		return fmt.Errorf("open capture source: %w", err)
	}
	s.started = true
	s.setState(StateCapturing)

	ticker := s.newTicker(s.cfg.Interval)
	go s.run(ctx, ticker)
	return nil
}

// Stop is idempotent. It does not wait for recognition or submissions in
// progress; their results are discarded.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		started := s.started
		if !started {
			s.setState(StateStopped)
		}
		close(s.stopCh)
		s.mu.Unlock()

		if started {
			<-s.done
			return
		}
		close(s.done)
	})
}

// Done is closed once the loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// InFlight is the number of submissions still awaiting a backend response.
func (s *Session) InFlight() int {
	return int(s.inFlight.Load())
}

func (s *Session) Stats() Stats {
	return Stats{
		Ticks:               s.ticks.Load(),
		DroppedTicks:        s.droppedTicks.Load(),
		Attempts:            s.attempts.Load(),
		RecognitionFailures: s.recognitionFailures.Load(),
		Unverified:          s.unverified.Load(),
		Submissions:         s.submissions.Load(),
	}
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
}

func (s *Session) run(ctx context.Context, ticker Ticker) {
	attemptCtx, cancelAttempt := context.WithCancel(ctx)
	defer func() {
		cancelAttempt()
		ticker.Stop()
		if err := s.deps.Source.Close(); err != nil {
			s.deps.Log.Warn().Err(err).Msg("failed to close capture source")
		}
		s.setState(StateStopped)
		close(s.done)
	}()

	var (
		busy     bool
		attempts = make(chan attemptResult, 1)
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return

		case <-ticker.C():
			s.ticks.Add(1)
			if busy {
				s.droppedTicks.Add(1)
				continue
			}
			if s.State() == StateCooldown {
				if s.now().Before(s.cooldownUntil) {
					s.droppedTicks.Add(1)
					continue
				}
				s.setState(StateCapturing)
			}

			busy = true
			s.setState(StateBusy)
			s.attempts.Add(1)
			go func() {
				attempts <- s.attempt(attemptCtx)
			}()

		case res := <-attempts:
			busy = false
			s.setState(s.handleAttempt(res))

		case res := <-s.results:
			s.handleSubmission(res)
		}
	}
}

func (s *Session) attempt(ctx context.Context) attemptResult {
	frame, err := s.deps.Source.Frame(ctx)
	if err != nil {
		if errors.Is(err, capture.ErrNoFrame) {
			return attemptResult{at: s.now()}
		}
		return attemptResult{err: fmt.Errorf("capture frame: %w", err), at: s.now()}
	}

	output, err := s.deps.Recognizer.Recognize(ctx, frame)
	if err != nil {
		return attemptResult{err: fmt.Errorf("recognize: %w", err), at: s.now()}
	}

	res := attemptResult{output: output, frame: frame, at: frame.At}
	if res.at.IsZero() {
		res.at = s.now()
	}
	if candidate, ok := utils.ExtractBestVIN(output.Raw()); ok {
		res.candidate = &candidate
	}
	return res
}

// handleAttempt returns the state the loop moves to once the attempt result
// is fully determined.
func (s *Session) handleAttempt(res attemptResult) State {
	if res.err != nil {
		if errors.Is(res.err, context.Canceled) {
			return StateCapturing
		}
		s.recognitionFailures.Add(1)
		s.deps.Sink.Notify(feedback.Event{Kind: feedback.KindRecognitionFailed, Err: res.err, At: s.now()})
		return StateCapturing
	}
	if res.candidate == nil {
		return StateCapturing
	}

	candidate := *res.candidate
	if !candidate.Verified {
		s.unverified.Add(1)
		s.deps.Sink.Notify(feedback.Event{Kind: feedback.KindUnverified, VIN: candidate.VIN, At: s.now()})
		return StateCapturing
	}
	if candidate.VIN == s.lastAccepted {
		return StateCapturing
	}
	if _, ok := s.pending[candidate.VIN]; ok {
		return StateCapturing
	}

	s.lastAccepted = candidate.VIN
	s.pending[candidate.VIN] = struct{}{}
	s.inFlight.Add(1)
	s.submissions.Add(1)

	s.deps.Log.Info().
		Str("vin", candidate.VIN.String()).
		Str("recognizer", res.output.Kind).
		Int("offset", candidate.Offset).
		Msg("vin accepted")
	s.deps.Sink.Notify(feedback.Event{Kind: feedback.KindAccepted, VIN: candidate.VIN, At: s.now()})

	go s.submit(s.buildResult(candidate.VIN, res), res.frame)

	s.cooldownUntil = s.now().Add(s.cfg.Cooldown)
	return StateCooldown
}

func (s *Session) buildResult(v vin.VIN, res attemptResult) vin.ScanResult {
	result := vin.ScanResult{
		VIN:        v,
		CapturedAt: res.at,
		Recognizer: res.output.Kind,
		RawText:    res.output.Raw(),
	}
	if s.cfg.Material != "" {
		material := s.cfg.Material
		result.MaterialOrKind = &material
	}
	if s.cfg.SourceIP != "" {
		ip := s.cfg.SourceIP
		result.SourceIP = &ip
	}
	return result
}

// submit is detached from the session context: Stop does not cancel it, the
// loop simply stops listening for its result.
func (s *Session) submit(result vin.ScanResult, frame capture.Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SubmitTimeout)
	defer cancel()

	if pos, err := s.deps.Locator.CurrentPosition(ctx); err == nil {
		result.Geolocation = pos
	} else {
		s.deps.Log.Debug().Err(err).Str("vin", result.VIN.String()).Msg("submitting without geolocation")
	}

	outcome, err := s.deps.Submitter.Submit(ctx, result)
	if err == nil && outcome != vin.OutcomeSaved && outcome != vin.OutcomeDuplicate {
		err = fmt.Errorf("submission failed: %s", outcome)
	}

	if outcome == vin.OutcomeSaved && s.deps.Snapshots != nil && !frame.IsText() {
		if url, uerr := s.deps.Snapshots.UploadSnapshot(ctx, result.VIN, frame.Name, frame.Image); uerr != nil {
			s.deps.Log.Warn().Err(uerr).Str("vin", result.VIN.String()).Msg("failed to upload vin snapshot")
		} else {
			s.deps.Log.Debug().Str("vin", result.VIN.String()).Str("snapshot_url", url).Msg("vin snapshot uploaded")
		}
	}

	select {
	case s.results <- submissionResult{vin: result.VIN, outcome: outcome, err: err}:
	case <-s.done:
	}
	s.inFlight.Add(-1)
}

func (s *Session) handleSubmission(res submissionResult) {
	delete(s.pending, res.vin)

	switch res.outcome {
	case vin.OutcomeSaved:
		s.deps.Sink.Notify(feedback.Event{Kind: feedback.KindSaved, VIN: res.vin, Outcome: res.outcome, At: s.now()})
	case vin.OutcomeDuplicate:
		s.deps.Sink.Notify(feedback.Event{Kind: feedback.KindDuplicate, VIN: res.vin, Outcome: res.outcome, At: s.now()})
	case vin.OutcomeTransientError:
		// следующее независимое обнаружение того же VIN отправит его повторно
		if s.lastAccepted == res.vin {
			s.lastAccepted = ""
		}
		s.deps.Sink.Notify(feedback.Event{Kind: feedback.KindSubmitFailed, VIN: res.vin, Outcome: res.outcome, Err: res.err, At: s.now()})
	default:
		s.deps.Sink.Notify(feedback.Event{Kind: feedback.KindSubmitFailed, VIN: res.vin, Outcome: vin.OutcomePermanentError, Err: res.err, At: s.now()})
	}
}
