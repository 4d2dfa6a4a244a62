package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vin-service/internal/capture"
	"vin-service/internal/domain/vin"
	"vin-service/internal/feedback"
	"vin-service/internal/geo"
)

const (
	vinA = "1HGCM82673A123456"
	vinB = "JH4KA7561PC008269"

	waitFor = time.Second
	poll    = 2 * time.Millisecond
)

type fakeSource struct {
	mu       sync.Mutex
	text     string
	calls    int
	openErr  error
	closed   bool
	noFrames bool
}

func (f *fakeSource) Open(context.Context) error { return f.openErr }

func (f *fakeSource) Frame(context.Context) (capture.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.noFrames {
		return capture.Frame{}, capture.ErrNoFrame
	}
	return capture.Frame{Text: f.text}, nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSource) setText(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = text
}

func (f *fakeSource) setNoFrames(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noFrames = v
}

func (f *fakeSource) frameCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSource) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeRecognizer struct {
	mu       sync.Mutex
	calls    int
	failures int
	gate     chan struct{}
}

func (r *fakeRecognizer) Recognize(ctx context.Context, frame capture.Frame) (vin.RecognitionOutput, error) {
	r.mu.Lock()
	r.calls++
	fail := r.calls <= r.failures
	gate := r.gate
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return vin.RecognitionOutput{}, ctx.Err()
		}
	}
	if fail {
		return vin.RecognitionOutput{}, errors.New("camera glare")
	}
	return vin.RecognitionOutput{Text: frame.Text, Kind: "text"}, nil
}

func (r *fakeRecognizer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeSubmitter struct {
	mu       sync.Mutex
	results  []vin.ScanResult
	outcomes []vin.Outcome
	gate     chan struct{}
}

func (s *fakeSubmitter) Submit(_ context.Context, result vin.ScanResult) (vin.Outcome, error) {
	s.mu.Lock()
	s.results = append(s.results, result)
	outcome := vin.OutcomeSaved
	if len(s.outcomes) > 0 {
		outcome = s.outcomes[0]
		s.outcomes = s.outcomes[1:]
	}
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if outcome == vin.OutcomeTransientError {
		return outcome, context.DeadlineExceeded
	}
	return outcome, nil
}

func (s *fakeSubmitter) submitted() []vin.VIN {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]vin.VIN, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, r.VIN)
	}
	return out
}

func (s *fakeSubmitter) last() vin.ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[len(s.results)-1]
}

type fakeUploader struct {
	mu    sync.Mutex
	files map[vin.VIN][]byte
}

func (u *fakeUploader) UploadSnapshot(_ context.Context, v vin.VIN, _ string, data []byte) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.files == nil {
		u.files = make(map[vin.VIN][]byte)
	}
	u.files[v] = data
	return "https://cdn.example/" + v.String(), nil
}

func (u *fakeUploader) uploaded(v vin.VIN) ([]byte, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	data, ok := u.files[v]
	return data, ok
}

type recordingSink struct {
	mu     sync.Mutex
	events []feedback.Event
}

func (r *recordingSink) Notify(event feedback.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) count(kind feedback.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

type manualTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }

func (m *manualTicker) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func (m *manualTicker) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	session    *Session
	source     *fakeSource
	recognizer *fakeRecognizer
	submitter  *fakeSubmitter
	sink       *recordingSink
	ticker     *manualTicker
	clock      *fakeClock
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		source:     &fakeSource{text: "VIN: " + vinA + " !!"},
		recognizer: &fakeRecognizer{},
		submitter:  &fakeSubmitter{},
		sink:       &recordingSink{},
		ticker:     &manualTicker{ch: make(chan time.Time)},
		clock:      &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)},
	}
	if cfg.SubmitTimeout == 0 {
		cfg.SubmitTimeout = time.Second
	}
	h.session = New(cfg, Deps{
		Source:     h.source,
		Recognizer: h.recognizer,
		Submitter:  h.submitter,
		Locator:    geo.Static{Position: vin.Geolocation{Lat: 43.2, Lng: 76.9}},
		Sink:       h.sink,
		Log:        zerolog.Nop(),
	},
		WithTicker(func(time.Duration) Ticker { return h.ticker }),
		WithClock(h.clock.Now),
	)
	t.Cleanup(h.session.Stop)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.session.Start(context.Background()))
	assert.Equal(t, StateCapturing, h.session.State())
}

func (h *harness) tick() {
	h.ticker.ch <- h.clock.Now()
}

// attempt sends one tick and waits until the resulting recognition cycle has
// been fully handled by the loop.
func (h *harness) attempt(t *testing.T) {
	t.Helper()
	before := h.source.frameCalls()
	h.tick()
	require.Eventually(t, func() bool {
		return h.source.frameCalls() == before+1 && h.session.State() != StateBusy
	}, waitFor, poll)
}

func TestSession_SameVINSubmittedOnce(t *testing.T) {
	h := newHarness(t, Config{Material: "metal", SourceIP: "10.0.0.7"})
	h.start(t)

	for i := 0; i < 5; i++ {
		h.attempt(t)
	}

	require.Eventually(t, func() bool { return h.sink.count(feedback.KindSaved) == 1 }, waitFor, poll)
	assert.Equal(t, []vin.VIN{vinA}, h.submitter.submitted())

	result := h.submitter.last()
	require.NotNil(t, result.MaterialOrKind)
	assert.Equal(t, "metal", *result.MaterialOrKind)
	require.NotNil(t, result.SourceIP)
	assert.Equal(t, "10.0.0.7", *result.SourceIP)
	require.NotNil(t, result.Geolocation)
	assert.Equal(t, 43.2, result.Geolocation.Lat)
	assert.Equal(t, "text", result.Recognizer)

	stats := h.session.Stats()
	assert.Equal(t, uint64(5), stats.Attempts)
	assert.Equal(t, uint64(1), stats.Submissions)
	assert.Equal(t, 1, h.sink.count(feedback.KindAccepted))
}

func TestSession_TickWhileBusyIsDropped(t *testing.T) {
	h := newHarness(t, Config{})
	h.recognizer.gate = make(chan struct{})
	h.start(t)

	h.tick()
	require.Eventually(t, func() bool { return h.recognizer.callCount() == 1 }, waitFor, poll)
	assert.Equal(t, StateBusy, h.session.State())

	h.tick()
	h.tick()
	require.Eventually(t, func() bool { return h.session.Stats().DroppedTicks == 2 }, waitFor, poll)

	close(h.recognizer.gate)
	require.Eventually(t, func() bool { return h.session.State() != StateBusy }, waitFor, poll)

	stats := h.session.Stats()
	assert.Equal(t, uint64(3), stats.Ticks)
	assert.Equal(t, uint64(1), stats.Attempts)
	assert.Equal(t, 1, h.recognizer.callCount())
	assert.Equal(t, 1, h.source.frameCalls())
}

func TestSession_CooldownAfterAcceptedVIN(t *testing.T) {
	h := newHarness(t, Config{Cooldown: 3 * time.Second})
	h.start(t)

	h.attempt(t)
	assert.Equal(t, StateCooldown, h.session.State())

	h.source.setText(vinB)
	h.tick()
	require.Eventually(t, func() bool { return h.session.Stats().DroppedTicks == 1 }, waitFor, poll)
	assert.Equal(t, 1, h.source.frameCalls())

	h.clock.Advance(3 * time.Second)
	h.attempt(t)

	require.Eventually(t, func() bool { return len(h.submitter.submitted()) == 2 }, waitFor, poll)
	assert.Equal(t, []vin.VIN{vinA, vinB}, h.submitter.submitted())
}

func TestSession_TransientErrorAllowsResubmission(t *testing.T) {
	h := newHarness(t, Config{})
	h.submitter.outcomes = []vin.Outcome{vin.OutcomeTransientError, vin.OutcomeSaved}
	h.start(t)

	h.attempt(t)
	require.Eventually(t, func() bool { return h.sink.count(feedback.KindSubmitFailed) == 1 }, waitFor, poll)

	h.attempt(t)
	require.Eventually(t, func() bool { return h.sink.count(feedback.KindSaved) == 1 }, waitFor, poll)

	assert.Equal(t, []vin.VIN{vinA, vinA}, h.submitter.submitted())
}

func TestSession_DuplicateIsNotRetried(t *testing.T) {
	h := newHarness(t, Config{})
	h.submitter.outcomes = []vin.Outcome{vin.OutcomeDuplicate}
	h.start(t)

	h.attempt(t)
	require.Eventually(t, func() bool { return h.sink.count(feedback.KindDuplicate) == 1 }, waitFor, poll)
	h.attempt(t)
	h.attempt(t)

	assert.Equal(t, []vin.VIN{vinA}, h.submitter.submitted())
}

func TestSession_PendingVINNotResubmitted(t *testing.T) {
	h := newHarness(t, Config{})
	h.submitter.gate = make(chan struct{})
	h.start(t)

	h.attempt(t)
	h.source.setText(vinB)
	h.attempt(t)
	h.source.setText(vinA)
	h.attempt(t)

	require.Eventually(t, func() bool { return len(h.submitter.submitted()) == 2 }, waitFor, poll)
	assert.Equal(t, 2, h.session.InFlight())

	close(h.submitter.gate)
	require.Eventually(t, func() bool { return h.sink.count(feedback.KindSaved) == 2 }, waitFor, poll)
	assert.Equal(t, []vin.VIN{vinA, vinB}, h.submitter.submitted())
}

func TestSession_UnverifiedCandidateNeverSubmitted(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.setText("VIN 1HGCM82633A123456")
	h.start(t)

	h.attempt(t)
	h.attempt(t)

	assert.Equal(t, uint64(2), h.session.Stats().Unverified)
	assert.Equal(t, 2, h.sink.count(feedback.KindUnverified))
	assert.Empty(t, h.submitter.submitted())
	assert.Equal(t, uint64(0), h.session.Stats().Submissions)
}

func TestSession_NoCandidateIsSilent(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.setText("no plate in view")
	h.start(t)

	h.attempt(t)
	h.source.setNoFrames(true)
	h.attempt(t)

	assert.Empty(t, h.submitter.submitted())
	assert.Equal(t, uint64(0), h.session.Stats().RecognitionFailures)
	assert.Equal(t, 1, h.recognizer.callCount())
}

func TestSession_RecognitionFailureKeepsLoopRunning(t *testing.T) {
	h := newHarness(t, Config{})
	h.recognizer.failures = 1
	h.start(t)

	h.attempt(t)
	assert.Equal(t, uint64(1), h.session.Stats().RecognitionFailures)
	assert.Equal(t, 1, h.sink.count(feedback.KindRecognitionFailed))
	assert.Equal(t, StateCapturing, h.session.State())

	h.attempt(t)
	require.Eventually(t, func() bool { return len(h.submitter.submitted()) == 1 }, waitFor, poll)
}

func TestSession_StopDuringRecognition(t *testing.T) {
	h := newHarness(t, Config{})
	h.recognizer.gate = make(chan struct{})
	h.start(t)

	h.tick()
	require.Eventually(t, func() bool { return h.recognizer.callCount() == 1 }, waitFor, poll)

	stopped := make(chan struct{})
	go func() {
		h.session.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(waitFor):
		t.Fatal("Stop blocked on recognition")
	}

	h.session.Stop()
	assert.Equal(t, StateStopped, h.session.State())
	assert.True(t, h.ticker.isStopped())
	assert.True(t, h.source.isClosed())
	assert.ErrorIs(t, h.session.Start(context.Background()), ErrStopped)
}

func TestSession_StopDiscardsInFlightResults(t *testing.T) {
	h := newHarness(t, Config{})
	h.submitter.gate = make(chan struct{})
	h.start(t)

	h.attempt(t)
	require.Eventually(t, func() bool { return len(h.submitter.submitted()) == 1 }, waitFor, poll)

	h.session.Stop()
	close(h.submitter.gate)

	require.Eventually(t, func() bool { return h.session.InFlight() == 0 }, waitFor, poll)
	assert.Equal(t, 0, h.sink.count(feedback.KindSaved))
}

func TestSession_StartErrors(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.openErr = errors.New("camera offline")
	assert.ErrorContains(t, h.session.Start(context.Background()), "camera offline")
	assert.Equal(t, StateIdle, h.session.State())

	h.source.openErr = nil
	h.start(t)
	assert.ErrorIs(t, h.session.Start(context.Background()), ErrAlreadyStarted)
}

func TestSession_StopBeforeStart(t *testing.T) {
	h := newHarness(t, Config{})
	h.session.Stop()

	assert.Equal(t, StateStopped, h.session.State())
	assert.ErrorIs(t, h.session.Start(context.Background()), ErrStopped)
	select {
	case <-h.session.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestSession_ContextCancelStopsLoop(t *testing.T) {
	h := newHarness(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.session.Start(ctx))

	cancel()
	select {
	case <-h.session.Done():
	case <-time.After(waitFor):
		t.Fatal("loop did not exit on context cancel")
	}
	assert.Equal(t, StateStopped, h.session.State())
}

type imageSource struct {
	fakeSource
}

func (i *imageSource) Frame(ctx context.Context) (capture.Frame, error) {
	frame, err := i.fakeSource.Frame(ctx)
	frame.Image = []byte("\xff\xd8jpeg")
	frame.Name = "gate.jpg"
	return frame, err
}

// imageRecognizer reads the VIN from the frame text even though the frame
// carries an image, standing in for OCR.
type imageRecognizer struct{}

func (imageRecognizer) Recognize(_ context.Context, frame capture.Frame) (vin.RecognitionOutput, error) {
	return vin.RecognitionOutput{Text: frame.Text, Kind: "ocr"}, nil
}

func TestSession_UploadsSnapshotForSavedVIN(t *testing.T) {
	source := &imageSource{fakeSource: fakeSource{text: vinA}}
	submitter := &fakeSubmitter{}
	uploader := &fakeUploader{}
	ticker := &manualTicker{ch: make(chan time.Time)}

	session := New(Config{SubmitTimeout: time.Second}, Deps{
		Source:     source,
		Recognizer: imageRecognizer{},
		Submitter:  submitter,
		Snapshots:  uploader,
		Log:        zerolog.Nop(),
	}, WithTicker(func(time.Duration) Ticker { return ticker }))
	t.Cleanup(session.Stop)
	require.NoError(t, session.Start(context.Background()))

	ticker.ch <- time.Now()
	require.Eventually(t, func() bool {
		_, ok := uploader.uploaded(vinA)
		return ok
	}, waitFor, poll)

	data, _ := uploader.uploaded(vinA)
	assert.Equal(t, []byte("\xff\xd8jpeg"), data)
	assert.Nil(t, submitter.last().Geolocation)
}
