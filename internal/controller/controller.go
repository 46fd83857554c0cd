// Package controller drives one listening attempt at a time from the
// microphone through recognition to a displayable result.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/disconium/internal/audio"
	"github.com/audiolibrelab/disconium/internal/protocol"
	"github.com/audiolibrelab/disconium/internal/recognition"
	"github.com/audiolibrelab/disconium/internal/result"
)

// State is the controller state shown to the user.
type State string

const (
	StateIdle       State = "IDLE"
	StateRecording  State = "RECORDING"
	StateProcessing State = "PROCESSING"
	StateResult     State = "RESULT"
	StateError      State = "ERROR"
)

// ErrBusy is returned by Start while an attempt is recording or processing.
var ErrBusy = errors.New("an attempt is already in progress")

// Recorder is the capture side of an attempt.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() (*audio.Sample, error)
	Clear()
	Status() (audio.Status, *audio.Session)
}

// Recognizer identifies a finished sample.
type Recognizer interface {
	Recognize(ctx context.Context, sample *audio.Sample, creds recognition.Credentials) (*recognition.Outcome, error)
}

// DiscoverySink receives every matched track.
type DiscoverySink interface {
	PublishDiscovery(ctx context.Context, d protocol.Discovery) error
}

// AttemptSink receives every attempt that reached recognition.
type AttemptSink interface {
	RecordAttempt(ctx context.Context, a protocol.AttemptSettled) error
}

// Snapshot is a copy of the controller's visible state.
type Snapshot struct {
	State     State                   `json:"state"`
	Message   string                  `json:"message,omitempty"`
	Track     *result.NormalizedTrack `json:"track,omitempty"`
	Outcome   string                  `json:"outcome,omitempty"`
	ErrorKind string                  `json:"error_kind,omitempty"`
	Code      int                     `json:"code,omitempty"`
	SessionID string                  `json:"session_id,omitempty"`
	StartedAt *time.Time              `json:"started_at,omitempty"`
}

// Busy reports whether an attempt is in flight.
func (s Snapshot) Busy() bool {
	return s.State == StateRecording || s.State == StateProcessing
}

type Options struct {
	// MaxDuration triggers the automatic stop; it is capped at MaxRecording.
	MaxDuration time.Duration
	Credentials recognition.CredentialSource
	Discoveries []DiscoverySink
	Attempts    []AttemptSink
	Logger      *slog.Logger
}

// MaxRecording is the longest a single attempt may listen.
const MaxRecording = 10 * time.Second

type Controller struct {
	recorder    Recorder
	recognizer  Recognizer
	creds       recognition.CredentialSource
	discoveries []DiscoverySink
	attempts    []AttemptSink
	maxDuration time.Duration
	log         *slog.Logger
	clock       func() time.Time

	mutex   sync.Mutex
	snap    Snapshot
	attempt uint64
	active  recognition.Credentials
	timer   *time.Timer
	settled chan struct{}
}

func New(recorder Recorder, recognizer Recognizer, opts Options) *Controller {
	maxDuration := opts.MaxDuration
	if maxDuration <= 0 || maxDuration > MaxRecording {
		maxDuration = MaxRecording
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		recorder:    recorder,
		recognizer:  recognizer,
		creds:       opts.Credentials,
		discoveries: opts.Discoveries,
		attempts:    opts.Attempts,
		maxDuration: maxDuration,
		log:         log,
		clock:       time.Now,
		snap:        Snapshot{State: StateIdle},
	}
}

// Start begins a new attempt. Credentials are checked before the microphone
// is touched; any failure leaves the controller in ERROR.
func (c *Controller) Start(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.snap.Busy() {
		return ErrBusy
	}

	creds, err := c.resolveCredentials(ctx)
	if err != nil {
		c.failLocked(err, nil)
		return err
	}

	c.recorder.Clear()
	c.snap = Snapshot{State: StateIdle}

	if err := c.recorder.Start(ctx); err != nil {
		c.failLocked(err, nil)
		return err
	}

	started := c.clock()
	_, session := c.recorder.Status()
	c.snap = Snapshot{State: StateRecording, Message: "Listening...", StartedAt: &started}
	if session != nil {
		c.snap.SessionID = session.ID
	}
	c.active = creds
	c.settled = make(chan struct{})
	c.attempt++

	// The automatic stop must not inherit a request-scoped context.
	stopCtx := context.WithoutCancel(ctx)
	attempt := c.attempt
	c.timer = time.AfterFunc(c.maxDuration, func() {
		c.autoStop(stopCtx, attempt)
	})

	c.log.Info("Listening started", "session", c.snap.SessionID, "max_duration", c.maxDuration)
	return nil
}

func (c *Controller) resolveCredentials(ctx context.Context) (recognition.Credentials, error) {
	if c.creds == nil {
		return recognition.Credentials{}, &recognition.ConfigurationError{Reason: "no credential source"}
	}
	creds, err := c.creds.Credentials(ctx)
	if err != nil {
		var cfgErr *recognition.ConfigurationError
		if errors.As(err, &cfgErr) {
			return creds, err
		}
		return creds, &recognition.ConfigurationError{Reason: err.Error()}
	}
	if err := creds.Validate(); err != nil {
		return creds, err
	}
	return creds, nil
}

// Stop ends the recording and runs recognition. Only the call that finds the
// controller RECORDING does the work; every other call returns the current
// snapshot untouched. The returned snapshot is the settled state.
func (c *Controller) Stop(ctx context.Context) Snapshot {
	c.mutex.Lock()
	return c.stopLocked(ctx)
}

// autoStop stops attempt only if it is still the one recording. A timer
// that fired while a manual Stop was cancelling it must not end a newer
// attempt early.
func (c *Controller) autoStop(ctx context.Context, attempt uint64) {
	c.mutex.Lock()
	if c.attempt != attempt {
		c.mutex.Unlock()
		c.log.Debug("Ignoring stale auto-stop", "attempt", attempt)
		return
	}
	c.log.Debug("Auto-stop timer fired", "session", c.snap.SessionID)
	c.stopLocked(ctx)
}

// stopLocked is entered with the mutex held and releases it.
func (c *Controller) stopLocked(ctx context.Context) Snapshot {
	if c.snap.State != StateRecording {
		snap := c.snap
		c.mutex.Unlock()
		return snap
	}
	c.snap.State = StateProcessing
	c.snap.Message = "Identifying..."
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	creds := c.active
	c.active = recognition.Credentials{}
	c.mutex.Unlock()

	snap := c.process(ctx, creds)
	c.fanOut(ctx, snap)
	return snap
}

func (c *Controller) process(ctx context.Context, creds recognition.Credentials) Snapshot {
	sample, err := c.recorder.Stop()
	if err != nil {
		return c.settle(err, nil, nil)
	}

	outcome, err := c.recognizer.Recognize(ctx, sample, creds)
	if err != nil {
		return c.settle(err, nil, nil)
	}

	track, err := result.Format(outcome)
	if err != nil {
		return c.settle(err, outcome, nil)
	}
	if track == nil {
		return c.settle(&recognition.NoMatchError{Source: outcome.Source, Code: outcome.Code}, outcome, nil)
	}
	return c.settle(nil, outcome, track)
}

// settle moves PROCESSING to RESULT for a match and to ERROR for anything
// else, then wakes waiters.
func (c *Controller) settle(err error, outcome *recognition.Outcome, track *result.NormalizedTrack) Snapshot {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err != nil {
		c.failLocked(err, outcome)
	} else {
		c.snap.State = StateResult
		c.snap.Track = track
		c.snap.Outcome = string(outcome.Kind)
		c.snap.Code = outcome.Code
		c.snap.Message = "Found: " + track.Title + " by " + track.Artists
		c.log.Info("Attempt settled", "session", c.snap.SessionID, "outcome", c.snap.Outcome)
	}

	if c.settled != nil {
		close(c.settled)
		c.settled = nil
	}
	return c.snap
}

// failLocked records err as the ERROR state. The caller holds the mutex.
func (c *Controller) failLocked(err error, outcome *recognition.Outcome) {
	kind, code, message := Describe(err)
	if kind == KindNoMatch {
		c.log.Info("Attempt settled without a match", "session", c.snap.SessionID, "code", code)
	} else {
		c.log.Error("Attempt failed", "session", c.snap.SessionID, "kind", kind, "code", code, "error", err)
	}

	c.snap.State = StateError
	c.snap.Message = message
	c.snap.ErrorKind = kind
	c.snap.Code = code
	c.snap.Track = nil
	if outcome != nil {
		c.snap.Outcome = string(outcome.Kind)
	}
}

func (c *Controller) fanOut(ctx context.Context, snap Snapshot) {
	settled := protocol.AttemptSettled{
		SessionID: snap.SessionID,
		State:     string(snap.State),
		Outcome:   snap.Outcome,
		Code:      snap.Code,
		Message:   snap.Message,
		SettledAt: c.clock().UTC(),
	}
	for _, sink := range c.attempts {
		if err := sink.RecordAttempt(ctx, settled); err != nil {
			c.log.Warn("Attempt sink failed", "session", snap.SessionID, "error", err)
		}
	}

	if snap.Track == nil {
		return
	}
	discovery := protocol.Discovery{
		SessionID:  snap.SessionID,
		Title:      snap.Track.Title,
		Artists:    snap.Track.Artists,
		Album:      snap.Track.Album,
		Score:      snap.Track.Score,
		Source:     snap.Track.Source,
		Links:      snap.Track.LinkMap(),
		DetectedAt: settled.SettledAt,
	}
	for _, sink := range c.discoveries {
		if err := sink.PublishDiscovery(ctx, discovery); err != nil {
			c.log.Warn("Discovery sink failed", "session", snap.SessionID, "error", err)
		}
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.snap
}

// Wait blocks until the in-flight attempt settles or ctx ends.
func (c *Controller) Wait(ctx context.Context) (Snapshot, error) {
	c.mutex.Lock()
	ch := c.settled
	snap := c.snap
	c.mutex.Unlock()

	if ch == nil || !snap.Busy() {
		return snap, nil
	}
	select {
	case <-ch:
		return c.Snapshot(), nil
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

// Reset returns a settled controller to IDLE and drops the held sample.
func (c *Controller) Reset() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.snap.Busy() {
		return ErrBusy
	}
	c.recorder.Clear()
	c.snap = Snapshot{State: StateIdle}
	return nil
}
