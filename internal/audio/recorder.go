package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of the recorder
type Status string

const (
	StatusIdle      Status = "IDLE"
	StatusRecording Status = "RECORDING"
	StatusStopping  Status = "STOPPING"
)

// ErrAlreadyRecording is returned by Start when a capture is in progress.
var ErrAlreadyRecording = errors.New("recording already in progress")

// Sample is one finished capture. It is never modified after Stop returns it.
type Sample struct {
	Data       []byte        `json:"-"`
	MIMEType   string        `json:"mime_type"`
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
	Duration   time.Duration `json:"duration"`
	CapturedAt time.Time     `json:"captured_at"`
}

// Size is the encoded length in bytes.
func (s *Sample) Size() int {
	if s == nil {
		return 0
	}
	return len(s.Data)
}

// Session describes the capture currently held by the recorder.
type Session struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`
	Format    string    `json:"format"`
	Device    string    `json:"device"`
}

// Recorder captures a single sample at a time from a Microphone.
type Recorder struct {
	mic         Microphone
	constraints Constraints
	clock       func() time.Time

	mutex   sync.Mutex
	status  Status
	session *Session
	format  Format
	stream  io.ReadCloser
	buf     *bytes.Buffer
	done    chan struct{}
	readErr error
	sample  *Sample
}

// NewRecorder creates a recorder for mic using the given constraints.
func NewRecorder(mic Microphone, constraints Constraints) *Recorder {
	return &Recorder{
		mic:         mic,
		constraints: constraints,
		clock:       time.Now,
		status:      StatusIdle,
	}
}

// Start acquires the microphone and begins accumulating encoded audio.
// Any previously held sample is discarded.
func (r *Recorder) Start(ctx context.Context) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.status != StatusIdle {
		return ErrAlreadyRecording
	}
	r.sample = nil

	format, err := SelectFormat(r.mic.Supports)
	if err != nil {
		return &PermissionError{Device: r.mic.Name(), Err: err}
	}

	stream, err := r.mic.Open(ctx, r.constraints, format)
	if err != nil {
		var permErr *PermissionError
		if errors.As(err, &permErr) {
			return err
		}
		return &PermissionError{Device: r.mic.Name(), Err: err}
	}

	r.session = &Session{
		ID:        uuid.NewString(),
		StartTime: r.clock(),
		Format:    format.MIMEType,
		Device:    r.mic.Name(),
	}
	r.format = format
	r.stream = stream
	r.buf = &bytes.Buffer{}
	r.done = make(chan struct{})
	r.readErr = nil
	r.status = StatusRecording

	go r.capture(stream, r.buf, r.done)

	slog.Info("Recording started", "session", r.session.ID, "format", format.MIMEType, "device", r.session.Device)
	return nil
}

// capture drains the stream until the device is released.
func (r *Recorder) capture(stream io.Reader, buf *bytes.Buffer, done chan struct{}) {
	defer close(done)
	_, err := io.Copy(buf, stream)
	if err != nil && !errors.Is(err, io.ErrClosedPipe) {
		r.mutex.Lock()
		r.readErr = err
		r.mutex.Unlock()
	}
}

// Stop releases the microphone and returns the finished sample. Calling Stop
// when nothing is recording, or while another Stop is finishing, returns
// (nil, nil) and releases nothing.
func (r *Recorder) Stop() (*Sample, error) {
	r.mutex.Lock()
	if r.status != StatusRecording {
		r.mutex.Unlock()
		return nil, nil
	}
	r.status = StatusStopping
	stream, done, buf, format, session := r.stream, r.done, r.buf, r.format, r.session
	r.stream = nil
	r.mutex.Unlock()

	slog.Debug("Stopping recording...", "session", session.ID)

	closeErr := stream.Close()
	<-done

	stoppedAt := r.clock()

	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.status = StatusIdle
	r.buf = nil

	if closeErr != nil {
		slog.Warn("Microphone did not close cleanly", "session", session.ID, "error", closeErr)
	}
	if r.readErr != nil {
		return nil, fmt.Errorf("read audio stream: %w", r.readErr)
	}

	data := buf.Bytes()
	mimeType := format.MIMEType
	if format.Raw {
		wrapped, err := wrapPCM(data, r.constraints.SampleRate, r.constraints.Channels)
		if err != nil {
			return nil, fmt.Errorf("wrap pcm capture: %w", err)
		}
		data = wrapped
	}

	r.sample = &Sample{
		Data:       data,
		MIMEType:   mimeType,
		SampleRate: r.constraints.SampleRate,
		Channels:   r.constraints.Channels,
		Duration:   stoppedAt.Sub(session.StartTime),
		CapturedAt: session.StartTime,
	}

	slog.Info("Recording stopped", "session", session.ID, "bytes", len(data), "duration", r.sample.Duration)
	return r.sample, nil
}

// Clear drops the held sample. It does nothing while a capture is active.
func (r *Recorder) Clear() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.status == StatusIdle {
		r.sample = nil
		r.session = nil
	}
}

// Sample returns the most recent finished sample, if any.
func (r *Recorder) Sample() *Sample {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.sample
}

// Status returns the recorder state and the current session.
func (r *Recorder) Status() (Status, *Session) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.session == nil {
		return r.status, nil
	}
	session := *r.session
	return r.status, &session
}
