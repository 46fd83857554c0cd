package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/audiolibrelab/disconium/internal/acrcloud"
	"github.com/audiolibrelab/disconium/internal/audio"
	"github.com/audiolibrelab/disconium/internal/bus"
	"github.com/audiolibrelab/disconium/internal/config"
	"github.com/audiolibrelab/disconium/internal/controller"
	"github.com/audiolibrelab/disconium/internal/history"
	"github.com/audiolibrelab/disconium/internal/natsserver"
	"github.com/audiolibrelab/disconium/internal/recognition"
	"github.com/audiolibrelab/disconium/internal/result"
)

// Options replaces the devices the service would otherwise build from config.
type Options struct {
	Microphone audio.Microphone
	Identifier recognition.Identifier
	Logger     *slog.Logger
}

// Service wires the recorder, recognition client, controller and sinks
// described by one configuration.
type Service struct {
	cfg        *config.Config
	log        *slog.Logger
	mic        audio.Microphone
	recorder   *audio.Recorder
	recognizer *recognition.Client
	controller *controller.Controller
	history    *history.Store
	bus        *bus.Client
	embedded   *natsserver.EmbeddedServer
}

// IdentifyResult is the outcome of identifying a file.
type IdentifyResult struct {
	File    string                  `json:"file"`
	Bytes   int                     `json:"bytes"`
	Outcome recognition.Kind        `json:"outcome"`
	Source  recognition.Source      `json:"source,omitempty"`
	Track   *result.NormalizedTrack `json:"track,omitempty"`
}

// CheckResult is one line of the setup report.
type CheckResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

// New creates a service from cfg. The caller owns Close.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Service, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	mic := opts.Microphone
	if mic == nil {
		ffmpegMic, err := audio.NewFFmpegMicrophone(cfg.Recorder.FFmpeg, cfg.Recorder.Input)
		if err != nil {
			return nil, err
		}
		mic = ffmpegMic
	}

	identifier := opts.Identifier
	if identifier == nil {
		identifier = acrcloud.NewClient(acrcloud.Options{
			Timeout:       cfg.Recognition.Timeout(),
			RatePerSecond: cfg.Recognition.RatePerSecond,
		})
	}

	s := &Service{
		cfg: cfg,
		log: log,
		mic: mic,
		recorder: audio.NewRecorder(mic, audio.Constraints{
			SampleRate: cfg.Recorder.SampleRate,
			Channels:   cfg.Recorder.Channels,
			Bitrate:    cfg.Recorder.Bitrate,
		}),
		recognizer: recognition.NewClient(identifier, recognition.Options{
			Bucket:         cfg.Recognition.Bucket,
			MinSampleBytes: cfg.Recognition.MinSampleBytes,
			MaxSampleBytes: cfg.Recognition.MaxSampleBytes,
		}, log),
	}

	store, err := history.Open(ctx, cfg.History, log)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	s.history = store

	if err := s.connectBus(ctx); err != nil {
		s.Close()
		return nil, err
	}

	discoveries := []controller.DiscoverySink{s.history}
	attempts := []controller.AttemptSink{s.history}
	if s.bus != nil {
		discoveries = append(discoveries, s.bus)
		attempts = append(attempts, s.bus)
	}

	s.controller = controller.New(s.recorder, s.recognizer, controller.Options{
		MaxDuration: cfg.Recorder.MaxDuration(),
		Credentials: cfg.Recognition,
		Discoveries: discoveries,
		Attempts:    attempts,
		Logger:      log,
	})
	return s, nil
}

func (s *Service) connectBus(ctx context.Context) error {
	if !s.cfg.Bus.Enabled {
		return nil
	}
	busCfg := s.cfg.Bus

	es, err := natsserver.Start(busCfg, s.log)
	if err != nil {
		return err
	}
	s.embedded = es
	if es != nil {
		busCfg.Servers = []string{es.ClientURL()}
	}

	client, err := bus.Connect(ctx, busCfg, s.log)
	if err != nil {
		return err
	}
	s.bus = client
	return nil
}

// Controller returns the listening controller.
func (s *Service) Controller() *controller.Controller {
	return s.controller
}

// History returns the discovery log. It is never nil.
func (s *Service) History() *history.Store {
	return s.history
}

// Config returns the configuration the service was built from.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// Ready reports whether every configured collaborator is usable.
func (s *Service) Ready() error {
	if s.cfg.Bus.Enabled && !s.bus.Healthy() {
		return errors.New("message bus is not connected")
	}
	return nil
}

// Identify recognizes an existing audio file instead of a live capture.
func (s *Service) Identify(ctx context.Context, path string) (*IdentifyResult, error) {
	format, ok := audio.FormatForExtension(filepath.Ext(path))
	if !ok {
		return nil, fmt.Errorf("unsupported audio file %q (want .webm, .m4a, .mp4 or .wav)", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}

	creds, err := s.cfg.Recognition.Credentials(ctx)
	if err != nil {
		return nil, err
	}

	sample := &audio.Sample{
		Data:       data,
		MIMEType:   format.MIMEType,
		CapturedAt: time.Now(),
	}
	s.log.Debug("Identifying file", "file", path, "bytes", len(data), "format", format.MIMEType)

	outcome, err := s.recognizer.Recognize(ctx, sample, creds)
	if err != nil {
		return nil, err
	}
	track, err := result.Format(outcome)
	if err != nil {
		return nil, err
	}
	return &IdentifyResult{
		File:    path,
		Bytes:   len(data),
		Outcome: outcome.Kind,
		Source:  outcome.Source,
		Track:   track,
	}, nil
}

// Check validates the setup without contacting the provider.
func (s *Service) Check(ctx context.Context) []CheckResult {
	var results []CheckResult

	creds, err := s.cfg.Recognition.Credentials(ctx)
	if err == nil {
		err = creds.Validate()
	}
	if err != nil {
		results = append(results, CheckResult{Name: "credentials", Detail: err.Error()})
	} else {
		results = append(results, CheckResult{Name: "credentials", OK: true,
			Detail: fmt.Sprintf("key %s on %s", recognition.MaskKey(creds.AccessKey), creds.Host)})
	}

	if s.cfg.Recognition.Bucket != "" {
		results = append(results, CheckResult{Name: "bucket", OK: true, Detail: s.cfg.Recognition.Bucket + ", then general database"})
	} else {
		results = append(results, CheckResult{Name: "bucket", OK: true, Detail: "none, general database only"})
	}

	if format, err := audio.SelectFormat(s.mic.Supports); err != nil {
		results = append(results, CheckResult{Name: "microphone", Detail: fmt.Sprintf("%s: %v", s.mic.Name(), err)})
	} else {
		results = append(results, CheckResult{Name: "microphone", OK: true, Detail: fmt.Sprintf("%s as %s", s.mic.Name(), format.MIMEType)})
	}

	if s.history.Enabled() {
		results = append(results, CheckResult{Name: "history", OK: true, Detail: s.cfg.History.Path})
	} else {
		results = append(results, CheckResult{Name: "history", OK: true, Detail: "disabled"})
	}

	if s.cfg.Bus.Enabled {
		results = append(results, CheckResult{Name: "bus", OK: s.bus.Healthy(), Detail: s.bus.Conn().ConnectedUrl()})
	}
	return results
}

// Close releases the bus, the embedded server and the history database.
func (s *Service) Close() {
	if s.bus != nil {
		s.bus.Close()
	}
	s.embedded.Shutdown()
	if err := s.history.Close(); err != nil {
		s.log.Warn("Failed to close history", "error", err)
	}
}
