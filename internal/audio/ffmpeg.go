package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

const (
	// startupGrace is how long ffmpeg must survive before the device counts as acquired.
	startupGrace = 300 * time.Millisecond
	stopTimeout  = 5 * time.Second
)

// FFmpegMicrophone captures from a local input device through an ffmpeg
// subprocess writing the encoded stream to its stdout.
type FFmpegMicrophone struct {
	binary    string
	inputArgs []string

	probeOnce sync.Once
	encoders  map[string]bool
	probe     func() (string, error)
}

// NewFFmpegMicrophone parses input (shell syntax, e.g. "-f pulse -i default")
// into the ffmpeg input arguments.
func NewFFmpegMicrophone(binary, input string) (*FFmpegMicrophone, error) {
	if binary == "" {
		binary = "ffmpeg"
	}
	parser := shellwords.NewParser()
	args, err := parser.Parse(input)
	if err != nil {
		return nil, fmt.Errorf("parse recorder input: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("recorder input is empty")
	}

	m := &FFmpegMicrophone{binary: binary, inputArgs: args}
	m.probe = func() (string, error) {
		out, err := exec.Command(binary, "-hide_banner", "-encoders").Output()
		return string(out), err
	}
	return m, nil
}

// Name returns the device part of the input arguments.
func (m *FFmpegMicrophone) Name() string {
	for i, arg := range m.inputArgs {
		if arg == "-i" && i+1 < len(m.inputArgs) {
			return m.inputArgs[i+1]
		}
	}
	return strings.Join(m.inputArgs, " ")
}

// Supports reports whether the local ffmpeg build has the encoder for f.
func (m *FFmpegMicrophone) Supports(f Format) bool {
	m.probeOnce.Do(func() {
		out, err := m.probe()
		if err != nil {
			slog.Warn("Could not list ffmpeg encoders", "error", err)
		}
		m.encoders = parseEncoders(out)
	})
	return m.encoders[f.Codec]
}

// parseEncoders extracts encoder names from "ffmpeg -encoders" output.
func parseEncoders(out string) map[string]bool {
	encoders := make(map[string]bool)
	listing := false
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "------") {
			listing = true
			continue
		}
		if !listing || line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 && strings.HasPrefix(fields[0], "A") {
			encoders[fields[1]] = true
		}
	}
	return encoders
}

// buildArgs assembles the ffmpeg command line for one capture.
// ffmpeg applies no echo cancellation, noise suppression or gain control
// unless filters ask for it, so the constraints need no extra flags.
func (m *FFmpegMicrophone) buildArgs(c Constraints, f Format) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	args = append(args, m.inputArgs...)
	args = append(args,
		"-ac", strconv.Itoa(c.Channels),
		"-ar", strconv.Itoa(c.SampleRate),
		"-c:a", f.Codec,
	)
	if !f.Raw && c.Bitrate > 0 {
		args = append(args, "-b:a", strconv.Itoa(c.Bitrate))
	}
	args = append(args, f.MuxArgs...)
	args = append(args, "-f", f.Container, "pipe:1")
	return args
}

// Open starts ffmpeg and returns its encoded output. The returned stream stops
// ffmpeg when closed.
func (m *FFmpegMicrophone) Open(ctx context.Context, c Constraints, f Format) (io.ReadCloser, error) {
	args := m.buildArgs(c, f)
	slog.Debug("Starting FFmpeg capture", "command", m.binary+" "+strings.Join(args, " "))

	cmd := exec.Command(m.binary, args...)
	pr, pw := io.Pipe()
	stderr := &bytes.Buffer{}
	cmd.Stdout = pw
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, &PermissionError{Device: m.Name(), Err: fmt.Errorf("failed to start FFmpeg: %w", err)}
	}

	exited := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		exited <- err
	}()

	select {
	case err := <-exited:
		pr.Close()
		msg := strings.TrimSpace(stderr.String())
		if msg == "" && err != nil {
			msg = err.Error()
		}
		return nil, &PermissionError{Device: m.Name(), Err: fmt.Errorf("FFmpeg exited during startup: %s", msg)}
	case <-ctx.Done():
		cmd.Process.Kill()
		<-exited
		pr.Close()
		return nil, ctx.Err()
	case <-time.After(startupGrace):
	}

	return &ffmpegStream{cmd: cmd, reader: pr, exited: exited, stderr: stderr}, nil
}

type ffmpegStream struct {
	cmd    *exec.Cmd
	reader *io.PipeReader
	exited chan error
	stderr *bytes.Buffer

	closeOnce sync.Once
	closeErr  error
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

// Close sends SIGINT so ffmpeg finalises the container, then waits for it to
// exit. The reader keeps draining stdout meanwhile.
func (s *ffmpegStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.stop()
	})
	return s.closeErr
}

func (s *ffmpegStream) stop() error {
	slog.Debug("Sending SIGINT to FFmpeg process")
	if err := s.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.Debug("Falling back to SIGKILL", "error", err)
		s.cmd.Process.Kill()
	}

	select {
	case err := <-s.exited:
		return interpretExit(err, s.stderr.String())
	case <-time.After(stopTimeout):
		slog.Warn("FFmpeg did not exit within timeout, force killing")
		s.cmd.Process.Kill()
		<-s.exited
		return nil
	}
}

// interpretExit treats the exit statuses ffmpeg uses after an interrupt as success.
func interpretExit(err error, stderr string) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == 255 {
			return nil
		}
		if exitErr.ProcessState != nil {
			state := exitErr.ProcessState.String()
			if state == "signal: interrupt" || state == "signal: killed" {
				return nil
			}
		}
	}
	if msg := strings.TrimSpace(stderr); msg != "" {
		return fmt.Errorf("FFmpeg process failed: %w: %s", err, msg)
	}
	return fmt.Errorf("FFmpeg process failed: %w", err)
}
