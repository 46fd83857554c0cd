package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Format describes an encoded capture format and how ffmpeg produces it.
type Format struct {
	MIMEType  string   `json:"mime_type"`
	Container string   `json:"container"` // ffmpeg muxer
	Codec     string   `json:"codec"`     // ffmpeg encoder
	Extension string   `json:"extension"`
	MuxArgs   []string `json:"-"`
	// Raw formats carry headerless PCM on the wire and are wrapped after capture.
	Raw bool `json:"raw"`
}

var (
	FormatWebMOpus = Format{MIMEType: "audio/webm;codecs=opus", Container: "webm", Codec: "libopus", Extension: ".webm"}
	FormatMP4      = Format{MIMEType: "audio/mp4", Container: "mp4", Codec: "aac", Extension: ".m4a",
		MuxArgs: []string{"-movflags", "frag_keyframe+empty_moov"}}
	FormatWAV = Format{MIMEType: "audio/wav", Container: "s16le", Codec: "pcm_s16le", Extension: ".wav", Raw: true}
)

// PreferredFormats is the order in which capture formats are tried.
var PreferredFormats = []Format{FormatWebMOpus, FormatMP4, FormatWAV}

// ErrNoSupportedFormat is returned when the device supports none of PreferredFormats.
var ErrNoSupportedFormat = errors.New("no supported capture format")

// SelectFormat returns the first preferred format the device supports.
func SelectFormat(supports func(Format) bool) (Format, error) {
	for _, f := range PreferredFormats {
		if supports(f) {
			return f, nil
		}
	}
	return Format{}, ErrNoSupportedFormat
}

// FormatForMIME maps a MIME type, with or without parameters, to a known format.
func FormatForMIME(mimeType string) (Format, bool) {
	for _, f := range PreferredFormats {
		if f.MIMEType == mimeType {
			return f, true
		}
	}
	for _, f := range PreferredFormats {
		if baseMIME(f.MIMEType) == baseMIME(mimeType) {
			return f, true
		}
	}
	return Format{}, false
}

// FormatForExtension maps a file extension such as ".webm" to a known format.
// ".mp4" is accepted as an alias of ".m4a".
func FormatForExtension(ext string) (Format, bool) {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if ext == ".mp4" {
		ext = FormatMP4.Extension
	}
	for _, f := range PreferredFormats {
		if f.Extension == ext {
			return f, true
		}
	}
	return Format{}, false
}

func baseMIME(m string) string {
	base, _, _ := strings.Cut(m, ";")
	return strings.TrimSpace(base)
}

// Constraints are the capture settings requested from the device. Processing
// that alters the signal stays off so the fingerprint sees the raw room sound.
type Constraints struct {
	SampleRate       int
	Channels         int
	Bitrate          int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultConstraints returns mono 44.1 kHz at 128 kbps with all processing off.
func DefaultConstraints() Constraints {
	return Constraints{SampleRate: 44100, Channels: 1, Bitrate: 128000}
}

// Microphone is an audio input device that yields an encoded byte stream.
// Closing the stream releases the device.
type Microphone interface {
	Supports(f Format) bool
	Open(ctx context.Context, c Constraints, f Format) (io.ReadCloser, error)
	Name() string
}

// PermissionError reports that the input device could not be opened.
type PermissionError struct {
	Device string
	Err    error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("microphone %q unavailable: %v", e.Device, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }
