package controller

import (
	"errors"
	"fmt"

	"github.com/audiolibrelab/disconium/internal/acrcloud"
	"github.com/audiolibrelab/disconium/internal/audio"
	"github.com/audiolibrelab/disconium/internal/recognition"
)

// Error kinds reported in Snapshot.ErrorKind.
const (
	KindPermission    = "permission"
	KindConfiguration = "configuration"
	KindValidation    = "validation"
	KindNoMatch       = "no_match"
	KindProvider      = "provider"
	KindTransport     = "transport"
	KindInternal      = "internal"
)

const noMatchMessage = "No music match found. Try again closer to the speaker."

// Describe maps a failure to its kind, provider code and user message.
func Describe(err error) (kind string, code int, message string) {
	var (
		permErr  *audio.PermissionError
		cfgErr   *recognition.ConfigurationError
		valErr   *recognition.ValidationError
		noMatch  *recognition.NoMatchError
		provErr  *recognition.ProviderError
		transErr *recognition.TransportError
	)
	switch {
	case errors.As(err, &permErr):
		return KindPermission, 0, "Microphone access denied. Please allow microphone access and try again."
	case errors.As(err, &cfgErr):
		return KindConfiguration, 0, "Music recognition is not configured: " + cfgErr.Reason
	case errors.As(err, &valErr):
		if valErr.TooLarge {
			return KindValidation, 0, "Recording too large to identify. Please record a shorter clip."
		}
		return KindValidation, 0, "Recording too short or empty. Please record for a few more seconds."
	case errors.As(err, &noMatch):
		return KindNoMatch, noMatch.Code, noMatchMessage
	case errors.As(err, &provErr):
		return KindProvider, provErr.Code, providerMessage(provErr)
	case errors.As(err, &transErr):
		return KindTransport, 0, "Could not reach the recognition service. Check your connection and try again."
	}
	return KindInternal, 0, "Recognition failed: " + err.Error()
}

func providerMessage(e *recognition.ProviderError) string {
	switch e.Code {
	case acrcloud.CodeCannotGenerate:
		return "Could not fingerprint the audio. Play the music louder and clearer, then try again."
	case acrcloud.CodeNoResult:
		return noMatchMessage
	case acrcloud.CodeInvalidKey, acrcloud.CodeInvalidSig:
		return "The recognition service rejected the credentials. Check the access key and secret."
	case acrcloud.CodeLimitExceeded, acrcloud.CodeQPSLimit:
		return "Recognition quota reached. Please wait a moment and try again."
	}
	return fmt.Sprintf("Recognition service error: %s (code %d)", e.Message, e.Code)
}
