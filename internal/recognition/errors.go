package recognition

import "fmt"

// ConfigurationError means the credentials are missing or malformed.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "recognition not configured: " + e.Reason
}

// ValidationError means the sample was rejected before any request was made.
type ValidationError struct {
	Size     int
	Reason   string
	TooLarge bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid sample (%d bytes): %s", e.Size, e.Reason)
}

// NoMatchError means the attempt completed but no tier knew the audio.
type NoMatchError struct {
	Source Source
	Code   int
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no match in %s (code: %d)", e.Source, e.Code)
}

// ProviderError carries a nonzero provider status.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error: %s (code: %d)", e.Message, e.Code)
}

// TransportError covers network failures, timeouts, non-2xx responses and
// undecodable bodies.
type TransportError struct {
	Tier Source
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("recognition request failed (%s): %v", e.Tier, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
