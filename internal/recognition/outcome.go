package recognition

import "github.com/audiolibrelab/disconium/internal/acrcloud"

// Kind classifies a completed attempt.
type Kind string

const (
	KindMatched        Kind = "matched"
	KindNoMatch        Kind = "no_match"
	KindProviderError  Kind = "provider_error"
	KindTransportError Kind = "transport_error"
)

// Source names the tier that produced an outcome.
type Source string

const (
	SourcePrivateBucket   Source = "private bucket"
	SourceGeneralDatabase Source = "general database"
)

// Outcome is the single result of one recognition attempt.
type Outcome struct {
	Kind     Kind
	Source   Source
	Response *acrcloud.Response
	Code     int
	Message  string
	Cause    error
}

// Err returns the typed error for the error kinds and nil otherwise.
func (o *Outcome) Err() error {
	if o == nil {
		return nil
	}
	switch o.Kind {
	case KindProviderError:
		return &ProviderError{Code: o.Code, Message: o.Message}
	case KindTransportError:
		return &TransportError{Tier: o.Source, Err: o.Cause}
	}
	return nil
}
