package protocol

import "time"

// Discovery is broadcast once for every matched recognition. The reward
// collaborator credits the listener from it.
type Discovery struct {
	SessionID  string            `json:"session_id"`
	Title      string            `json:"title"`
	Artists    string            `json:"artists"`
	Album      string            `json:"album,omitempty"`
	Score      float64           `json:"score"`
	Source     string            `json:"source"`
	Links      map[string]string `json:"links,omitempty"`
	DetectedAt time.Time         `json:"detected_at"`
}

// AttemptSettled is broadcast when an attempt leaves PROCESSING, whatever its result.
type AttemptSettled struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Outcome   string    `json:"outcome,omitempty"`
	Code      int       `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`
	SettledAt time.Time `json:"settled_at"`
}

const (
	SubjectDiscoveryMatched = "disconium.discovery.matched"
	SubjectAttemptSettled   = "disconium.attempt.settled"
)
