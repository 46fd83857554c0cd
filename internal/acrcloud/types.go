package acrcloud

// Provider status codes with special handling.
const (
	CodeSuccess        = 0
	CodeNoResult       = 1001
	CodeCannotGenerate = 2004 // fingerprint could not be generated from the sample
	CodeInvalidKey     = 3001
	CodeLimitExceeded  = 3003
	CodeInvalidSig     = 3014
	CodeQPSLimit       = 3015
)

// Response is the identify response body.
type Response struct {
	Status   Status    `json:"status"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

type Status struct {
	Msg  string `json:"msg"`
	Code int    `json:"code"`
}

type Metadata struct {
	Music []Music `json:"music,omitempty"`
}

type Music struct {
	Title            string            `json:"title"`
	Artists          []Artist          `json:"artists"`
	Album            *Album            `json:"album,omitempty"`
	ExternalMetadata *ExternalMetadata `json:"external_metadata,omitempty"`
	PlayOffsetMs     int               `json:"play_offset_ms"`
	Score            float64           `json:"score"`
}

type Artist struct {
	Name string `json:"name"`
}

type Album struct {
	Name string `json:"name"`
}

type ExternalMetadata struct {
	Spotify    *TrackRef `json:"spotify,omitempty"`
	AppleMusic *TrackRef `json:"apple_music,omitempty"`
	YouTube    *VideoRef `json:"youtube,omitempty"`
}

type TrackRef struct {
	Track *TrackID `json:"track,omitempty"`
}

type TrackID struct {
	ID string `json:"id"`
}

type VideoRef struct {
	Vid string `json:"vid"`
}

// FirstMusic returns the best-ranked entry, or nil when there is none.
func (r *Response) FirstMusic() *Music {
	if r == nil || r.Metadata == nil || len(r.Metadata.Music) == 0 {
		return nil
	}
	return &r.Metadata.Music[0]
}

// HasMusic reports a successful status carrying at least one entry.
func (r *Response) HasMusic() bool {
	return r != nil && r.Status.Code == CodeSuccess && r.FirstMusic() != nil
}

// SpotifyID returns the Spotify track id or "".
func (m *Music) SpotifyID() string {
	if m.ExternalMetadata == nil || m.ExternalMetadata.Spotify == nil || m.ExternalMetadata.Spotify.Track == nil {
		return ""
	}
	return m.ExternalMetadata.Spotify.Track.ID
}

// AppleMusicID returns the Apple Music track id or "".
func (m *Music) AppleMusicID() string {
	if m.ExternalMetadata == nil || m.ExternalMetadata.AppleMusic == nil || m.ExternalMetadata.AppleMusic.Track == nil {
		return ""
	}
	return m.ExternalMetadata.AppleMusic.Track.ID
}

// YouTubeID returns the YouTube video id or "".
func (m *Music) YouTubeID() string {
	if m.ExternalMetadata == nil || m.ExternalMetadata.YouTube == nil {
		return ""
	}
	return m.ExternalMetadata.YouTube.Vid
}
