// Package result turns provider responses into the track shape shown to users.
package result

import (
	"fmt"
	"strings"

	"github.com/audiolibrelab/disconium/internal/acrcloud"
	"github.com/audiolibrelab/disconium/internal/recognition"
)

const (
	spotifyTrackURL = "https://open.spotify.com/track/"
	appleMusicURL   = "https://music.apple.com/song/"
	youtubeWatchURL = "https://www.youtube.com/watch?v="
)

// NormalizedTrack is an immutable view of a match. For every platform,
// AvailableOn is true exactly when the matching link is set.
type NormalizedTrack struct {
	Title        string       `json:"title"`
	Artists      string       `json:"artists"`
	Album        string       `json:"album,omitempty"`
	Score        float64      `json:"score"`
	PlayOffsetMs int          `json:"playOffset"`
	Source       string       `json:"source"`
	AvailableOn  Availability `json:"availableOn"`
	Links        Links        `json:"links"`
}

type Availability struct {
	Spotify    bool `json:"spotify"`
	AppleMusic bool `json:"appleMusic"`
	YouTube    bool `json:"youtube"`
}

type Links struct {
	Spotify    *string `json:"spotify"`
	AppleMusic *string `json:"appleMusic"`
	YouTube    *string `json:"youtube"`
}

// Format returns the track for a match, (nil, nil) for no match and the
// outcome's typed error otherwise.
func Format(outcome *recognition.Outcome) (*NormalizedTrack, error) {
	if outcome == nil {
		return nil, fmt.Errorf("no recognition outcome")
	}
	switch outcome.Kind {
	case recognition.KindNoMatch:
		return nil, nil
	case recognition.KindProviderError, recognition.KindTransportError:
		return nil, outcome.Err()
	case recognition.KindMatched:
		music := outcome.Response.FirstMusic()
		if music == nil {
			return nil, fmt.Errorf("matched outcome carries no music entry")
		}
		track := FromMusic(music)
		track.Source = string(outcome.Source)
		return track, nil
	}
	return nil, fmt.Errorf("unknown outcome kind %q", outcome.Kind)
}

// FromMusic normalizes one provider entry.
func FromMusic(m *acrcloud.Music) *NormalizedTrack {
	names := make([]string, 0, len(m.Artists))
	for _, a := range m.Artists {
		names = append(names, a.Name)
	}

	track := &NormalizedTrack{
		Title:        m.Title,
		Artists:      strings.Join(names, ", "),
		Score:        m.Score,
		PlayOffsetMs: m.PlayOffsetMs,
	}
	if m.Album != nil {
		track.Album = m.Album.Name
	}

	track.Links.Spotify = link(spotifyTrackURL, m.SpotifyID())
	track.Links.AppleMusic = link(appleMusicURL, m.AppleMusicID())
	track.Links.YouTube = link(youtubeWatchURL, m.YouTubeID())

	track.AvailableOn = Availability{
		Spotify:    track.Links.Spotify != nil,
		AppleMusic: track.Links.AppleMusic != nil,
		YouTube:    track.Links.YouTube != nil,
	}
	return track
}

func link(prefix, id string) *string {
	if id == "" {
		return nil
	}
	u := prefix + id
	return &u
}

// LinkMap returns the set links keyed by platform.
func (t *NormalizedTrack) LinkMap() map[string]string {
	out := map[string]string{}
	if t.Links.Spotify != nil {
		out["spotify"] = *t.Links.Spotify
	}
	if t.Links.AppleMusic != nil {
		out["appleMusic"] = *t.Links.AppleMusic
	}
	if t.Links.YouTube != nil {
		out["youtube"] = *t.Links.YouTube
	}
	return out
}
