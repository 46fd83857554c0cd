package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/audiolibrelab/disconium/internal/controller"
	"github.com/audiolibrelab/disconium/internal/result"
)

// userError replaces err with the message shown to listeners.
func userError(err error) error {
	_, _, message := controller.Describe(err)
	return errors.New(message)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTrack(track *result.NormalizedTrack) {
	fmt.Printf("🎵 %s\n", track.Title)
	fmt.Printf("   by %s\n", track.Artists)
	if track.Album != "" {
		fmt.Printf("   album: %s\n", track.Album)
	}
	fmt.Printf("   score: %.0f (%s)\n", track.Score, track.Source)

	links := []struct {
		name string
		url  *string
	}{
		{"Spotify", track.Links.Spotify},
		{"Apple Music", track.Links.AppleMusic},
		{"YouTube", track.Links.YouTube},
	}
	for _, l := range links {
		if l.url != nil {
			fmt.Printf("   %-12s %s\n", l.name+":", *l.url)
		}
	}
}

// printSnapshot reports a settled attempt and returns an error for ERROR.
// A miss is reported but does not fail the command.
func printSnapshot(snap controller.Snapshot) error {
	if jsonOutput {
		if err := printJSON(snap); err != nil {
			return err
		}
	} else if snap.Track != nil {
		printTrack(snap.Track)
	} else if snap.ErrorKind == controller.KindNoMatch {
		fmt.Println("🔇 " + snap.Message)
	}

	if snap.State == controller.StateError && snap.ErrorKind != controller.KindNoMatch {
		return errors.New(snap.Message)
	}
	return nil
}
