package controller

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/audiolibrelab/disconium/internal/acrcloud"
	"github.com/audiolibrelab/disconium/internal/audio"
	"github.com/audiolibrelab/disconium/internal/recognition"
	"github.com/audiolibrelab/disconium/internal/result"
)

// staticMicrophone serves a fixed webm payload.
type staticMicrophone struct {
	mu      sync.Mutex
	payload []byte
	opens   int
}

func (m *staticMicrophone) Name() string { return "test" }

func (m *staticMicrophone) Supports(f audio.Format) bool {
	return f.MIMEType == audio.FormatWebMOpus.MIMEType
}

func (m *staticMicrophone) Open(ctx context.Context, c audio.Constraints, f audio.Format) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	return io.NopCloser(bytes.NewReader(m.payload)), nil
}

func (m *staticMicrophone) openCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

func TestPipeline_BucketMissThenGeneralMatch(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		mu.Lock()
		calls = append(calls, r.FormValue("bucket_name"))
		n := len(calls)
		mu.Unlock()
		if n == 1 {
			io.WriteString(w, `{"status":{"code":1001,"msg":"No result"}}`)
			return
		}
		io.WriteString(w, `{"status":{"code":0,"msg":"Success"},"metadata":{"music":[{"title":"Midnight Echoes","artists":[{"name":"Luna Wave"}],"score":92,"external_metadata":{"spotify":{"track":{"id":"abc123"}}}}]}}`)
	}))
	defer srv.Close()

	mic := &staticMicrophone{payload: make([]byte, 200000)}
	rec := audio.NewRecorder(mic, audio.DefaultConstraints())
	wire := acrcloud.NewClient(acrcloud.Options{BaseURL: srv.URL, Timeout: 5 * time.Second})
	recog := recognition.NewClient(wire, recognition.Options{
		Bucket:         "disconium_music",
		MinSampleBytes: 32 * 1024,
		MaxSampleBytes: 5 * 1024 * 1024,
	}, newLogger())
	sink := &recordingSink{}
	c := newTestController(rec, recog, Options{Discoveries: []DiscoverySink{sink}})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	snap := c.Stop(context.Background())
	if snap.State != StateResult || snap.Track == nil {
		t.Fatalf("Expected RESULT with track, got %+v", snap)
	}
	if snap.Track.Title != "Midnight Echoes" || snap.Track.Artists != "Luna Wave" || snap.Track.Score != 92 {
		t.Errorf("Unexpected track %+v", snap.Track)
	}
	if snap.Track.Source != string(recognition.SourceGeneralDatabase) {
		t.Errorf("Expected general database source, got %q", snap.Track.Source)
	}
	if snap.Track.Links.Spotify == nil || *snap.Track.Links.Spotify != "https://open.spotify.com/track/abc123" {
		t.Errorf("Unexpected spotify link %v", snap.Track.Links.Spotify)
	}
	want := result.Availability{Spotify: true}
	if snap.Track.AvailableOn != want {
		t.Errorf("Expected availability %+v, got %+v", want, snap.Track.AvailableOn)
	}
	if snap.Track.Links.AppleMusic != nil || snap.Track.Links.YouTube != nil {
		t.Errorf("Expected only a spotify link, got %v", snap.Track.LinkMap())
	}
	if snap.Track.Album != "" {
		t.Errorf("Expected no album, got %q", snap.Track.Album)
	}
	if len(calls) != 2 || calls[0] != "disconium_music" || calls[1] != "" {
		t.Errorf("Expected bucket then general, got %q", calls)
	}
	if len(sink.discoveries) != 1 {
		t.Errorf("Expected one discovery, got %d", len(sink.discoveries))
	}
}

func TestPipeline_ShortKeyNeverOpensMicrophone(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	mic := &staticMicrophone{payload: make([]byte, 40000)}
	rec := audio.NewRecorder(mic, audio.DefaultConstraints())
	wire := acrcloud.NewClient(acrcloud.Options{BaseURL: srv.URL})
	recog := recognition.NewClient(wire, recognition.Options{MinSampleBytes: 1}, newLogger())
	creds := recognition.StaticCredentials{AccessKey: "abcde", AccessSecret: validSecret, Host: "h"}
	c := newTestController(rec, recog, Options{Credentials: creds})

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("Expected configuration error")
	}
	snap := c.Snapshot()
	if snap.State != StateError || snap.ErrorKind != KindConfiguration {
		t.Errorf("Expected configuration ERROR, got %+v", snap)
	}
	if mic.openCount() != 0 {
		t.Errorf("Microphone opened %d times", mic.openCount())
	}
	if hits != 0 {
		t.Errorf("Provider contacted %d times", hits)
	}
}

func TestPipeline_UndersizedCaptureIsValidationError(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	mic := &staticMicrophone{payload: make([]byte, 100)}
	rec := audio.NewRecorder(mic, audio.DefaultConstraints())
	wire := acrcloud.NewClient(acrcloud.Options{BaseURL: srv.URL})
	recog := recognition.NewClient(wire, recognition.Options{MinSampleBytes: 32 * 1024}, newLogger())
	c := newTestController(rec, recog, Options{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	snap := c.Stop(context.Background())
	if snap.State != StateError || snap.ErrorKind != KindValidation {
		t.Errorf("Expected validation ERROR, got %+v", snap)
	}
	if hits != 0 {
		t.Errorf("Provider contacted %d times", hits)
	}
}
