package acrcloud

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

type capturedRequest struct {
	fields      map[string]string
	sample      []byte
	sampleType  string
	sampleName  string
	contentType string
	path        string
}

func newProvider(t *testing.T, status int, body string) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var captured []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("Failed to parse multipart form: %v", err)
		}
		c := capturedRequest{fields: map[string]string{}, path: r.URL.Path, contentType: r.Header.Get("Content-Type")}
		for k, v := range r.MultipartForm.Value {
			c.fields[k] = v[0]
		}
		if files := r.MultipartForm.File["sample"]; len(files) == 1 {
			f, _ := files[0].Open()
			c.sample, _ = io.ReadAll(f)
			f.Close()
			c.sampleType = files[0].Header.Get("Content-Type")
			c.sampleName = files[0].Filename
		}
		captured = append(captured, c)

		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func TestIdentify_GeneralRequest(t *testing.T) {
	srv, captured := newProvider(t, http.StatusOK, `{"status":{"code":1001,"msg":"No result"}}`)
	client := NewClient(Options{BaseURL: srv.URL, Timeout: 5 * time.Second})

	sample := []byte(strings.Repeat("x", 1234))
	resp, err := client.Identify(context.Background(), IdentifyRequest{
		Host:         "ignored.example",
		AccessKey:    testKey,
		AccessSecret: testSecret,
		Sample:       sample,
		MIMEType:     "audio/webm;codecs=opus",
		Timestamp:    1700000000,
	})
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if resp.Status.Code != CodeNoResult {
		t.Errorf("Expected code 1001, got %d", resp.Status.Code)
	}

	if len(*captured) != 1 {
		t.Fatalf("Expected one request, got %d", len(*captured))
	}
	c := (*captured)[0]
	if c.path != "/v1/identify" {
		t.Errorf("Unexpected path %s", c.path)
	}
	if !strings.HasPrefix(c.contentType, "multipart/form-data") {
		t.Errorf("Expected multipart body, got %s", c.contentType)
	}
	expected := map[string]string{
		"access_key":        testKey,
		"data_type":         "audio",
		"signature_version": "1",
		"signature":         "cpnuWDGJQhIkPv4dMFO36JFUdAI=",
		"timestamp":         "1700000000",
		"sample_bytes":      strconv.Itoa(len(sample)),
	}
	for k, v := range expected {
		if c.fields[k] != v {
			t.Errorf("Field %s = %q, expected %q", k, c.fields[k], v)
		}
	}
	if _, ok := c.fields["bucket_name"]; ok {
		t.Error("General request must not carry bucket_name")
	}
	if _, ok := c.fields["rec_type"]; ok {
		t.Error("General request must not carry rec_type")
	}
	if string(c.sample) != string(sample) {
		t.Error("Sample bytes were not transmitted unchanged")
	}
	if c.sampleType != "audio/webm;codecs=opus" || c.sampleName != "sample.webm" {
		t.Errorf("Unexpected sample part: %s %s", c.sampleType, c.sampleName)
	}
}

func TestIdentify_BucketRequest(t *testing.T) {
	srv, captured := newProvider(t, http.StatusOK, `{"status":{"code":0,"msg":"Success"},"metadata":{"music":[{"title":"A","artists":[{"name":"B"}],"score":80}]}}`)
	client := NewClient(Options{BaseURL: srv.URL})

	resp, err := client.Identify(context.Background(), IdentifyRequest{
		AccessKey: testKey, AccessSecret: testSecret, Sample: []byte("abc"), MIMEType: "audio/wav", Bucket: "disconium_music",
	})
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if !resp.HasMusic() || resp.FirstMusic().Title != "A" {
		t.Errorf("Expected a match, got %+v", resp)
	}

	c := (*captured)[0]
	if c.fields["bucket_name"] != "disconium_music" || c.fields["rec_type"] != "audio" {
		t.Errorf("Expected bucket fields, got %v", c.fields)
	}
	if c.fields["timestamp"] == "" || c.fields["timestamp"] == "0" {
		t.Error("Expected a timestamp when none was given")
	}
}

func TestIdentify_TransportFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, "upstream down"},
		{"unauthorized", http.StatusUnauthorized, "nope"},
		{"not json", http.StatusOK, "<html>oops</html>"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			srv, _ := newProvider(t, test.status, test.body)
			client := NewClient(Options{BaseURL: srv.URL})
			_, err := client.Identify(context.Background(), IdentifyRequest{AccessKey: testKey, AccessSecret: testSecret, Sample: []byte("a")})
			if err == nil {
				t.Fatal("Expected an error")
			}
		})
	}
}

func TestIdentify_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := client.Identify(context.Background(), IdentifyRequest{AccessKey: testKey, AccessSecret: testSecret, Sample: []byte("a")})
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Errorf("Timeout not enforced, took %s", time.Since(start))
	}
}

func TestEndpoint(t *testing.T) {
	c := NewClient(Options{})
	if got := c.endpoint("identify-eu-west-1.acrcloud.com"); got != "https://identify-eu-west-1.acrcloud.com/v1/identify" {
		t.Errorf("Unexpected endpoint %s", got)
	}
}

func TestMusicLinksIDs(t *testing.T) {
	m := Music{ExternalMetadata: &ExternalMetadata{
		Spotify: &TrackRef{Track: &TrackID{ID: "abc123"}},
		YouTube: &VideoRef{Vid: ""},
	}}
	if m.SpotifyID() != "abc123" {
		t.Errorf("Unexpected spotify id %q", m.SpotifyID())
	}
	if m.AppleMusicID() != "" || m.YouTubeID() != "" {
		t.Error("Expected missing identifiers to be empty")
	}
	if (&Music{}).SpotifyID() != "" {
		t.Error("Expected empty id without external metadata")
	}
}
