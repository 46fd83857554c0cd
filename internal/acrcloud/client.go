package acrcloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const maxResponseBytes = 1 << 20

// Options configures a Client.
type Options struct {
	// Timeout bounds one identify call, including waiting on the rate limiter.
	Timeout time.Duration
	// RatePerSecond caps outgoing calls; zero or less disables the limit.
	RatePerSecond float64
	HTTPClient    *http.Client
	// BaseURL replaces "https://{host}" when set.
	BaseURL string
}

// Client issues signed identify requests.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
	baseURL    string
	now        func() time.Time
}

// IdentifyRequest is one identify call. Bucket, when set, restricts the
// lookup to that private bucket.
type IdentifyRequest struct {
	Host         string
	AccessKey    string
	AccessSecret string
	Sample       []byte
	MIMEType     string
	Bucket       string
	// Timestamp in unix seconds; zero means now.
	Timestamp int64
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	return &Client{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
		timeout:    opts.Timeout,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		now:        time.Now,
	}
}

// Identify signs and sends req. Any returned error is a transport failure;
// provider status codes are reported in the Response.
func (c *Client) Identify(ctx context.Context, req IdentifyRequest) (*Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	timestamp := req.Timestamp
	if timestamp == 0 {
		timestamp = c.now().Unix()
	}

	body, contentType, err := encodeForm(req, timestamp)
	if err != nil {
		return nil, err
	}

	endpoint := c.endpoint(req.Host)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build identify request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	slog.Debug("Sending identify request",
		"endpoint", endpoint,
		"timestamp", timestamp,
		"sample_bytes", len(req.Sample),
		"bucket", req.Bucket)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("identify request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read identify response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("identify API error: %s: %s", resp.Status, excerpt(raw))
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode identify response: %w", err)
	}

	slog.Debug("Identify response", "code", out.Status.Code, "msg", out.Status.Msg, "matches", len(musicOf(&out)))
	return &out, nil
}

func (c *Client) endpoint(host string) string {
	if c.baseURL != "" {
		return c.baseURL + IdentifyPath
	}
	return "https://" + host + IdentifyPath
}

func encodeForm(req IdentifyRequest, timestamp int64) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="sample"; filename="sample`+extensionFor(req.MIMEType)+`"`)
	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header.Set("Content-Type", mimeType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create sample part: %w", err)
	}
	if _, err := part.Write(req.Sample); err != nil {
		return nil, "", fmt.Errorf("write sample part: %w", err)
	}

	fields := [][2]string{
		{"access_key", req.AccessKey},
		{"data_type", DataType},
		{"signature_version", SignatureVersion},
		{"signature", Sign(req.AccessSecret, req.AccessKey, timestamp)},
		{"timestamp", strconv.FormatInt(timestamp, 10)},
		{"sample_bytes", strconv.Itoa(len(req.Sample))},
	}
	if req.Bucket != "" {
		fields = append(fields, [2]string{"bucket_name", req.Bucket}, [2]string{"rec_type", DataType})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f[0], err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return buf, w.FormDataContentType(), nil
}

func extensionFor(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	switch strings.TrimSpace(base) {
	case "audio/webm":
		return ".webm"
	case "audio/mp4":
		return ".m4a"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mpeg":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	case "audio/flac":
		return ".flac"
	}
	return ""
}

func musicOf(r *Response) []Music {
	if r.Metadata == nil {
		return nil
	}
	return r.Metadata.Music
}

func excerpt(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
