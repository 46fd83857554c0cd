// Package recognition runs the two-tier lookup: the private bucket first,
// then the provider's general database.
package recognition

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/audiolibrelab/disconium/internal/acrcloud"
	"github.com/audiolibrelab/disconium/internal/audio"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/audiolibrelab/disconium/internal/recognition"

// Identifier sends one identify request.
type Identifier interface {
	Identify(ctx context.Context, req acrcloud.IdentifyRequest) (*acrcloud.Response, error)
}

// Options holds the lookup policy.
type Options struct {
	// Bucket is the private catalog queried first; empty skips that tier.
	Bucket         string
	MinSampleBytes int
	MaxSampleBytes int
}

// Client validates attempts and runs the tiered lookup.
type Client struct {
	identifier Identifier
	opts       Options
	log        *slog.Logger
	clock      func() time.Time

	tracer   trace.Tracer
	outcomes metric.Int64Counter
	latency  metric.Float64Histogram
}

func NewClient(identifier Identifier, opts Options, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	meter := otel.Meter(instrumentationName)
	outcomes, err := meter.Int64Counter("disconium.recognition.outcomes",
		metric.WithDescription("Completed recognition attempts by outcome"))
	if err != nil {
		log.Warn("Failed to create outcome counter", "error", err)
	}
	latency, err := meter.Float64Histogram("disconium.recognition.request.duration",
		metric.WithDescription("Identify request latency per tier"),
		metric.WithUnit("s"))
	if err != nil {
		log.Warn("Failed to create latency histogram", "error", err)
	}

	return &Client{
		identifier: identifier,
		opts:       opts,
		log:        log,
		clock:      time.Now,
		tracer:     otel.Tracer(instrumentationName),
		outcomes:   outcomes,
		latency:    latency,
	}
}

// Recognize identifies sample. Invalid credentials or samples fail with
// *ConfigurationError or *ValidationError before any request is sent; every
// other result, including provider and transport failures, is an Outcome.
func (c *Client) Recognize(ctx context.Context, sample *audio.Sample, creds Credentials) (*Outcome, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if err := c.validateSample(sample); err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "recognition.recognize",
		trace.WithAttributes(
			attribute.Int("sample.bytes", sample.Size()),
			attribute.String("sample.mime_type", sample.MIMEType),
		))
	defer span.End()

	outcome := c.lookup(ctx, sample, creds)

	span.SetAttributes(
		attribute.String("recognition.outcome", string(outcome.Kind)),
		attribute.String("recognition.source", string(outcome.Source)),
	)
	if err := outcome.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if c.outcomes != nil {
		c.outcomes.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", string(outcome.Kind)),
			attribute.String("source", string(outcome.Source)),
		))
	}

	c.log.Info("Recognition finished",
		"outcome", outcome.Kind,
		"source", outcome.Source,
		"code", outcome.Code)
	return outcome, nil
}

func (c *Client) lookup(ctx context.Context, sample *audio.Sample, creds Credentials) *Outcome {
	if c.opts.Bucket != "" {
		resp, err := c.identify(ctx, SourcePrivateBucket, sample, creds, c.opts.Bucket)
		if err != nil {
			// Fail closed; the general database is not consulted.
			return &Outcome{Kind: KindTransportError, Source: SourcePrivateBucket, Cause: err}
		}
		if resp.HasMusic() {
			return &Outcome{Kind: KindMatched, Source: SourcePrivateBucket, Response: resp, Code: resp.Status.Code, Message: resp.Status.Msg}
		}
		c.log.Debug("No private bucket match, querying general database",
			"code", resp.Status.Code,
			"msg", resp.Status.Msg)
	}

	resp, err := c.identify(ctx, SourceGeneralDatabase, sample, creds, "")
	if err != nil {
		return &Outcome{Kind: KindTransportError, Source: SourceGeneralDatabase, Cause: err}
	}
	return classify(resp, SourceGeneralDatabase)
}

// identify issues one request with a fresh timestamp and signature.
func (c *Client) identify(ctx context.Context, tier Source, sample *audio.Sample, creds Credentials, bucket string) (*acrcloud.Response, error) {
	ctx, span := c.tracer.Start(ctx, "recognition.identify", trace.WithAttributes(attribute.String("tier", string(tier))))
	defer span.End()

	start := c.clock()
	resp, err := c.identifier.Identify(ctx, acrcloud.IdentifyRequest{
		Host:         creds.Host,
		AccessKey:    creds.AccessKey,
		AccessSecret: creds.AccessSecret,
		Sample:       sample.Data,
		MIMEType:     sample.MIMEType,
		Bucket:       bucket,
		Timestamp:    start.Unix(),
	})
	if c.latency != nil {
		c.latency.Record(ctx, c.clock().Sub(start).Seconds(), metric.WithAttributes(attribute.String("tier", string(tier))))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Warn("Identify request failed", "tier", tier, "error", err)
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("empty identify response")
	}
	span.SetAttributes(attribute.Int("provider.code", resp.Status.Code))
	return resp, nil
}

func classify(resp *acrcloud.Response, source Source) *Outcome {
	out := &Outcome{Source: source, Response: resp, Code: resp.Status.Code, Message: resp.Status.Msg}
	switch {
	case resp.HasMusic():
		out.Kind = KindMatched
	case resp.Status.Code == acrcloud.CodeSuccess, resp.Status.Code == acrcloud.CodeNoResult:
		out.Kind = KindNoMatch
	default:
		out.Kind = KindProviderError
	}
	return out
}

func (c *Client) validateSample(sample *audio.Sample) error {
	if sample == nil {
		return &ValidationError{Reason: "no audio provided"}
	}
	size := sample.Size()
	if size == 0 {
		return &ValidationError{Reason: "no audio captured"}
	}
	if c.opts.MinSampleBytes > 0 && size < c.opts.MinSampleBytes {
		return &ValidationError{Size: size, Reason: fmt.Sprintf("too small, at least %d bytes required", c.opts.MinSampleBytes)}
	}
	if c.opts.MaxSampleBytes > 0 && size > c.opts.MaxSampleBytes {
		return &ValidationError{Size: size, Reason: fmt.Sprintf("too large, at most %d bytes allowed", c.opts.MaxSampleBytes), TooLarge: true}
	}
	return nil
}
