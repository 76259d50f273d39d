// Package observe provides application-wide observability primitives for
// Mynah: OpenTelemetry metrics, distributed tracing, and HTTP middleware for
// the ops server.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Mynah metrics.
const meterName = "github.com/mynah-ai/mynah"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// AgentResponseDelay tracks the headline latency: egress start minus
	// VAD end-of-speech, per turn.
	AgentResponseDelay metric.Float64Histogram

	// STTDuration tracks speech-to-text latency from first audio to final
	// transcript.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM streaming duration per turn.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis duration per turn.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// TurnsStarted counts turns dispatched to generation per agent.
	TurnsStarted metric.Int64Counter

	// TurnsCompleted counts turns that reached bot_responding_end.
	TurnsCompleted metric.Int64Counter

	// TurnsInterrupted counts turns ended by barge-in.
	TurnsInterrupted metric.Int64Counter

	// FramesDropped counts audio frames dropped on STT-audio queue overflow.
	FramesDropped metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks ops-server request processing time. Use
	// with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.AgentResponseDelay, err = m.Float64Histogram("mynah.turn.agent_response_delay",
		metric.WithDescription("User-perceived response delay: egress start minus VAD end-of-speech."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("mynah.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("mynah.llm.duration",
		metric.WithDescription("Duration of LLM streaming per turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("mynah.tts.duration",
		metric.WithDescription("Duration of text-to-speech synthesis per turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TurnsStarted, err = m.Int64Counter("mynah.turn.started",
		metric.WithDescription("Total turns dispatched to generation by agent."),
	); err != nil {
		return nil, err
	}
	if met.TurnsCompleted, err = m.Int64Counter("mynah.turn.completed",
		metric.WithDescription("Total turns that finished with bot_responding_end."),
	); err != nil {
		return nil, err
	}
	if met.TurnsInterrupted, err = m.Int64Counter("mynah.turn.interrupted",
		metric.WithDescription("Total turns ended by barge-in."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("mynah.ingress.frames_dropped",
		metric.WithDescription("Audio frames dropped on STT-audio queue overflow."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("mynah.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("mynah.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("mynah.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTurnStarted records a turn dispatch for the given agent.
func (m *Metrics) RecordTurnStarted(ctx context.Context, agentID string) {
	m.TurnsStarted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("agent_id", agentID)),
	)
}

// RecordTurnCompleted records a completed turn and its response delay.
func (m *Metrics) RecordTurnCompleted(ctx context.Context, agentID string, responseDelay time.Duration) {
	attrs := metric.WithAttributes(attribute.String("agent_id", agentID))
	m.TurnsCompleted.Add(ctx, 1, attrs)
	if responseDelay > 0 {
		m.AgentResponseDelay.Record(ctx, responseDelay.Seconds(), attrs)
	}
}

// RecordTurnInterrupted records a barge-in.
func (m *Metrics) RecordTurnInterrupted(ctx context.Context, agentID string) {
	m.TurnsInterrupted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("agent_id", agentID)),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
