package server

import (
	"context"
	"expvar"
	"time"

	"github.com/cecil-the-coder/ai-provider-kit/pkg/metrics"
	"github.com/cecil-the-coder/ai-provider-kit/pkg/types"
)

// Failure kinds, recorded as the error type of a failed stream.
const (
	kindConfig     = "config"
	kindUpstream   = "upstream"
	kindTimeout    = "timeout"
	kindCancelled  = "cancelled"
	kindUnexpected = "unexpected"
	kindSaturated  = "saturated"
)

// metricsProvider names the relay in the collector's provider breakdown.
const metricsProvider = "chatstream"

// processMetrics backs /debug/vars for every server in the process.
var processMetrics = metrics.NewDefaultMetricsCollector()

// streamsActive is the number of replies being written right now. The
// collector only counts finished streams.
var streamsActive = expvar.NewInt("chatstream.streams_active")

func init() {
	expvar.Publish("chatstream", expvar.Func(func() any {
		return processMetrics.GetSnapshot()
	}))
}

// streamMetrics records the lifecycle of each reply stream.
type streamMetrics struct {
	collector *metrics.DefaultMetricsCollector
}

func (m streamMetrics) record(events ...types.MetricEvent) {
	now := time.Now()
	for i := range events {
		events[i].ProviderName = metricsProvider
		events[i].ProviderType = types.ProviderTypeFallback
		events[i].IsStreaming = true
		events[i].Timestamp = now
	}
	// The collector only fails once closed, and this one never is.
	_ = m.collector.RecordEvents(context.Background(), events)
}

func (m streamMetrics) started(requestID string) {
	m.record(
		types.MetricEvent{Type: types.MetricEventRequest, StreamSessionID: requestID},
		types.MetricEvent{Type: types.MetricEventStreamStart, StreamSessionID: requestID},
	)
}

func (m streamMetrics) completed(requestID string, elapsed time.Duration) {
	m.record(
		types.MetricEvent{Type: types.MetricEventSuccess, StreamSessionID: requestID, Latency: elapsed},
		types.MetricEvent{Type: types.MetricEventStreamEnd, StreamSessionID: requestID, Latency: elapsed},
	)
}

// failed records a stream that ended without completing. message is the text
// the client was shown, never the raw error.
func (m streamMetrics) failed(requestID, kind, message string, status int, elapsed time.Duration) {
	eventType := types.MetricEventError
	if kind == kindTimeout {
		eventType = types.MetricEventTimeout
	}
	m.record(
		types.MetricEvent{
			Type:            eventType,
			StreamSessionID: requestID,
			Latency:         elapsed,
			ErrorType:       kind,
			ErrorMessage:    message,
			StatusCode:      status,
		},
		types.MetricEvent{Type: types.MetricEventStreamAbort, StreamSessionID: requestID},
	)
}

// rejected records a request turned away before streaming began.
func (m streamMetrics) rejected(status int) {
	m.record(
		types.MetricEvent{Type: types.MetricEventRequest},
		types.MetricEvent{Type: types.MetricEventRateLimit, ErrorType: kindSaturated, StatusCode: status},
	)
}
