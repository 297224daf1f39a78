package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "agentwire"

// Metrics holds the engine's metric instruments.
type Metrics struct {
	RunsStarted     metric.Int64Counter
	RunsCompleted   metric.Int64Counter
	RunsPaused      metric.Int64Counter
	RunsCancelled   metric.Int64Counter
	RunsFailed      metric.Int64Counter
	EventsProcessed metric.Int64Counter
	ParseFailures   metric.Int64Counter
	RunDuration     metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RunsStarted, err = meter.Int64Counter("agentwire.runs.started",
		metric.WithDescription("Number of runs started"))
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("agentwire.runs.completed",
		metric.WithDescription("Number of runs completed"))
	if err != nil {
		return nil, err
	}

	m.RunsPaused, err = meter.Int64Counter("agentwire.runs.paused",
		metric.WithDescription("Number of runs suspended for approval"))
	if err != nil {
		return nil, err
	}

	m.RunsCancelled, err = meter.Int64Counter("agentwire.runs.cancelled",
		metric.WithDescription("Number of runs cancelled by the user"))
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("agentwire.runs.failed",
		metric.WithDescription("Number of runs failed"))
	if err != nil {
		return nil, err
	}

	m.EventsProcessed, err = meter.Int64Counter("agentwire.events.processed",
		metric.WithDescription("Number of stream events applied to a timeline"))
	if err != nil {
		return nil, err
	}

	m.ParseFailures, err = meter.Int64Counter("agentwire.stream.parse_failures",
		metric.WithDescription("Number of malformed stream frames"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("agentwire.run.duration_seconds",
		metric.WithDescription("Run duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
