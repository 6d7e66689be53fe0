package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "orchestra"

// Metrics holds the engine's metric instruments.
type Metrics struct {
	NodesStarted    metric.Int64Counter
	NodesCompleted  metric.Int64Counter
	NodesFailed     metric.Int64Counter
	ChecksEvaluated metric.Int64Counter
	CheckRetries    metric.Int64Counter
	NodeDuration    metric.Float64Histogram
	WaveSize        metric.Int64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.NodesStarted, err = meter.Int64Counter("orchestra.nodes.started",
		metric.WithDescription("Number of node executions started"))
	if err != nil {
		return nil, err
	}

	m.NodesCompleted, err = meter.Int64Counter("orchestra.nodes.completed",
		metric.WithDescription("Number of node executions completed"))
	if err != nil {
		return nil, err
	}

	m.NodesFailed, err = meter.Int64Counter("orchestra.nodes.failed",
		metric.WithDescription("Number of node executions failed"))
	if err != nil {
		return nil, err
	}

	m.ChecksEvaluated, err = meter.Int64Counter("orchestra.checks.evaluated",
		metric.WithDescription("Number of checks evaluated"))
	if err != nil {
		return nil, err
	}

	m.CheckRetries, err = meter.Int64Counter("orchestra.checks.retries",
		metric.WithDescription("Number of automatic check retries"))
	if err != nil {
		return nil, err
	}

	m.NodeDuration, err = meter.Float64Histogram("orchestra.node.duration_seconds",
		metric.WithDescription("Node execution duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.WaveSize, err = meter.Int64Histogram("orchestra.scheduler.wave_size",
		metric.WithDescription("Number of nodes dispatched per scheduler wave"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
