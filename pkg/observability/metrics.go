package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Metrics holds the planning-domain instruments. All record methods are safe
// on a zero-value receiver, so disabled metrics cost nothing at call sites.
type Metrics struct {
	sessionDuration    metric.Float64Histogram
	sessionsTotal      metric.Int64Counter
	actionRuns         metric.Int64Counter
	actionErrors       metric.Int64Counter
	llmDuration        metric.Float64Histogram
	llmTokens          metric.Int64Counter
	llmErrors          metric.Int64Counter
	toolCalls          metric.Int64Counter
	validationAttempts metric.Int64Counter
}

// InitMetrics wires the otel meter to the default Prometheus registry. The
// exporter registers its collector globally, so promhttp.Handler() serves the
// resulting series.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meter := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	).Meter("nestor")

	m := &Metrics{}

	if m.sessionDuration, err = meter.Float64Histogram(
		"nestor_session_duration_seconds",
		metric.WithDescription("Planning session duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.sessionsTotal, err = meter.Int64Counter(
		"nestor_sessions_total",
		metric.WithDescription("Total planning sessions by outcome"),
	); err != nil {
		return nil, err
	}
	if m.actionRuns, err = meter.Int64Counter(
		"nestor_planner_action_runs_total",
		metric.WithDescription("Total planner action executions"),
	); err != nil {
		return nil, err
	}
	if m.actionErrors, err = meter.Int64Counter(
		"nestor_planner_action_errors_total",
		metric.WithDescription("Total planner action failures"),
	); err != nil {
		return nil, err
	}
	if m.llmDuration, err = meter.Float64Histogram(
		"nestor_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.llmTokens, err = meter.Int64Counter(
		"nestor_llm_tokens_total",
		metric.WithDescription("Total tokens reported by the LLM provider"),
	); err != nil {
		return nil, err
	}
	if m.llmErrors, err = meter.Int64Counter(
		"nestor_llm_errors_total",
		metric.WithDescription("Total failed LLM requests"),
	); err != nil {
		return nil, err
	}
	if m.toolCalls, err = meter.Int64Counter(
		"nestor_tool_calls_total",
		metric.WithDescription("Total tool invocations by the gateway"),
	); err != nil {
		return nil, err
	}
	if m.validationAttempts, err = meter.Int64Counter(
		"nestor_validation_attempts_total",
		metric.WithDescription("Total code validation round-trips"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) RecordSession(ctx context.Context, duration time.Duration, outcome string) {
	if m == nil || m.sessionDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.sessionDuration.Record(ctx, duration.Seconds(), attrs)
	m.sessionsTotal.Add(ctx, 1, attrs)
}

func (m *Metrics) RecordActionRun(ctx context.Context, action string, err error) {
	if m == nil || m.actionRuns == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("action", action))
	m.actionRuns.Add(ctx, 1, attrs)
	if err != nil {
		m.actionErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, tokens int, err error) {
	if m == nil || m.llmDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	if tokens > 0 {
		m.llmTokens.Add(ctx, int64(tokens), attrs)
	}
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordToolCall(ctx context.Context, tool string) {
	if m == nil || m.toolCalls == nil {
		return
	}
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
}

func (m *Metrics) RecordValidationAttempt(ctx context.Context, valid bool) {
	if m == nil || m.validationAttempts == nil {
		return
	}
	m.validationAttempts.Add(ctx, 1, metric.WithAttributes(attribute.Bool("valid", valid)))
}
