// Copyright 2025 BMAD Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package observability exposes pipeline metrics through OpenTelemetry
// with a Prometheus exporter. When metrics are disabled every recorder
// is a no-op, so callers never branch.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/bmad-labs/bmad/pkg/cis"
	"github.com/bmad-labs/bmad/pkg/config"
	"github.com/bmad-labs/bmad/pkg/pool"
)

// Recorder is the metrics surface consumed by the pipeline.
type Recorder interface {
	RecordInvocation(ctx context.Context, persona string, duration time.Duration, err error)
	RecordCost(ctx context.Context, persona string, usd float64)
	RecordEscalation(ctx context.Context, workflowID, event string)
	RecordDecision(ctx context.Context, source string, confidence float64)
	RecordConsultation(ctx context.Context, category string, err error)
	Handler() http.Handler
}

// Metrics is the Prometheus-backed recorder.
type Metrics struct {
	invocationDuration metric.Float64Histogram
	invocationsTotal   metric.Int64Counter
	invocationErrors   metric.Int64Counter
	costTotal          metric.Float64Counter
	escalationsTotal   metric.Int64Counter
	decisionsTotal     metric.Int64Counter
	decisionConfidence metric.Float64Histogram
	consultationsTotal metric.Int64Counter
	consultationErrors metric.Int64Counter
}

// InitMetrics builds the meter and instruments. Disabled metrics
// return a no-op recorder.
func InitMetrics(cfg config.MetricsConfig) (Recorder, error) {
	if !cfg.Enabled {
		return NoopMetrics{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)).Meter("bmad")

	m := &Metrics{}

	if m.invocationDuration, err = meter.Float64Histogram(
		"bmad_agent_invocation_duration_seconds",
		metric.WithDescription("Agent invocation duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create invocation histogram: %w", err)
	}
	if m.invocationsTotal, err = meter.Int64Counter(
		"bmad_agent_invocations_total",
		metric.WithDescription("Total agent invocations"),
	); err != nil {
		return nil, fmt.Errorf("failed to create invocations counter: %w", err)
	}
	if m.invocationErrors, err = meter.Int64Counter(
		"bmad_agent_invocation_errors_total",
		metric.WithDescription("Total failed agent invocations"),
	); err != nil {
		return nil, fmt.Errorf("failed to create invocation errors counter: %w", err)
	}
	if m.costTotal, err = meter.Float64Counter(
		"bmad_llm_cost_usd_total",
		metric.WithDescription("Cumulative LLM spend in USD"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cost counter: %w", err)
	}
	if m.escalationsTotal, err = meter.Int64Counter(
		"bmad_escalations_total",
		metric.WithDescription("Escalation lifecycle events"),
	); err != nil {
		return nil, fmt.Errorf("failed to create escalations counter: %w", err)
	}
	if m.decisionsTotal, err = meter.Int64Counter(
		"bmad_decisions_total",
		metric.WithDescription("Autonomous decisions by source"),
	); err != nil {
		return nil, fmt.Errorf("failed to create decisions counter: %w", err)
	}
	if m.decisionConfidence, err = meter.Float64Histogram(
		"bmad_decision_confidence",
		metric.WithDescription("Confidence of autonomous decisions"),
	); err != nil {
		return nil, fmt.Errorf("failed to create confidence histogram: %w", err)
	}
	if m.consultationsTotal, err = meter.Int64Counter(
		"bmad_cis_consultations_total",
		metric.WithDescription("CIS persona consultations"),
	); err != nil {
		return nil, fmt.Errorf("failed to create consultations counter: %w", err)
	}
	if m.consultationErrors, err = meter.Int64Counter(
		"bmad_cis_consultation_errors_total",
		metric.WithDescription("Failed CIS persona consultations"),
	); err != nil {
		return nil, fmt.Errorf("failed to create consultation errors counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) RecordInvocation(ctx context.Context, persona string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("persona", persona))
	m.invocationDuration.Record(ctx, duration.Seconds(), attrs)
	m.invocationsTotal.Add(ctx, 1, attrs)
	if err != nil {
		m.invocationErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordCost(ctx context.Context, persona string, usd float64) {
	if usd <= 0 {
		return
	}
	m.costTotal.Add(ctx, usd, metric.WithAttributes(attribute.String("persona", persona)))
}

func (m *Metrics) RecordEscalation(ctx context.Context, workflowID, event string) {
	m.escalationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow", workflowID),
		attribute.String("event", event)))
}

func (m *Metrics) RecordDecision(ctx context.Context, source string, confidence float64) {
	attrs := metric.WithAttributes(attribute.String("source", source))
	m.decisionsTotal.Add(ctx, 1, attrs)
	m.decisionConfidence.Record(ctx, confidence, attrs)
}

func (m *Metrics) RecordConsultation(ctx context.Context, category string, err error) {
	attrs := metric.WithAttributes(attribute.String("category", category))
	m.consultationsTotal.Add(ctx, 1, attrs)
	if err != nil {
		m.consultationErrors.Add(ctx, 1, attrs)
	}
}

// Handler serves the Prometheus scrape endpoint. The otel exporter
// registers with the default prometheus registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// WatchPool consumes agent lifecycle events until the channel closes.
func WatchPool(r Recorder, events <-chan pool.Event) {
	ctx := context.Background()
	for ev := range events {
		switch ev.Kind {
		case pool.EventInvoked:
			r.RecordInvocation(ctx, ev.AgentName, 0, nil)
			r.RecordCost(ctx, ev.AgentName, ev.Cost)
		case pool.EventFailed:
			r.RecordInvocation(ctx, ev.AgentName, 0, ev.Err)
		}
	}
}

// WatchRouter consumes CIS router events until the channel closes.
func WatchRouter(r Recorder, events <-chan cis.Event) {
	ctx := context.Background()
	for ev := range events {
		category, _ := ev.Payload["agent"].(string)
		switch ev.Kind {
		case cis.EventSuccess:
			r.RecordConsultation(ctx, category, nil)
		case cis.EventError:
			r.RecordConsultation(ctx, category, fmt.Errorf("consultation failed"))
		}
	}
}

// NoopMetrics drops every measurement.
type NoopMetrics struct{}

func (NoopMetrics) RecordInvocation(context.Context, string, time.Duration, error) {}
func (NoopMetrics) RecordCost(context.Context, string, float64)                    {}
func (NoopMetrics) RecordEscalation(context.Context, string, string)               {}
func (NoopMetrics) RecordDecision(context.Context, string, float64)                {}
func (NoopMetrics) RecordConsultation(context.Context, string, error)              {}

// Handler answers 503 when metrics are disabled.
func (NoopMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("metrics not enabled"))
	})
}

var (
	_ Recorder = (*Metrics)(nil)
	_ Recorder = NoopMetrics{}
)
