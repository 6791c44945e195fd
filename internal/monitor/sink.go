package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/corridorsec/harrier/internal/domain"
)

// PrometheusSink records decisions as Prometheus metrics.
type PrometheusSink struct{}

// NewPrometheusSink creates a metrics-backed sink.
func NewPrometheusSink() *PrometheusSink {
	return &PrometheusSink{}
}

// Record updates the decision counters and histograms.
func (s *PrometheusSink) Record(ctx context.Context, rec *domain.DecisionRecord) {
	decisionsTotal.WithLabelValues(rec.Corridor, rec.Decision).Inc()
	scoreHistogram.WithLabelValues(rec.Corridor).Observe(rec.Score)
	scoringLatency.WithLabelValues(rec.Corridor).Observe(float64(rec.LatencyMs) / 1000.0)
	if rec.Degraded {
		degradedTotal.WithLabelValues(rec.Corridor).Inc()
	}
}

// BusSink publishes decision records to the event bus for external
// consumers. Publishing runs in a goroutine so the scoring path never
// blocks on a slow bus.
type BusSink struct {
	bus domain.EventBus
}

// NewBusSink creates a bus-backed sink.
func NewBusSink(bus domain.EventBus) *BusSink {
	return &BusSink{bus: bus}
}

// Record publishes the decision to the decision topic, and to the alert
// topic for blocked transactions.
func (s *BusSink) Record(ctx context.Context, rec *domain.DecisionRecord) {
	payload, err := json.Marshal(rec)
	if err != nil {
		slog.Error("failed to marshal decision record",
			"result_id", rec.ResultID,
			"error", err,
		)
		return
	}

	go func() {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := s.bus.Publish(pubCtx, domain.TopicDecision, payload); err != nil {
			slog.Warn("failed to publish decision record",
				"result_id", rec.ResultID,
				"error", err,
			)
		}
		if rec.Decision == domain.DecisionBlock {
			if err := s.bus.Publish(pubCtx, domain.TopicAlert, payload); err != nil {
				slog.Warn("failed to publish alert",
					"result_id", rec.ResultID,
					"error", err,
				)
			}
		}
	}()
}

// MultiSink fans a record out to several sinks.
type MultiSink struct {
	sinks []domain.MonitoringSink
}

// NewMultiSink combines sinks; nil entries are skipped.
func NewMultiSink(sinks ...domain.MonitoringSink) *MultiSink {
	var active []domain.MonitoringSink
	for _, s := range sinks {
		if s != nil {
			active = append(active, s)
		}
	}
	return &MultiSink{sinks: active}
}

// Record forwards to every sink.
func (s *MultiSink) Record(ctx context.Context, rec *domain.DecisionRecord) {
	for _, sink := range s.sinks {
		sink.Record(ctx, rec)
	}
}
