// Package worker provides async transaction scoring from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/corridorsec/harrier/internal/domain"
	"github.com/corridorsec/harrier/internal/history"
	"github.com/corridorsec/harrier/internal/scoring"
)

// Worker consumes ingested transactions from the EventBus, scores them and
// persists the results. It also advances the sender velocity counters that
// the feature extractor reads.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	engine   *scoring.Engine
	velocity *history.VelocityCounter
	sink     domain.MonitoringSink

	window time.Duration

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// New creates an async scoring worker. velocity and sink may be nil.
func New(bus domain.EventBus, repo domain.Repository, engine *scoring.Engine, velocity *history.VelocityCounter, sink domain.MonitoringSink) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		repo:     repo,
		engine:   engine,
		velocity: velocity,
		sink:     sink,
		window:   24 * time.Hour,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the ingestion topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("scoring worker started", "topic", domain.TopicTransactionIngested)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	w.wg.Add(1)
	defer w.wg.Done()

	start := time.Now()

	var tx domain.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Count this transaction toward the sender's trailing window before
	// scoring so the velocity signal sees it.
	if w.velocity != nil {
		if err := w.velocity.Observe(ctx, tx.SenderID, w.window); err != nil {
			slog.Warn("failed to advance velocity counter",
				"sender", tx.SenderID,
				"error", err,
			)
		}
	}

	result, err := w.engine.Score(ctx, &tx)
	if err != nil {
		slog.Error("async scoring failed",
			"tx_id", tx.ID,
			"error", err,
		)
		return err
	}

	if w.repo != nil {
		if err := w.repo.SaveResult(ctx, result); err != nil {
			slog.Error("failed to save score result",
				"tx_id", tx.ID,
				"error", err,
			)
		}
	}

	if w.sink != nil {
		w.sink.Record(ctx, &domain.DecisionRecord{
			ResultID:  result.ID,
			TxID:      result.TxID,
			Corridor:  result.Corridor,
			Decision:  result.Decision,
			Score:     result.FinalScore,
			Features:  result.Features.AsMap(),
			Weights:   result.Weights.AsMap(),
			Degraded:  result.Degraded,
			LatencyMs: result.Metadata.TotalMs,
			Timestamp: result.Timestamp,
		})
	}

	slog.Info("transaction scored",
		"tx_id", tx.ID,
		"corridor", tx.Corridor,
		"decision", result.Decision,
		"score", result.FinalScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("scoring worker stopped")
	return nil
}
