// Package worker reconciles advisory attendance counters from queued events.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"qrattend/internal/log"
	"qrattend/internal/metrics"
	"qrattend/internal/queue"
)

// Rebuilder recomputes one subject's counters from its records.
type Rebuilder interface {
	RebuildCounters(ctx context.Context, subject string) error
}

// Worker consumes TypeAttendanceRecorded messages and rebuilds counters,
// coalescing bursts for the same subject.
type Worker struct {
	queue    queue.Queue
	ledger   Rebuilder
	debounce time.Duration
	logger   zerolog.Logger
}

// New creates a worker. A debounce of zero rebuilds on every message.
func New(q queue.Queue, ledger Rebuilder, debounce time.Duration) *Worker {
	return &Worker{queue: q, ledger: ledger, debounce: debounce, logger: log.WithComponent("worker")}
}

// Run blocks until ctx is done or the queue closes.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.queue.Consume(ctx)
	if err != nil {
		return err
	}
	w.logger.Info().Msg("worker started, waiting for messages")

	pending := map[string]bool{}
	var flush <-chan time.Time
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				w.rebuildAll(ctx, pending)
				w.logger.Info().Msg("worker stopped")
				return nil
			}
			subject, ok := w.subjectOf(msg)
			if !ok {
				continue
			}
			if w.debounce <= 0 {
				w.rebuild(ctx, subject)
				continue
			}
			pending[subject] = true
			if flush == nil {
				flush = time.After(w.debounce)
			}
		case <-flush:
			flush = nil
			w.rebuildAll(ctx, pending)
		case <-ctx.Done():
			w.logger.Info().Msg("worker stopped")
			return nil
		}
	}
}

func (w *Worker) subjectOf(msg queue.Message) (string, bool) {
	if msg.Type != queue.TypeAttendanceRecorded {
		w.logger.Debug().Str("type", msg.Type).Msg("ignoring message")
		return "", false
	}
	var body queue.Recorded
	if err := json.Unmarshal(msg.Body, &body); err != nil || body.Subject == "" {
		w.logger.Warn().Err(err).Msg("malformed attendance event")
		return "", false
	}
	return body.Subject, true
}

func (w *Worker) rebuildAll(ctx context.Context, pending map[string]bool) {
	for subject := range pending {
		w.rebuild(ctx, subject)
		delete(pending, subject)
	}
}

func (w *Worker) rebuild(ctx context.Context, subject string) {
	if err := w.ledger.RebuildCounters(ctx, subject); err != nil {
		metrics.CounterRebuilds.WithLabelValues("error").Inc()
		w.logger.Error().Err(err).Str("subject", subject).Msg("counter rebuild failed")
		return
	}
	metrics.CounterRebuilds.WithLabelValues("ok").Inc()
	w.logger.Debug().Str("subject", subject).Msg("counters rebuilt")
}
