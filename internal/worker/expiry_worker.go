package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Reconciler finalizes attempts whose time has run out. Implemented by service.AttemptService.
type Reconciler interface {
	ReconcileExpired(ctx context.Context) (int, error)
}

// ExpiryWorker periodically auto-submits attempts nobody touched after their deadline.
// Reads already expire attempts lazily; the sweep makes scores appear without a student request.
type ExpiryWorker struct {
	reconciler Reconciler
	interval   time.Duration
	log        zerolog.Logger
}

func NewExpiryWorker(reconciler Reconciler, interval time.Duration, log zerolog.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		reconciler: reconciler,
		interval:   interval,
		log:        log.With().Str("component", "expiry_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop
// ----------------------------------------------------------------

// Start blocks until ctx is cancelled. A non-positive interval disables the sweep
// and Start returns immediately.
func (w *ExpiryWorker) Start(ctx context.Context) {
	if w.interval <= 0 {
		w.log.Info().Msg("ExpiryWorker disabled, relying on lazy expiry")
		return
	}
	w.log.Info().Dur("interval", w.interval).Msg("ExpiryWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. ExpiryWorker stopped")
			return
		case <-ticker.C:
			w.sweepSafe(ctx)
		}
	}
}

// sweepSafe runs one sweep and survives panics so a bad row cannot kill the loop.
func (w *ExpiryWorker) sweepSafe(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Msg("Recovered from panic in sweep")
		}
	}()

	start := time.Now()
	n, err := w.reconciler.ReconcileExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("Expiry sweep failed")
		}
		return
	}
	if n > 0 {
		w.log.Info().
			Int("finalized", n).
			Dur("duration", time.Since(start)).
			Msg("Expired attempts auto-submitted")
	}
}
