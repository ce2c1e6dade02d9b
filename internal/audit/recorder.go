package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cliniguard/cliniguard/internal/dispatch"
)

// RecorderOptions configures the composite recorder. Backend labels audit
// write metrics; Logger and Metrics may be nil.
type RecorderOptions struct {
	Logger   *slog.Logger
	Sampling SamplingConfig
	Metrics  *Metrics
	Backend  string
}

// Recorder is the dispatch.Recorder the gateway wires in: every outcome goes
// to the durable store, then a sampled echo to the log stream. The store
// write is the authoritative part; echo and metrics never fail a dispatch.
type Recorder struct {
	store   Store
	echo    *Logger
	metrics *Metrics
	backend string
}

// NewRecorder wraps a store with log echo and metrics.
func NewRecorder(store Store, opts RecorderOptions) *Recorder {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backend := opts.Backend
	if backend == "" {
		backend = "memory"
	}
	return &Recorder{
		store:   store,
		echo:    NewLogger(logger, opts.Sampling),
		metrics: opts.Metrics,
		backend: backend,
	}
}

// Record persists the outcome and returns the store receipt.
func (r *Recorder) Record(ctx context.Context, out dispatch.Outcome) (dispatch.Receipt, error) {
	start := time.Now()
	stored, replayed, err := r.store.Append(ctx, FromOutcome(out))
	if r.metrics != nil {
		r.metrics.RecordAuditWrite(r.backend, err == nil, time.Since(start))
	}
	if err != nil {
		return dispatch.Receipt{}, fmt.Errorf("audit append: %w", err)
	}

	receipt := dispatch.Receipt{
		Sequence:   stored.Sequence,
		RecordID:   stored.RecordID,
		RecordedAt: stored.RecordedAt,
		Replayed:   replayed,
	}
	r.echo.LogRecord(ctx, stored, replayed)
	return receipt, nil
}

// Store exposes the underlying backend for query and verification surfaces.
func (r *Recorder) Store() Store { return r.store }
