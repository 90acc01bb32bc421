package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/TymurD/miquella/common/retry"
)

// Upserter is the write side of Index.
type Upserter interface {
	Upsert(ctx context.Context, id, content string, meta Metadata) error
}

// Job is one pending upsert.
type Job struct {
	ID      string
	Content string
	Meta    Metadata
}

// WriterConfig sizes the background writer.
type WriterConfig struct {
	Workers   int
	QueueSize int
	// Timeout bounds a single upsert (embedding call included). Zero means
	// no bound.
	Timeout time.Duration
	// Attempts allows retrying upserts whose embedding call failed. Zero
	// or one means a single attempt; retrying is opt-in.
	Attempts   int
	RetryDelay time.Duration
}

// Writer performs upserts on background goroutines so a slow embedding
// provider never delays message handling. Upserts are idempotent, so the
// order in which workers finish does not matter.
type Writer struct {
	dst     Upserter
	cfg     WriterConfig
	logger  *slog.Logger
	jobs    chan queued
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

type queued struct {
	job   Job
	jobID string
}

// NewWriter starts cfg.Workers goroutines draining a queue of cfg.QueueSize.
func NewWriter(dst Upserter, cfg WriterConfig, logger *slog.Logger) *Writer {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{
		dst:    dst,
		cfg:    cfg,
		logger: logger,
		jobs:   make(chan queued, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		w.wg.Add(1)
		go w.run()
	}
	return w
}

// Enqueue schedules job and returns immediately. It reports false when the
// queue is full or the writer is closed; the job is then dropped.
func (w *Writer) Enqueue(job Job) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}

	q := queued{job: job, jobID: uuid.NewString()}
	select {
	case w.jobs <- q:
		return true
	default:
		w.dropped.Add(1)
		w.logger.Warn("memory writer queue full, dropping upsert", "id", job.ID, "queue", cap(w.jobs))
		return false
	}
}

// Close stops accepting jobs, waits for queued ones to finish and stops the
// workers. It is safe to call more than once.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()

	w.wg.Wait()
}

// Dropped reports how many jobs were rejected because the queue was full.
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

func (w *Writer) run() {
	defer w.wg.Done()
	for q := range w.jobs {
		w.process(q)
	}
}

func (w *Writer) process(q queued) {
	ctx := context.Background()
	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
	}

	policy := retry.Policy{
		Attempts:  w.cfg.Attempts,
		Delay:     w.cfg.RetryDelay,
		Retryable: func(err error) bool { return errors.Is(err, ErrRetrievalUnavailable) },
		OnRetry: func(attempt int, err error, wait time.Duration) {
			w.logger.Debug("memory upsert retrying", "id", q.job.ID, "job", q.jobID, "attempt", attempt, "wait", wait, "err", err)
		},
	}
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		return w.dst.Upsert(ctx, q.job.ID, q.job.Content, q.job.Meta)
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrRetrievalUnavailable):
		w.logger.Warn("memory upsert skipped: embedding unavailable", "id", q.job.ID, "job", q.jobID, "err", err)
	default:
		w.logger.Error("memory upsert failed", "id", q.job.ID, "job", q.jobID, "err", err)
	}
}
