// Package batch fans a list of requests out through the dispatcher in
// fixed-size batches with a pause between batches.
package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/set718/keyrouter/internal/metrics"
)

// Dispatcher is implemented by *rpc.Client and *routing.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, req any) (any, error)
}

// Config controls batching.
type Config struct {
	Size        int           `yaml:"size"`
	Delay       time.Duration `yaml:"delay"`
	Concurrency int           `yaml:"-"` // Items in flight per batch, 0 = batch size
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{Size: 5, Delay: 2 * time.Second}
}

// Result is the outcome of one item. Index is the item's position in the input.
type Result struct {
	Index    int
	Request  any
	Response any
	Err      error
}

// Summary is returned by Run.
type Summary struct {
	Results   []Result
	Succeeded int
	Failed    int
	Batches   int
	Elapsed   time.Duration
}

// Stats is a point-in-time view of a run.
type Stats struct {
	Status             string        `json:"status"` // not_started, processing, completed, stopped
	Total              int           `json:"total"`
	Succeeded          int           `json:"succeeded"`
	Failed             int           `json:"failed"`
	CompletedBatches   int           `json:"completed_batches"`
	Elapsed            time.Duration `json:"elapsed"`
	EstimatedRemaining time.Duration `json:"estimated_remaining"`
}

// ProgressFunc is called after every item with the number done so far.
type ProgressFunc func(done, total int)

// Processor runs batches through a dispatcher. One Run at a time.
type Processor struct {
	d   Dispatcher
	cfg Config
	log *slog.Logger

	progress ProgressFunc

	mu        sync.Mutex
	started   time.Time
	total     int
	succeeded int
	failed    int
	batches   int
	stopped   bool
}

// NewProcessor creates a batch processor.
func NewProcessor(d Dispatcher, cfg Config) *Processor {
	if cfg.Size <= 0 {
		cfg.Size = DefaultConfig().Size
	}
	return &Processor{d: d, cfg: cfg, log: slog.Default()}
}

// SetProgress registers a progress callback. Call before Run.
func (p *Processor) SetProgress(fn ProgressFunc) {
	p.progress = fn
}

// SetLogger replaces the logger. Call before Run.
func (p *Processor) SetLogger(log *slog.Logger) {
	p.log = log
}

// Run dispatches every item. Per-item failures are recorded in the results;
// only context cancellation ends the run early, and the items it skipped
// carry the context error.
func (p *Processor) Run(ctx context.Context, items []any) (Summary, error) {
	p.reset(len(items))

	results := make([]Result, len(items))
	for i, item := range items {
		results[i] = Result{Index: i, Request: item}
	}

	batches := split(len(items), p.cfg.Size)
	p.log.Info("Starting batch run", "items", len(items), "batches", len(batches), "batch_size", p.cfg.Size)

	var runErr error
	processed := 0
	for bi, b := range batches {
		if bi > 0 && p.cfg.Delay > 0 {
			if err := sleep(ctx, p.cfg.Delay); err != nil {
				runErr = err
				break
			}
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		start := time.Now()
		p.runBatch(ctx, results[b.start:b.end])
		processed = b.end

		p.mu.Lock()
		p.batches++
		p.mu.Unlock()

		p.log.Debug("Batch finished",
			"batch", bi+1,
			"of", len(batches),
			"items", b.end-b.start,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	}

	for i := processed; i < len(results); i++ {
		results[i].Err = runErr
	}
	if runErr != nil {
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()
	}

	stats := p.Stats()
	summary := Summary{
		Results:   results,
		Succeeded: stats.Succeeded,
		Failed:    stats.Failed,
		Batches:   stats.CompletedBatches,
		Elapsed:   stats.Elapsed,
	}

	p.log.Info("Batch run finished",
		"succeeded", summary.Succeeded,
		"total", len(items),
		"batches", summary.Batches,
		"elapsed", summary.Elapsed.Round(time.Millisecond),
	)
	return summary, runErr
}

func (p *Processor) runBatch(ctx context.Context, batch []Result) {
	var g errgroup.Group
	limit := p.cfg.Concurrency
	if limit <= 0 {
		limit = len(batch)
	}
	g.SetLimit(limit)

	for i := range batch {
		r := &batch[i]
		g.Go(func() error {
			resp, err := p.d.Dispatch(ctx, r.Request)
			r.Response, r.Err = resp, err
			p.record(err == nil)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Processor) record(ok bool) {
	p.mu.Lock()
	if ok {
		p.succeeded++
	} else {
		p.failed++
	}
	done, total := p.succeeded+p.failed, p.total
	p.mu.Unlock()

	if ok {
		metrics.BatchItemsTotal.WithLabelValues("success").Inc()
	} else {
		metrics.BatchItemsTotal.WithLabelValues("failure").Inc()
	}
	if p.progress != nil {
		p.progress(done, total)
	}
}

func (p *Processor) reset(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = time.Now()
	p.total = total
	p.succeeded, p.failed, p.batches = 0, 0, 0
	p.stopped = false
}

// Stats returns the progress of the current or last run.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started.IsZero() {
		return Stats{Status: "not_started"}
	}

	s := Stats{
		Status:           "processing",
		Total:            p.total,
		Succeeded:        p.succeeded,
		Failed:           p.failed,
		CompletedBatches: p.batches,
		Elapsed:          time.Since(p.started),
	}

	done := p.succeeded + p.failed
	if p.stopped {
		s.Status = "stopped"
		return s
	}
	if done >= p.total {
		s.Status = "completed"
		return s
	}
	if done > 0 {
		perItem := s.Elapsed / time.Duration(done)
		s.EstimatedRemaining = perItem * time.Duration(p.total-done)
	}
	return s
}

type span struct{ start, end int }

func split(n, size int) []span {
	var out []span
	for start := 0; start < n; start += size {
		out = append(out, span{start, min(start+size, n)})
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
