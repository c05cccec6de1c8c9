// ABOUTME: Bounded background worker pool for event summary enrichment
// ABOUTME: Consumes jobs from a fixed-capacity queue and patches summaries onto stored events

package enrich

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/warren/internal/store"
)

const (
	defaultWorkers   = 2
	defaultQueueSize = 256
	defaultTimeout   = 10 * time.Second

	// maxSummaryLen caps stored summaries; longer summarizer output is
	// discarded in favor of the template fallback.
	maxSummaryLen = 100
)

// Job is one enrichment request for an already-persisted event.
type Job struct {
	EventID   string
	EventType string
	Payload   json.RawMessage
}

// Summarizer produces a short human-readable summary for an event.
type Summarizer interface {
	Summarize(ctx context.Context, eventType string, payload json.RawMessage) (string, error)
}

// Pool consumes enrichment jobs with a fixed number of workers. Enqueue is
// non-blocking: when the queue is full the job is dropped and the event keeps
// a nil summary forever, which is an acceptable degradation. Summaries
// failures fall back to a deterministic template per event type.
type Pool struct {
	jobs       chan Job
	store      store.SummaryPatcher
	summarizer Summarizer
	timeout    time.Duration
	logger     *slog.Logger
	wg         sync.WaitGroup

	dropped atomic.Int64

	closeOnce sync.Once
}

// Options configures a Pool. Zero values select defaults.
type Options struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// NewPool creates and starts an enrichment pool. Pass a nil summarizer to
// always use the template fallback.
func NewPool(patcher store.SummaryPatcher, summarizer Summarizer, logger *slog.Logger, opts Options) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	p := &Pool{
		jobs:       make(chan Job, opts.QueueSize),
		store:      patcher,
		summarizer: summarizer,
		timeout:    opts.Timeout,
		logger:     logger.With("component", "enrich"),
	}

	for i := 0; i < opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

// Enqueue schedules an enrichment job. Never blocks: a full queue drops the
// job so enrichment load can never backpressure the hook pipeline.
func (p *Pool) Enqueue(job Job) {
	select {
	case p.jobs <- job:
	default:
		p.dropped.Add(1)
		p.logger.Debug("enrichment queue full, dropping job",
			"event_id", job.EventID,
			"type", job.EventType)
	}
}

// Dropped reports how many jobs were discarded due to queue overflow.
func (p *Pool) Dropped() int64 {
	return p.dropped.Load()
}

// Close stops accepting jobs and waits for in-flight work to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.jobs)
	})
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for job := range p.jobs {
		p.process(job)
	}
}

// process summarizes one event and patches the summary column. Failures at
// any step are absorbed: a missing summary must never affect the event row
// or block later jobs.
func (p *Pool) process(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	summary := p.summarize(ctx, job)

	if err := p.store.SetEventSummary(ctx, job.EventID, summary); err != nil {
		p.logger.Warn("failed to patch event summary",
			"event_id", job.EventID,
			"error", err)
	}
}

func (p *Pool) summarize(ctx context.Context, job Job) string {
	if p.summarizer == nil {
		return TemplateSummary(job.EventType, job.Payload)
	}

	summary, err := p.summarizer.Summarize(ctx, job.EventType, job.Payload)
	if err != nil {
		p.logger.Debug("summarizer failed, using template fallback",
			"event_id", job.EventID,
			"error", err)
		return TemplateSummary(job.EventType, job.Payload)
	}
	if summary == "" || len(summary) > maxSummaryLen {
		return TemplateSummary(job.EventType, job.Payload)
	}
	return summary
}
