// Package brain watches the message store for newly received messages,
// classifies them, generates the veiled summary and reply candidates, and
// arms the auto-respond countdown. Processing is single-flight per message
// and capped by a weighted semaphore.
package brain

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/nextlevelbuilder/veilgate/internal/backoff"
	"github.com/nextlevelbuilder/veilgate/internal/message"
	"github.com/nextlevelbuilder/veilgate/internal/metrics"
	"github.com/nextlevelbuilder/veilgate/internal/providers"
	"github.com/nextlevelbuilder/veilgate/internal/store"
)

// Config tunes the processor.
type Config struct {
	// Concurrency caps in-flight classify+generate calls. Default 4.
	Concurrency int64
	// Timeout bounds a single message's provider round-trips. Default 30s.
	Timeout time.Duration
	// Retry gates reprocessing after provider failures.
	Retry backoff.Policy
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Retry.Initial <= 0 {
		c.Retry = backoff.Default()
	}
	return c
}

// Processor is the pipeline stage between intake and dispatch.
type Processor struct {
	store      store.MessageStore
	classifier providers.Classifier
	generator  providers.Generator
	auto       *AutoResponder
	cfg        Config
	sem        *semaphore.Weighted
	tracer     trace.Tracer

	mu        sync.Mutex
	inflight  map[int64]struct{}
	failures  map[int64]int
	notBefore map[int64]time.Time

	wg sync.WaitGroup
}

// New creates the processor. The auto responder may be nil when auto-respond
// is disabled.
func New(st store.MessageStore, c providers.Classifier, g providers.Generator, auto *AutoResponder, cfg Config) *Processor {
	cfg = cfg.withDefaults()
	return &Processor{
		store:      st,
		classifier: c,
		generator:  g,
		auto:       auto,
		cfg:        cfg,
		sem:        semaphore.NewWeighted(cfg.Concurrency),
		tracer:     otel.Tracer("veilgate/brain"),
		inflight:   make(map[int64]struct{}),
		failures:   make(map[int64]int),
		notBefore:  make(map[int64]time.Time),
	}
}

// Run consumes the store's change stream until ctx is canceled, then waits
// for in-flight work to drain. Backed-off messages are revisited on a short
// tick so a retry does not depend on another write arriving.
func (p *Processor) Run(ctx context.Context) {
	stream := p.store.ObserveAll(ctx)
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	var last []message.Message
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return
		case snapshot, ok := <-stream:
			if !ok {
				p.wg.Wait()
				return
			}
			last = snapshot
			p.sweep(ctx, snapshot)
		case <-tick.C:
			p.sweep(ctx, last)
		}
	}
}

// sweep schedules processing for every received message that is not already
// in flight and not inside its retry window. Failure state for messages that
// settled elsewhere (dismissed mid-backoff) is pruned on sight.
func (p *Processor) sweep(ctx context.Context, snapshot []message.Message) {
	now := time.Now()
	for _, m := range snapshot {
		if m.Status != message.StatusReceived {
			p.mu.Lock()
			if _, ok := p.failures[m.ID]; ok {
				delete(p.failures, m.ID)
				delete(p.notBefore, m.ID)
			}
			p.mu.Unlock()
			continue
		}
		p.mu.Lock()
		if _, busy := p.inflight[m.ID]; busy {
			p.mu.Unlock()
			continue
		}
		if nb, ok := p.notBefore[m.ID]; ok && now.Before(nb) {
			p.mu.Unlock()
			continue
		}
		p.inflight[m.ID] = struct{}{}
		p.mu.Unlock()

		p.wg.Add(1)
		go func(m message.Message) {
			defer p.wg.Done()
			defer func() {
				p.mu.Lock()
				delete(p.inflight, m.ID)
				p.mu.Unlock()
			}()
			p.process(ctx, m)
		}(m)
	}
}

func (p *Processor) process(ctx context.Context, m message.Message) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer p.sem.Release(1)

	ctx, span := p.tracer.Start(ctx, "brain.process",
		trace.WithAttributes(
			attribute.Int64("message.id", m.ID),
			attribute.String("message.source", m.SourceID),
		))
	defer span.End()

	cctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	bucket, err := p.classifier.Classify(cctx, m.OriginalContent)
	if err != nil {
		p.recordFailure(span, m.ID, "classify", err)
		return
	}
	span.SetAttributes(attribute.String("message.bucket", string(bucket)))

	res, err := p.generator.Generate(cctx, m.Sender, m.OriginalContent, bucket)
	if err != nil {
		p.recordFailure(span, m.ID, "generate", err)
		return
	}

	ok, err := p.store.Update(ctx, m.ID, []message.Status{message.StatusReceived}, func(cur *message.Message) {
		cur.Bucket = bucket
		cur.VeiledContent = res.Veil
		cur.GeneratedReplies = res.Replies
		cur.Status = message.StatusProcessed
	})
	if err != nil {
		p.recordFailure(span, m.ID, "store", err)
		return
	}
	if !ok {
		// Someone else advanced the message while we worked; nothing to do.
		slog.Debug("brain: message no longer pending", "id", m.ID)
		return
	}

	p.mu.Lock()
	delete(p.failures, m.ID)
	delete(p.notBefore, m.ID)
	p.mu.Unlock()

	metrics.MessagesProcessed.WithLabelValues(string(bucket)).Inc()
	slog.Info("brain: message processed",
		"id", m.ID, "bucket", bucket, "replies", len(res.Replies))

	if p.auto != nil && len(res.Replies) > 0 {
		p.auto.Start(m.ID, res.Replies[0])
	}
}

func (p *Processor) recordFailure(span trace.Span, id int64, stage string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, stage)

	p.mu.Lock()
	p.failures[id]++
	n := p.failures[id]
	delay := p.cfg.Retry.Delay(n - 1)
	p.notBefore[id] = time.Now().Add(delay)
	p.mu.Unlock()

	metrics.ProcessingFailures.Inc()
	slog.Warn("brain: processing failed",
		"id", id, "stage", stage, "attempt", n, "retry_in", delay, "error", err)
}
