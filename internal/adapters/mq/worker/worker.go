// Package worker applies queued activity events to the grant engine and
// the voice scheduler.
package worker

import (
	"context"
	"fmt"
	"hash/fnv"
	"runtime"
	"strconv"
	"time"

	"github.com/okian/levelup/internal/domain/grant"
	"github.com/okian/levelup/internal/domain/model"
	"github.com/okian/levelup/internal/domain/voice"
	"github.com/okian/levelup/pkg/logger"
	"github.com/okian/levelup/pkg/metrics"
)

const (
	workerInputBuffer   = 64
	poolShutdownTimeout = 30 * time.Second
)

// Event abstracts what workers read off the queue.
type Event = model.Event

// TextGranter grants message XP.
type TextGranter interface {
	GrantTextXP(ctx context.Context, guildID, userID string) (grant.Result, bool, error)
}

// VoiceTracker applies voice presence changes.
type VoiceTracker interface {
	HandleVoiceState(ctx context.Context, guildID, userID, oldChannel, newChannel string) (voice.Transition, error)
}

// Queue defines how the pool receives events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// InMemoryWorker processes the events routed to it, in arrival order.
type InMemoryWorker struct {
	granter TextGranter
	voice   VoiceTracker
	name    string
	in      chan Event
	done    chan struct{}
	logger  logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(granter TextGranter, tracker VoiceTracker, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		granter: granter,
		voice:   tracker,
		name:    "worker",
		in:      make(chan Event, workerInputBuffer),
		done:    make(chan struct{}),
		logger:  logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run processes events until the input is closed or ctx ends.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.in:
			if !ok {
				return
			}
			if err := w.Process(ctx, event); err != nil {
				w.logger.Error(ctx, "error processing event", logger.String("eventID", event.ID), logger.Error(err))
			}
		}
	}
}

// Process applies one event.
func (w *InMemoryWorker) Process(ctx context.Context, event Event) error { //nolint:gocritic // hugeParam: Event is passed by value for channel semantics
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	switch event.Kind {
	case model.KindMessage:
		res, granted, err := w.granter.GrantTextXP(ctx, event.GuildID, event.UserID)
		if err != nil {
			return fmt.Errorf("message %s: %w", event.ID, err)
		}
		if granted {
			w.logger.Debug(ctx, "message xp granted",
				logger.String("eventID", event.ID),
				logger.Int64("amount", res.Amount),
				logger.Int("level", res.NewLevel),
			)
		}
	case model.KindVoiceState:
		tr, err := w.voice.HandleVoiceState(ctx, event.GuildID, event.UserID, event.OldChannelID, event.NewChannelID)
		if err != nil {
			return fmt.Errorf("voice state %s: %w", event.ID, err)
		}
		w.logger.Debug(ctx, "voice state applied", logger.String("eventID", event.ID), logger.String("transition", string(tr)))
	default:
		return fmt.Errorf("event %s: %w", event.ID, model.ErrInvalidEvent)
	}
	return nil
}

// Pool fans queued events out to its workers. Events of one guild member
// always go to the same worker so they are applied in order.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	routed  chan struct{}
	logger  logger.Logger
}

// NewPool creates a pool of workerCount workers. A count below 1 means
// one worker per CPU.
func NewPool(workerCount int, q Queue, granter TextGranter, tracker VoiceTracker) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}
	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		routed:  make(chan struct{}),
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range p.workers {
		p.workers[i] = NewInMemoryWorker(granter, tracker, WithName("worker-"+strconv.Itoa(i)))
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts the workers and the router.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.route(ctx)
}

func (p *Pool) shard(e Event) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(e.GuildID + ":" + e.UserID))
	return int(h.Sum32() % uint32(len(p.workers)))
}

func (p *Pool) route(ctx context.Context) {
	defer func() {
		for _, w := range p.workers {
			close(w.in)
		}
		close(p.routed)
	}()
	events := p.queue.Dequeue(ctx)
	for {
		var event Event
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			event = e
		}
		select {
		case p.workers[p.shard(event)].in <- event:
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown closes the queue, lets the workers drain what was queued and
// waits for them until ctx or the pool timeout ends.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	select {
	case <-p.routed:
	case <-shutdownCtx.Done():
		return fmt.Errorf("worker pool shutdown: %w", shutdownCtx.Err())
	}
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return fmt.Errorf("worker pool shutdown: %w", shutdownCtx.Err())
		}
	}
	metrics.UpdateWorkerCount(0)
	return nil
}
