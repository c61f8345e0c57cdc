package worker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Pool executes tasks on a fixed set of workers. Tasks sharing a key land on
// the same worker queue, so messages for one order are processed one at a
// time in submission order while different orders run fully parallel.
type Pool struct {
	logger *slog.Logger
	queues []chan task
}

type task struct {
	ctx context.Context
	key string
	fn  func(context.Context) error
}

// ErrStopped is returned by Submit after the pool shut down.
var ErrStopped = errors.New("worker pool stopped")

// New creates a pool with the given number of workers and per-worker queue
// depth.
func New(workers, queueDepth int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}
	queues := make([]chan task, workers)
	for i := range queues {
		queues[i] = make(chan task, queueDepth)
	}
	return &Pool{logger: logger, queues: queues}
}

// Run processes tasks until the context is cancelled, then drains what was
// already queued before returning.
func (p *Pool) Run(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)

	for i := range p.queues {
		queue := p.queues[i]
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					p.drain(queue)
					return ctx.Err()
				case t := <-queue:
					p.execute(t)
				}
			}
		})
	}
	return g.Wait()
}

// Submit routes the task to its key's worker. It blocks while the worker's
// queue is full, which backpressures the transport consumer.
func (p *Pool) Submit(ctx context.Context, key string, fn func(context.Context) error) error {
	shard := p.shardFor(key)
	select {
	case <-ctx.Done():
		return fmt.Errorf("submit %q: %w", key, ErrStopped)
	case p.queues[shard] <- task{ctx: ctx, key: key, fn: fn}:
		return nil
	}
}

func (p *Pool) execute(t task) {
	if err := t.fn(t.ctx); err != nil {
		p.logger.Error("worker task failed", "key", t.key, "error", err)
	}
}

func (p *Pool) drain(queue chan task) {
	for {
		select {
		case t := <-queue:
			p.execute(t)
		default:
			return
		}
	}
}

func (p *Pool) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.queues)))
}
