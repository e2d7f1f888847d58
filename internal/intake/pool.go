package intake

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/docrelay/internal/logging"
)

// RunFunc processes one event.
type RunFunc func(ctx context.Context, ev FileEvent) Outcome

// Pool drains a Queue with one consumer goroutine feeding N workers.
type Pool struct {
	workers      int
	queue        *Queue
	run          RunFunc
	pollInterval time.Duration
	logger       logging.Logger

	average  *MovingAverage
	counters counters
	inFlight atomic.Int64

	sinksMu sync.RWMutex
	sinks   []OutcomeSink

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewPool creates a pool of workers running fn for events from q.
func NewPool(q *Queue, workers int, fn RunFunc, logger logging.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Pool{
		workers:      workers,
		queue:        q,
		run:          fn,
		pollInterval: time.Second,
		logger:       logger.WithComponent("worker_pool"),
		average:      NewMovingAverage(DefaultAverageWindow),
	}
}

// AddSink registers an outcome sink.
func (p *Pool) AddSink(s OutcomeSink) {
	p.sinksMu.Lock()
	defer p.sinksMu.Unlock()
	p.sinks = append(p.sinks, s)
}

// Start launches the consumer and workers. Pipelines run detached from
// ctx cancellation so a stop lets in-flight files finish.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("worker pool already running")
	}
	p.running = true
	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	jobs := make(chan FileEvent)
	runCtx := context.WithoutCancel(ctx)

	var workers sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		workers.Add(1)
		go func(id int) {
			defer workers.Done()
			for ev := range jobs {
				p.process(runCtx, id, ev)
			}
		}(i)
	}

	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		defer workers.Wait()
		defer close(jobs)
		p.consume(ctx, stop, jobs)
	}(p.stop, p.done)

	p.logger.Info(ctx, "Worker pool started", "workers", p.workers)
	return nil
}

func (p *Pool) consume(ctx context.Context, stop <-chan struct{}, jobs chan<- FileEvent) {
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		ev, ok := p.queue.Dequeue(ctx, p.pollInterval)
		if !ok {
			continue
		}
		// blocks until a worker is idle; the queue absorbs bursts meanwhile
		jobs <- ev
	}
}

// Stop ends the consumer and waits up to timeout for in-flight pipelines.
// Events still queued are abandoned.
func (p *Pool) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stop)
	done := p.done
	p.mu.Unlock()

	select {
	case <-done:
		if n := p.queue.Len(); n > 0 {
			p.logger.Warn(context.Background(), nil, "Queued events abandoned at shutdown", "count", n)
		}
		p.logger.Info(context.Background(), "Worker pool stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("worker pool did not stop within %s (%d in flight)", timeout, p.inFlight.Load())
	}
}

// Running reports whether the consumer loop is alive.
func (p *Pool) Running() bool {
	p.mu.Lock()
	done, running := p.done, p.running
	p.mu.Unlock()
	if !running {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

func (p *Pool) process(ctx context.Context, worker int, ev FileEvent) {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	start := time.Now()
	out := p.safeRun(ctx, worker, ev)
	elapsed := time.Since(start)

	p.average.Add(elapsed)
	p.counters.observe(out.Status)
	p.logger.Info(ctx, "Processed event",
		"event_id", ev.ID,
		"status", out.Status,
		"reason", out.Reason,
		"elapsed", elapsed.Round(time.Millisecond),
		"avg", p.average.Average().Round(time.Millisecond))

	p.sinksMu.RLock()
	sinks := p.sinks
	p.sinksMu.RUnlock()
	for _, s := range sinks {
		s.Record(out)
	}
}

// safeRun turns a panic in one pipeline into a failed outcome so the worker
// survives.
func (p *Pool) safeRun(ctx context.Context, worker int, ev FileEvent) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error(ctx, fmt.Errorf("panic: %v", r), "Pipeline panicked",
				"event_id", ev.ID,
				"worker", worker,
				"stack", string(debug.Stack()))
			name := filepath.Base(ev.Path)
			out = Outcome{
				EventID:      ev.ID,
				File:         logging.MaskFilename(name),
				OriginalName: name,
				Status:       StatusFailed,
				Reason:       ReasonPanic,
				Error:        fmt.Sprint(r),
				FinishedAt:   time.Now(),
			}
		}
	}()
	return p.run(ctx, ev)
}

// InFlight returns the number of pipelines currently running.
func (p *Pool) InFlight() int64 { return p.inFlight.Load() }

// AverageDuration returns the moving average pipeline duration.
func (p *Pool) AverageDuration() time.Duration { return p.average.Average() }
