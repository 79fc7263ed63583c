package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/feichai0017/document-splitter/pkg/logger"
)

var (
	ErrInvalidSize = errors.New("pool size must be at least 1")
	ErrPoolClosed  = errors.New("pool is closed")
)

// Task is one unit of work run by the pool.
type Task func(ctx context.Context) error

// Pool runs tasks with at most Size of them in flight. Admission blocks until a
// slot is free, so submission order is preserved even though completion is not.
type Pool struct {
	size   int64
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	logger logger.Logger

	closed      atomic.Bool
	inFlight    atomic.Int64
	maxInFlight atomic.Int64

	mu   sync.Mutex
	errs []error
}

// NewPool creates a pool with size concurrent slots.
func NewPool(size int, log logger.Logger) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSize, size)
	}
	return &Pool{
		size:   int64(size),
		sem:    semaphore.NewWeighted(int64(size)),
		logger: log.Named("pool"),
	}, nil
}

// Size returns the configured bound.
func (p *Pool) Size() int {
	return int(p.size)
}

// Go blocks until a slot is free and then runs task in a goroutine. A task
// panic is recovered and recorded as an error; the pool keeps going.
func (p *Pool) Go(ctx context.Context, name string, task Task) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire slot for %s: %w", name, err)
	}

	p.wg.Add(1)
	n := p.inFlight.Add(1)
	p.observe(n)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Task panicked",
					logger.String("task", name),
					logger.Any("panic", r),
					logger.Stack(),
				)
				p.record(fmt.Errorf("task %s panicked: %v", name, r))
			}
			p.inFlight.Add(-1)
			p.sem.Release(1)
			p.wg.Done()
		}()

		if err := task(ctx); err != nil {
			p.record(fmt.Errorf("task %s: %w", name, err))
		}
	}()
	return nil
}

// Wait blocks until every admitted task has finished and returns their errors joined.
func (p *Pool) Wait() error {
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.errs...)
}

// Close rejects new tasks and waits for running ones.
func (p *Pool) Close() error {
	p.closed.Store(true)
	return p.Wait()
}

// InFlight returns the number of running tasks.
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

// MaxInFlight returns the highest concurrency observed so far.
func (p *Pool) MaxInFlight() int {
	return int(p.maxInFlight.Load())
}

func (p *Pool) observe(n int64) {
	for {
		cur := p.maxInFlight.Load()
		if n <= cur || p.maxInFlight.CompareAndSwap(cur, n) {
			return
		}
	}
}

func (p *Pool) record(err error) {
	p.mu.Lock()
	p.errs = append(p.errs, err)
	p.mu.Unlock()
}
