// File: internal/infra/worker/pool.go
package worker

import (
	"context"
	"errors"
	"hash/fnv"
	"runtime"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
)

// Task is one unit of work.
type Task func(ctx context.Context) error

var (
	ErrQueueFull   = errors.New("worker queue full")
	ErrPoolStopped = errors.New("worker pool stopped")
)

// Pool runs tasks on a fixed set of workers. Tasks submitted under the same
// key always land on the same worker, so they run one at a time in
// submission order while different keys proceed concurrently.
type Pool struct {
	wg     sync.WaitGroup
	queues []chan Task
	quit   chan struct{}
	once   sync.Once
	log    *zerolog.Logger
}

func NewPool(workers, queueSize int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	l := logger.With().Str("component", "WorkerPool").Logger()
	p := &Pool{queues: make([]chan Task, workers), quit: make(chan struct{}), log: &l}
	for i := range p.queues {
		p.queues[i] = make(chan Task, queueSize)
	}
	return p
}

func (p *Pool) Start(ctx context.Context) {
	for i, q := range p.queues {
		p.wg.Add(1)
		go func(id int, jobs <-chan Task) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-p.quit:
					return
				case task := <-jobs:
					if err := task(ctx); err != nil {
						p.log.Warn().Err(err).Int("worker", id).Msg("task error")
					}
				}
			}
		}(i, q)
	}
}

// Stop signals the workers and waits for in-flight tasks. Queued tasks are dropped.
func (p *Pool) Stop() {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}

// Submit queues task under key. It never blocks: a saturated worker returns ErrQueueFull.
func (p *Pool) Submit(key int64, task Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	select {
	case <-p.quit:
		return ErrPoolStopped
	default:
	}
	select {
	case p.queues[p.slot(key)] <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) slot(key int64) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatInt(key, 10)))
	return int(h.Sum32() % uint32(len(p.queues)))
}
