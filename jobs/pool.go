package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrQueueFull is returned when the pool cannot accept another job
// without blocking the caller.
var ErrQueueFull = errors.New("job queue full")

// Task is one unit of background work. Run must respect ctx; the pool
// cancels it on Cancel, timeout or shutdown.
type Task struct {
	ID   string
	Kind string
	Run  func(ctx context.Context) error
}

// Pool runs tasks on a fixed set of workers with a bounded queue.
// Submitting never blocks: a full queue is an error the caller reports
// back over HTTP instead of stalling the request.
type Pool struct {
	queue   chan Task
	timeout time.Duration
	log     *logrus.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc

	wg     sync.WaitGroup
	done   chan struct{}
	closed sync.Once
}

func NewPool(workers, queueSize int, timeout time.Duration, log *logrus.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	p := &Pool{
		queue:   make(chan Task, queueSize),
		timeout: timeout,
		log:     log,
		active:  make(map[string]context.CancelFunc),
		done:    make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Submit enqueues a task. ErrQueueFull means the caller should retry
// later; nothing was started.
func (p *Pool) Submit(task Task) error {
	select {
	case <-p.done:
		return errors.New("pool shut down")
	default:
	}
	select {
	case p.queue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Cancel stops a running job. Queued but unstarted jobs cannot be
// canceled; false means the id was not running.
func (p *Pool) Cancel(id string) bool {
	p.mu.Lock()
	cancel, ok := p.active[id]
	p.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Active returns the number of currently running jobs.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Shutdown stops accepting work, cancels running jobs and waits for the
// workers to exit.
func (p *Pool) Shutdown() {
	p.closed.Do(func() {
		close(p.done)
		p.mu.Lock()
		for _, cancel := range p.active {
			cancel()
		}
		p.mu.Unlock()
	})
	p.wg.Wait()
}

func (p *Pool) worker(n int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case task := <-p.queue:
			p.run(n, task)
		}
	}
}

func (p *Pool) run(worker int, task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	p.mu.Lock()
	p.active[task.ID] = cancel
	p.mu.Unlock()

	log := p.log.WithFields(logrus.Fields{"worker": worker, "jobId": task.ID, "kind": task.Kind})
	log.Info("job started")
	start := time.Now()

	defer func() {
		p.mu.Lock()
		delete(p.active, task.ID)
		p.mu.Unlock()
		cancel()
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("job panicked")
		}
	}()

	if err := task.Run(ctx); err != nil {
		log.WithError(err).WithField("elapsed", time.Since(start)).Warn("job failed")
		return
	}
	log.WithField("elapsed", time.Since(start)).Info("job finished")
}
