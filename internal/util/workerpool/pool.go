package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of work executed by the pool
type Task struct {
	ID      string
	Fn      func(context.Context) error
	Context context.Context
}

// Pool runs tasks on a bounded set of goroutines. Submission is
// non-blocking: a full queue rejects rather than stalling the caller.
type Pool struct {
	name      string
	workers   int
	queue     chan Task
	queueSize int
	logger    *zap.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}

	inFlight  sync.WaitGroup
	submitted uint64
	completed uint64
	failed    uint64
	rejected  uint64
}

// New creates and starts a worker pool
func New(name string, workers, queueSize int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		name:      name,
		workers:   workers,
		queue:     make(chan Task, queueSize),
		queueSize: queueSize,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	p.logger.Info("Worker pool started",
		zap.String("pool", name),
		zap.Int("workers", workers),
		zap.Int("queue_size", queueSize))
	return p
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopChan:
			return
		case task := <-p.queue:
			p.execute(id, task)
		}
	}
}

func (p *Pool) execute(workerID int, task Task) {
	defer p.inFlight.Done()
	start := time.Now()
	err := p.safeRun(task)
	if err != nil {
		atomic.AddUint64(&p.failed, 1)
		p.logger.Error("Task failed",
			zap.String("pool", p.name),
			zap.Int("worker_id", workerID),
			zap.String("task_id", task.ID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	atomic.AddUint64(&p.completed, 1)
	p.logger.Debug("Task completed",
		zap.String("pool", p.name),
		zap.String("task_id", task.ID),
		zap.Duration("duration", time.Since(start)))
}

func (p *Pool) safeRun(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	if task.Context == nil {
		task.Context = context.Background()
	}
	return task.Fn(task.Context)
}

// Submit enqueues a task. Returns an error when the pool is stopped or
// the queue is full.
func (p *Pool) Submit(task Task) error {
	select {
	case <-p.stopChan:
		atomic.AddUint64(&p.rejected, 1)
		return fmt.Errorf("worker pool %q is stopped", p.name)
	default:
	}
	p.inFlight.Add(1)
	select {
	case p.queue <- task:
		atomic.AddUint64(&p.submitted, 1)
		return nil
	default:
		p.inFlight.Done()
		atomic.AddUint64(&p.rejected, 1)
		return fmt.Errorf("worker pool %q queue is full", p.name)
	}
}

// Drain blocks until every submitted task has finished or the context
// expires. New submissions during a drain are allowed; callers wanting a
// quiescent pool should stop submitting first.
func (p *Pool) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts the pool down, waiting up to timeout for workers to finish
// their current tasks.
func (p *Pool) Stop(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		close(p.stopChan)
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			p.logger.Info("Worker pool stopped", zap.String("pool", p.name))
		case <-time.After(timeout):
			err = fmt.Errorf("worker pool %q stop timed out after %v", p.name, timeout)
		}
	})
	return err
}

// Stats is a point-in-time view of pool activity
type Stats struct {
	Submitted uint64
	Completed uint64
	Failed    uint64
	Rejected  uint64
	Queued    int
}

func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: atomic.LoadUint64(&p.submitted),
		Completed: atomic.LoadUint64(&p.completed),
		Failed:    atomic.LoadUint64(&p.failed),
		Rejected:  atomic.LoadUint64(&p.rejected),
		Queued:    len(p.queue),
	}
}
