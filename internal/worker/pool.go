// Package worker runs deferred tasks on a fixed set of goroutines.
package worker

import (
	"errors"
	"sync"

	"accounts-service/internal/metrics"

	log "github.com/sirupsen/logrus"
)

var ErrPoolClosed = errors.New("worker pool is closed")

const (
	defaultWorkers   = 4
	defaultQueueSize = 1024
)

// Pool executes submitted tasks on a fixed number of workers over a bounded
// queue. Submit never blocks: when the queue is full the task runs on its
// own goroutine, still tracked by Close.
type Pool struct {
	mu     sync.RWMutex
	queue  chan func()
	closed bool
	wg     sync.WaitGroup
}

func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	p := &Pool{queue: make(chan func(), queueSize)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}

	log.WithFields(log.Fields{
		"workers":    workers,
		"queue_size": queueSize,
	}).Info("Worker pool started")

	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for task := range p.queue {
		run(task)
	}
}

func run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Worker task panicked")
		}
	}()
	task()
}

func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- task:
	default:
		metrics.PostCommitSpills.Inc()
		log.Warn("Worker queue full, running task on a dedicated goroutine")
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			run(task)
		}()
	}
	return nil
}

// Close stops accepting tasks, drains the queue and waits for running tasks.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	log.Info("Worker pool drained")
	return nil
}
