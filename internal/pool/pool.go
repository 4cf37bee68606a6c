// Package pool runs connection handlers on a bounded set of worker
// goroutines. Submissions never block on handler execution: connections
// that arrive while every worker is busy wait in an unbounded FIFO.
//
// With InitialWorkers < MaxWorkers the pool is elastic. A worker is added
// whenever more than BacklogThreshold connections are waiting, and workers
// above InitialWorkers retire after IdleTimeout without work.
package pool

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned by Submit once Stop has been called.
var ErrStopped = errors.New("pool: stopped")

// Config sizes the pool.
type Config struct {
	InitialWorkers   int
	MaxWorkers       int
	BacklogThreshold int
	IdleTimeout      time.Duration
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers int
	Idle    int
	Queued  int
}

// Pool dispatches submitted connections to workers.
type Pool struct {
	cfg    Config
	handle func(net.Conn)
	log    *zap.Logger

	mu      sync.RWMutex
	stopped bool

	submit chan net.Conn
	work   chan net.Conn
	done   chan struct{}
	wg     sync.WaitGroup

	workers  atomic.Int32
	idle     atomic.Int32
	queued   atomic.Int32
	workerID atomic.Int64
}

// New starts a pool with cfg.InitialWorkers workers, each running handle.
// handle owns the connection and is expected to close it.
func New(cfg Config, handle func(net.Conn), log *zap.Logger) (*Pool, error) {
	if cfg.InitialWorkers < 1 {
		return nil, fmt.Errorf("pool: initial workers must be positive, got %d", cfg.InitialWorkers)
	}
	if cfg.MaxWorkers < cfg.InitialWorkers {
		return nil, fmt.Errorf("pool: max workers %d below initial workers %d", cfg.MaxWorkers, cfg.InitialWorkers)
	}
	if cfg.BacklogThreshold < 0 {
		return nil, fmt.Errorf("pool: negative backlog threshold %d", cfg.BacklogThreshold)
	}
	if log == nil {
		log = zap.NewNop()
	}

	p := &Pool{
		cfg:    cfg,
		handle: handle,
		log:    log,
		submit: make(chan net.Conn, 64),
		work:   make(chan net.Conn),
		done:   make(chan struct{}),
	}
	for i := 0; i < cfg.InitialWorkers; i++ {
		p.startWorker()
	}
	go p.dispatch()

	log.Info("worker pool started",
		zap.Int("initial_workers", cfg.InitialWorkers),
		zap.Int("max_workers", cfg.MaxWorkers),
		zap.Int("backlog_threshold", cfg.BacklogThreshold),
		zap.Duration("idle_timeout", cfg.IdleTimeout))
	return p, nil
}

// Submit queues conn for handling.
func (p *Pool) Submit(conn net.Conn) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	p.submit <- conn
	return nil
}

// Stop refuses further submissions, lets the workers finish everything
// already queued and waits for them to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		<-p.done
		return
	}
	p.stopped = true
	close(p.submit)
	p.mu.Unlock()

	<-p.done
	p.log.Info("worker pool stopped")
}

// Stats reports current worker and queue counts.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers: int(p.workers.Load()),
		Idle:    int(p.idle.Load()),
		Queued:  int(p.queued.Load()),
	}
}

func (p *Pool) dispatch() {
	defer close(p.done)

	var backlog []net.Conn
	for {
		var out chan net.Conn
		var next net.Conn
		if len(backlog) > 0 {
			out = p.work
			next = backlog[0]
		}

		select {
		case conn, ok := <-p.submit:
			if !ok {
				for _, c := range backlog {
					p.work <- c
					p.queued.Add(-1)
				}
				close(p.work)
				p.wg.Wait()
				return
			}
			backlog = append(backlog, conn)
			p.queued.Store(int32(len(backlog)))
			p.maybeGrow(len(backlog))
		case out <- next:
			backlog[0] = nil
			backlog = backlog[1:]
			p.queued.Store(int32(len(backlog)))
		}
	}
}

// maybeGrow is only called from the dispatcher, so the load and add below
// cannot race with another grow.
func (p *Pool) maybeGrow(queued int) {
	if queued <= p.cfg.BacklogThreshold {
		return
	}
	if n := int(p.workers.Load()); n < p.cfg.MaxWorkers {
		p.startWorker()
		p.log.Debug("worker pool grew",
			zap.Int("workers", n+1),
			zap.Int("queued", queued))
	}
}

func (p *Pool) startWorker() {
	p.workers.Add(1)
	p.wg.Add(1)
	go p.worker(p.workerID.Add(1))
}

// retire gives up one worker slot unless that would drop below InitialWorkers.
func (p *Pool) retire() bool {
	floor := int32(p.cfg.InitialWorkers)
	for {
		n := p.workers.Load()
		if n <= floor {
			return false
		}
		if p.workers.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

func (p *Pool) worker(id int64) {
	defer p.wg.Done()

	var idle <-chan time.Time
	var timer *time.Timer
	if p.cfg.IdleTimeout > 0 && p.cfg.MaxWorkers > p.cfg.InitialWorkers {
		timer = time.NewTimer(p.cfg.IdleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		p.idle.Add(1)
		select {
		case conn, ok := <-p.work:
			p.idle.Add(-1)
			if !ok {
				p.workers.Add(-1)
				return
			}
			p.run(id, conn)
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(p.cfg.IdleTimeout)
			}
		case <-idle:
			p.idle.Add(-1)
			if p.retire() {
				p.log.Debug("worker retired", zap.Int64("worker", id))
				return
			}
			timer.Reset(p.cfg.IdleTimeout)
		}
	}
}

// run calls the handler, containing any panic to this one connection.
func (p *Pool) run(id int64, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("connection handler panicked",
				zap.Int64("worker", id),
				zap.Any("panic", r),
				zap.Stack("stack"))
			_ = conn.Close()
		}
	}()
	p.handle(conn)
}
