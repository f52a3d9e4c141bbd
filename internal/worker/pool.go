// Package worker provides fixed-size goroutine pools that drain one shared
// FIFO task queue.
//
// A pool's workers park while the queue is empty as long as at least one
// KeepAlive is held or a task is still running. Once every KeepAlive has
// been released and the queue has drained, the workers exit and the pool
// can be joined. Stop makes workers exit after their current task without
// draining the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/gammazero/deque"
)

var (
	ErrStopped        = errors.New("worker: pool stopped")
	ErrAlreadyStarted = errors.New("worker: pool already started")
	ErrTaskFault      = errors.New("worker: task panicked")
)

// Task is one unit of work. Tasks are never interrupted once started.
type Task func()

type Stats struct {
	Name      string
	Size      int
	Alive     int
	Running   int
	Queued    int
	Guards    int
	Completed uint64
	Faults    uint64
}

type Pool struct {
	name string
	size int

	mu      sync.Mutex
	cond    *sync.Cond
	queue   deque.Deque[Task]
	guards  int
	running int
	alive   int
	started bool
	stopped bool

	completed atomic.Uint64
	faults    atomic.Uint64

	wg   sync.WaitGroup
	done chan struct{}
}

func New(name string, size int) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("worker: pool %s size must be positive, got %d", name, size)
	}
	p := &Pool{
		name: name,
		size: size,
		done: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

func (p *Pool) Name() string {
	return p.name
}

func (p *Pool) Size() int {
	return p.size
}

// Start spawns the pool's workers. Acquire a KeepAlive first, otherwise an
// empty pool exits as soon as it starts.
func (p *Pool) Start() error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	p.alive = p.size
	p.mu.Unlock()

	p.wg.Add(p.size)
	for i := 0; i < p.size; i++ {
		go p.run(i)
	}
	go func() {
		p.wg.Wait()
		close(p.done)
	}()
	slog.Info("worker pool started", "pool", p.name, "size", p.size)
	return nil
}

// Post enqueues task. It fails once the pool was stopped or all of its
// workers have exited.
func (p *Pool) Post(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || (p.started && p.alive == 0) {
		return ErrStopped
	}
	p.queue.PushBack(task)
	p.cond.Signal()
	return nil
}

// Execute posts fn and waits until it has run.
func (p *Pool) Execute(ctx context.Context, fn func()) error {
	return execute(ctx, p.Post, p.done, fn)
}

// Stop makes every worker exit after its current task. Queued tasks are
// discarded.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	dropped := p.queue.Len()
	p.queue.Clear()
	p.cond.Broadcast()
	p.mu.Unlock()
	slog.Info("worker pool stopped", "pool", p.name, "dropped_tasks", dropped)
}

// Join blocks until every worker has exited.
func (p *Pool) Join() {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return
	}
	<-p.done
}

// JoinContext is Join bounded by ctx.
func (p *Pool) JoinContext(ctx context.Context) error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("join pool %s: %w", p.name, ctx.Err())
	}
}

// Done is closed when every worker has exited.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Name:      p.name,
		Size:      p.size,
		Alive:     p.alive,
		Running:   p.running,
		Queued:    p.queue.Len(),
		Guards:    p.guards,
		Completed: p.completed.Load(),
		Faults:    p.faults.Load(),
	}
}

func (p *Pool) run(worker int) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		p.alive--
		p.mu.Unlock()
	}()
	for {
		task, ok := p.next()
		if !ok {
			return
		}
		p.execute(worker, task)
	}
}

func (p *Pool) next() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.stopped && p.queue.Len() == 0 && (p.guards > 0 || p.running > 0) {
		p.cond.Wait()
	}
	if p.stopped || p.queue.Len() == 0 {
		return nil, false
	}
	p.running++
	return p.queue.PopFront(), true
}

// execute runs task inside a fault boundary so a panicking task is logged
// and counted while the worker keeps serving.
func (p *Pool) execute(worker int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.faults.Add(1)
			slog.Error("worker task panicked", "pool", p.name, "worker", worker, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		} else {
			p.completed.Add(1)
		}
		p.mu.Lock()
		p.running--
		if p.running == 0 && p.guards == 0 && p.queue.Len() == 0 {
			p.cond.Broadcast()
		}
		p.mu.Unlock()
	}()
	task()
}

func execute(ctx context.Context, post func(Task) error, poolDone <-chan struct{}, fn func()) error {
	finished := make(chan struct{})
	var ok bool
	err := post(func() {
		defer close(finished)
		fn()
		ok = true
	})
	if err != nil {
		return err
	}
	select {
	case <-finished:
	case <-ctx.Done():
		return ctx.Err()
	case <-poolDone:
		select {
		case <-finished:
		default:
			return ErrStopped
		}
	}
	if !ok {
		return ErrTaskFault
	}
	return nil
}
