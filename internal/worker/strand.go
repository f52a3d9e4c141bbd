package worker

import (
	"context"
	"sync"

	"github.com/gammazero/deque"
)

// Strand runs its tasks on a pool one at a time in posting order. Tasks of
// different strands run in parallel across the pool's workers.
type Strand struct {
	pool *Pool

	mu        sync.Mutex
	queue     deque.Deque[Task]
	scheduled bool
}

func (p *Pool) NewStrand() *Strand {
	return &Strand{pool: p}
}

func (s *Strand) Post(task Task) error {
	s.mu.Lock()
	s.queue.PushBack(task)
	if s.scheduled {
		s.mu.Unlock()
		return nil
	}
	s.scheduled = true
	s.mu.Unlock()

	if err := s.pool.Post(s.runNext); err != nil {
		s.abandon()
		return err
	}
	return nil
}

// Execute posts fn to the strand and waits until it has run.
func (s *Strand) Execute(ctx context.Context, fn func()) error {
	return execute(ctx, s.Post, s.pool.done, fn)
}

// runNext runs a single task and yields the worker before the next one.
func (s *Strand) runNext() {
	s.mu.Lock()
	if s.queue.Len() == 0 {
		s.scheduled = false
		s.mu.Unlock()
		return
	}
	task := s.queue.PopFront()
	s.mu.Unlock()

	defer s.reschedule()
	task()
}

func (s *Strand) reschedule() {
	s.mu.Lock()
	if s.queue.Len() == 0 {
		s.scheduled = false
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	if err := s.pool.Post(s.runNext); err != nil {
		s.abandon()
	}
}

func (s *Strand) abandon() {
	s.mu.Lock()
	s.queue.Clear()
	s.scheduled = false
	s.mu.Unlock()
}
