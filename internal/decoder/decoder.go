// Package decoder is the CPU-bound scheduling domain. Decode tasks are
// queued FIFO and run to completion on one of K workers.
package decoder

import (
	"github.com/foxseedlab/emasr/internal/worker"
)

type Task = worker.Task

type Pool struct {
	*worker.Pool
}

func New(size int) (*Pool, error) {
	p, err := worker.New("decoder", size)
	if err != nil {
		return nil, err
	}
	return &Pool{Pool: p}, nil
}

// Submit queues task for the next free decoder worker.
func (p *Pool) Submit(task Task) error {
	return p.Post(task)
}
