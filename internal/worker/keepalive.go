package worker

import (
	"log/slog"
	"sync"
)

// KeepAlive keeps a pool's workers parked on an empty queue instead of
// exiting. Release is idempotent and is the only way to drop the hold.
type KeepAlive struct {
	pool *Pool
	once sync.Once
}

func (p *Pool) KeepAlive() *KeepAlive {
	p.mu.Lock()
	p.guards++
	p.mu.Unlock()
	return &KeepAlive{pool: p}
}

func (k *KeepAlive) Release() {
	k.once.Do(func() {
		p := k.pool
		p.mu.Lock()
		p.guards--
		remaining := p.guards
		if remaining == 0 {
			p.cond.Broadcast()
		}
		p.mu.Unlock()
		slog.Info("worker pool keep-alive released", "pool", p.name, "remaining_guards", remaining)
	})
}
