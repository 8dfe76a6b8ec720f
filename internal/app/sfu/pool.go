package sfu

import (
	"context"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/massepaul19/share-screen-in-local/internal/core"
)

// Pool owns a fixed set of engine workers created once at startup and
// hands them out round-robin. It is injected into the room registry
// rather than read from ambient state.
type Pool struct {
	mu      sync.Mutex
	workers []string
	next    int
}

// NewPool creates n workers through the engine; n <= 0 means one per
// CPU.
func NewPool(ctx context.Context, engine core.MediaEngine, n int) (*Pool, error) {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	p := &Pool{workers: make([]string, 0, n)}
	for i := 0; i < n; i++ {
		id, err := engine.CreateWorker(ctx)
		if err != nil {
			return nil, err
		}
		p.workers = append(p.workers, id)
	}
	log.Info().Str("module", "sfu.pool").Int("workers", n).Msg("worker pool ready")
	return p, nil
}

// Next returns the next worker id round-robin.
func (p *Pool) Next() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.workers[p.next]
	p.next = (p.next + 1) % len(p.workers)
	return id
}

func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}
