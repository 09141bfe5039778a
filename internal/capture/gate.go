package capture

import (
	"context"
	"sync/atomic"
)

// Gate is a counting semaphore shared by every batch of an Orchestrator.
type Gate struct {
	ch       chan struct{}
	inFlight atomic.Int64
}

func NewGate(limit int) *Gate {
	if limit <= 0 {
		limit = 1
	}
	return &Gate{ch: make(chan struct{}, limit)}
}

// Acquire blocks for a slot or until ctx ends.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case g.ch <- struct{}{}:
		g.inFlight.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate) Release() {
	select {
	case <-g.ch:
		g.inFlight.Add(-1)
	default:
	}
}

func (g *Gate) Limit() int { return cap(g.ch) }

// InFlight reports currently held slots.
func (g *Gate) InFlight() int { return int(g.inFlight.Load()) }
