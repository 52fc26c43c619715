package rig

import (
	"context"
	"sync"
	"sync/atomic"
)

// Guard serializes transactions on one session. A call chain that holds
// the guard carries a token in its context and may acquire again without
// blocking, so composite handlers can call other operations on the same
// session. Other goroutines wait.
type Guard struct {
	sem chan struct{}

	acquired  atomic.Uint64
	released  atomic.Uint64
	reentered atomic.Uint64
}

// GuardStats counts guard activity. Acquired equals Released whenever no
// transaction is in flight.
type GuardStats struct {
	Acquired  uint64 `json:"acquired"`
	Released  uint64 `json:"released"`
	Reentered uint64 `json:"reentered"`
	Held      bool   `json:"held"`
}

type holdKey struct{ g *Guard }

type hold struct {
	active atomic.Bool
	depth  atomic.Int32
}

// NewGuard creates an unheld guard.
func NewGuard() *Guard {
	return &Guard{sem: make(chan struct{}, 1)}
}

// Acquire takes the guard, or joins the hold already carried by ctx. The
// returned context must be passed to nested operations. release is safe
// to call more than once. Waiting ends early when ctx is done.
func (g *Guard) Acquire(ctx context.Context) (context.Context, func(), error) {
	if h, ok := ctx.Value(holdKey{g}).(*hold); ok && h.active.Load() {
		h.depth.Add(1)
		g.reentered.Add(1)
		var once sync.Once
		return ctx, func() { once.Do(func() { h.depth.Add(-1) }) }, nil
	}

	if err := ctx.Err(); err != nil {
		return ctx, func() {}, err
	}
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx, func() {}, ctx.Err()
	}
	g.acquired.Add(1)

	h := &hold{}
	h.active.Store(true)
	var once sync.Once
	release := func() {
		once.Do(func() {
			h.active.Store(false)
			g.released.Add(1)
			<-g.sem
		})
	}
	return context.WithValue(ctx, holdKey{g}, h), release, nil
}

// HeldBy reports whether ctx carries an active hold on g.
func (g *Guard) HeldBy(ctx context.Context) bool {
	h, ok := ctx.Value(holdKey{g}).(*hold)
	return ok && h.active.Load()
}

// Stats returns the counters.
func (g *Guard) Stats() GuardStats {
	return GuardStats{
		Acquired:  g.acquired.Load(),
		Released:  g.released.Load(),
		Reentered: g.reentered.Load(),
		Held:      len(g.sem) == 1,
	}
}
