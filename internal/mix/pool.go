// Package mix implements the batching mix pool (spec §4.4): messages sit
// here for at least mix_interval before being released to either the
// OutgoingQueue or the ModuleManager, which is what gives the system its
// traffic-analysis resistance.
package mix

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"miniond/internal/clock"
	"miniond/internal/durablequeue"
	"miniond/internal/packet"
	"miniond/pkg/logging"
)

// Router is the destination side of a mix tick: Pool.Mix calls back into
// it once per released decision instead of importing outgoing/delivery
// directly, keeping this package's dependency surface limited to the
// primitives named in spec §4.4.
type Router interface {
	RouteRelay(ctx context.Context, peer packet.RelayEndpoint, inner packet.Packet) error
	RouteExit(ctx context.Context, payload, tag []byte, exitType packet.ExitType, exitInfo []byte) error
}

// Pool is the MixPool component. It owns a DurableQueue of pending
// RoutingDecisions and a pluggable Algorithm deciding what to release on a
// given tick.
type Pool struct {
	mu      sync.Mutex
	queue   *durablequeue.Queue
	algo    Algorithm
	clock   clock.Clock
	rnd     *rand.Rand
	dropped int64
}

// New wraps dir as the pool's durable storage. maxRetries is irrelevant to
// insertion (the pool never retries a routing decision, per spec §4.4:
// "Routing errors are not retried at this layer") but DurableQueue still
// requires a bound, so Open is called with 0.
func New(dir string, algo Algorithm, clk clock.Clock, rnd *rand.Rand) (*Pool, error) {
	q, err := durablequeue.Open(dir, 0, clk, rnd)
	if err != nil {
		return nil, err
	}
	return &Pool{queue: q, algo: algo, clock: clk, rnd: rnd}, nil
}

// Insert durably enqueues decision. A KindDrop decision is counted and
// discarded immediately rather than ever touching storage — padding need
// not survive a crash, matching scenario S1's expectation that dropped
// packets never appear in any on-disk queue.
func (p *Pool) Insert(decision packet.RoutingDecision) error {
	if decision.Kind == packet.KindDrop {
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		return nil
	}

	data, err := decision.Encode()
	if err != nil {
		return err
	}
	_, err = p.queue.Enqueue(nil, data)
	return err
}

// Mix performs one mix tick: selects the batch the Algorithm says is
// ready, routes each decision, then discards it. Routing errors are
// logged, not retried, since the pool has already committed to releasing
// the message (spec §4.4).
func (p *Pool) Mix(ctx context.Context, mixInterval time.Duration, router Router) (int, error) {
	entries, err := p.queue.Drain(0)
	if err != nil {
		return 0, err
	}

	now := p.clock.Now()
	handles := p.algo.SelectBatch(now, mixInterval, entries, p.rnd)

	byHandle := make(map[string]durablequeue.Entry, len(entries))
	for _, e := range entries {
		byHandle[e.Handle] = e
	}

	released := 0
	for _, handle := range handles {
		entry, ok := byHandle[handle]
		if !ok {
			continue
		}
		decision, err := packet.DecodeRoutingDecision(entry.Payload)
		if err != nil {
			logging.Error("MixPool", err, "discarding unreadable pool entry %s", handle)
			if err := p.queue.Succeeded(handle); err != nil {
				logging.Error("MixPool", err, "failed to discard unreadable entry %s", handle)
			}
			continue
		}

		if routeErr := route(ctx, router, decision); routeErr != nil {
			logging.Warn("MixPool", "routing error for %s: %v", handle, routeErr)
		}

		if err := p.queue.Succeeded(handle); err != nil {
			logging.Error("MixPool", err, "failed to discard released entry %s", handle)
		}
		released++
	}
	return released, nil
}

func route(ctx context.Context, router Router, decision packet.RoutingDecision) error {
	switch decision.Kind {
	case packet.KindRelay:
		return router.RouteRelay(ctx, decision.Peer, decision.Inner)
	case packet.KindExit:
		return router.RouteExit(ctx, decision.Payload, decision.Tag, decision.ExitType, decision.ExitInfo)
	default:
		return nil
	}
}

// Count returns the number of decisions currently resident in the pool.
func (p *Pool) Count() (int, error) {
	return p.queue.Count()
}

// Clean sweeps stray temp files on the pool's slow cadence (spec §4.7
// step 6).
func (p *Pool) Clean() error {
	return p.queue.Clean()
}

// DroppedCount returns the number of padding decisions discarded without
// ever entering durable storage, the "padding dropped" metric scenario S1
// expects.
func (p *Pool) DroppedCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}
