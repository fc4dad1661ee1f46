// Package incoming implements the IncomingQueue (spec §4.1's shared
// DurableQueue, specialized to raw ciphertext packets arriving over MMTP).
// Its drain step invokes the PacketHandler and routes results into the
// MixPool, per the pipeline in spec §2.
package incoming

import (
	"context"
	"errors"

	"miniond/internal/clock"
	"miniond/internal/durablequeue"
	"miniond/internal/errs"
	"miniond/internal/mix"
	"miniond/internal/packet"
	"miniond/pkg/logging"
)

// Queue receives raw packets from the transport and hands them to a
// PacketHandler on drain.
type Queue struct {
	queue   *durablequeue.Queue
	handler packet.Handler
}

// New wraps dir as the incoming queue's durable storage. Incoming packets
// are never retried regardless of outcome — a bad packet stays bad — so
// maxRetries is 0.
func New(dir string, handler packet.Handler, clk clock.Clock) (*Queue, error) {
	q, err := durablequeue.Open(dir, 0, clk, nil)
	if err != nil {
		return nil, err
	}
	return &Queue{queue: q, handler: handler}, nil
}

// Ingest durably enqueues a packet as it arrives off the transport. The
// transport calls this directly; it is the only write path into this
// queue.
func (q *Queue) Ingest(raw []byte) (string, error) {
	return q.queue.Enqueue(nil, raw)
}

// Drain processes every packet currently queued through the PacketHandler
// and inserts the resulting decisions into pool. It returns the number of
// packets processed (including ones dropped as padding or invalid).
func (q *Queue) Drain(ctx context.Context, pool *mix.Pool) (int, error) {
	entries, err := q.queue.Drain(0)
	if err != nil {
		return 0, err
	}

	for _, entry := range entries {
		q.processOne(ctx, pool, entry)
	}
	return len(entries), nil
}

func (q *Queue) processOne(ctx context.Context, pool *mix.Pool, entry durablequeue.Entry) {
	decision, err := q.handler.Process(ctx, packet.Packet(entry.Payload))
	if err != nil {
		logPacketError(entry.Handle, err)
	} else if decision != nil {
		if insertErr := pool.Insert(*decision); insertErr != nil {
			logging.Error("IncomingQueue", insertErr, "failed to insert decision for packet %s into mix pool", entry.Handle)
		}
	}
	// decision == nil, err == nil means padding the handler already
	// dropped; nothing further to do.

	if succErr := q.queue.Succeeded(entry.Handle); succErr != nil {
		logging.Error("IncomingQueue", succErr, "failed to remove processed packet %s", entry.Handle)
	}
}

func logPacketError(handle string, err error) {
	var e *errs.Error
	if errors.As(err, &e) {
		if e.Kind.Silent() {
			return
		}
		logging.Warn("IncomingQueue", "dropping packet %s: %s: %v", handle, e.Kind, e.Err)
		return
	}
	logging.Warn("IncomingQueue", "dropping packet %s: %v", handle, err)
}

// Count returns the number of packets awaiting processing.
func (q *Queue) Count() (int, error) {
	return q.queue.Count()
}

// Clean sweeps stray temp files on the slow cadence (spec §4.7 step 6).
func (q *Queue) Clean() error {
	return q.queue.Clean()
}
