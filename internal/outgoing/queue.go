// Package outgoing implements the OutgoingQueue (spec §4.1's DurableQueue
// specialized to RelayEndpoint-addressed packets): it batches per peer and
// invokes the MMTP transport, retrying on timeout/refusal per spec §7.
package outgoing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"miniond/internal/clock"
	"miniond/internal/durablequeue"
	"miniond/internal/errs"
	"miniond/internal/packet"
	"miniond/internal/transport"
	"miniond/pkg/logging"

	"math/rand"
)

// Queue is the OutgoingQueue component.
type Queue struct {
	queue  *durablequeue.Queue
	sender transport.Sender
}

// New wraps dir as the outgoing queue's durable storage. maxRetries bounds
// how many timeouts/refusals a batch tolerates before being dropped.
func New(dir string, maxRetries uint8, sender transport.Sender, clk clock.Clock, rnd *rand.Rand) (*Queue, error) {
	q, err := durablequeue.Open(dir, maxRetries, clk, rnd)
	if err != nil {
		return nil, err
	}
	return &Queue{queue: q, sender: sender}, nil
}

// Enqueue durably stores inner addressed to peer.
func (q *Queue) Enqueue(peer packet.RelayEndpoint, inner packet.Packet) (string, error) {
	addr, err := json.Marshal(peer)
	if err != nil {
		return "", fmt.Errorf("encoding relay endpoint: %w", err)
	}
	return q.queue.Enqueue(addr, inner)
}

// Flush drains every due entry, groups it by peer, and invokes the
// transport once per peer with that bucket's packets in FIFO order (spec
// §5: "within one peer bucket in OutgoingQueue, FIFO among same-priority
// entries").
func (q *Queue) Flush(ctx context.Context) error {
	entries, err := q.queue.Drain(0)
	if err != nil {
		return err
	}

	buckets := make(map[string][]durablequeue.Entry)
	var order []string
	for _, e := range entries {
		key := string(e.Address)
		if _, ok := buckets[key]; !ok {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], e)
	}

	for _, key := range order {
		bucket := buckets[key]
		sort.SliceStable(bucket, func(i, j int) bool {
			return bucket[i].FirstQueuedAt.Before(bucket[j].FirstQueuedAt)
		})
		q.flushBucket(ctx, []byte(key), bucket)
	}
	return nil
}

func (q *Queue) flushBucket(ctx context.Context, addr []byte, bucket []durablequeue.Entry) {
	var peer packet.RelayEndpoint
	if err := json.Unmarshal(addr, &peer); err != nil {
		logging.Error("OutgoingQueue", err, "unparseable peer address, quarantining bucket of %d entries", len(bucket))
		for _, e := range bucket {
			if err := q.queue.Failed(e.Handle, false); err != nil {
				logging.Error("OutgoingQueue", err, "failed to drop entry %s", e.Handle)
			}
		}
		return
	}

	packets := make([]packet.Packet, len(bucket))
	for i, e := range bucket {
		packets[i] = packet.Packet(e.Payload)
	}

	sendErr := q.sender.Send(ctx, peer, packets)
	retriable := classify(sendErr)

	for _, e := range bucket {
		var ackErr error
		if sendErr == nil {
			ackErr = q.queue.Succeeded(e.Handle)
		} else {
			ackErr = q.queue.Failed(e.Handle, retriable)
		}
		if ackErr != nil {
			logging.Error("OutgoingQueue", ackErr, "failed to acknowledge entry %s", e.Handle)
		}
	}

	if sendErr != nil {
		logging.Warn("OutgoingQueue", "send to %s:%d failed (retriable=%v): %v", peer.IP, peer.Port, retriable, sendErr)
	}
}

// classify maps a transport error to the §7 retriability policy: timeouts
// and refusals are retriable, a permanent authentication rejection is not.
// A nil error or an unrecognized error defaults to retriable, since an
// unclassified transient fault should not silently drop mail.
func classify(err error) bool {
	if err == nil {
		return true
	}
	var e *errs.Error
	if errors.As(err, &e) {
		if e.Kind == errs.KindTransportPermanent {
			return false
		}
		return e.Kind.Retriable()
	}
	return true
}

// Count returns the number of packets awaiting delivery.
func (q *Queue) Count() (int, error) {
	return q.queue.Count()
}

// Clean sweeps stray temp files on the slow cadence (spec §4.7 step 6).
func (q *Queue) Clean() error {
	return q.queue.Clean()
}
