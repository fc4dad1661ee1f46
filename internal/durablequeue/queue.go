// Package durablequeue implements the crash-safe, handle-keyed queue
// primitive spec §4.1 describes as shared infrastructure underneath
// IncomingQueue, OutgoingQueue, and each DeliveryModule's own queue. Entries
// are individual files under dir; a crash at any point leaves either no
// file, a complete old file, or a complete new file — never a half-written
// one, because every mutation goes through atomicWrite's temp-then-rename.
package durablequeue

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	"miniond/internal/clock"
	"miniond/internal/errs"
	"miniond/pkg/logging"

	"github.com/google/uuid"
)

// Queue is one durable, on-disk queue. Multiple Queues over disjoint
// directories are independent; a single Queue is safe for concurrent use.
type Queue struct {
	mu         sync.Mutex
	dir        string
	clock      clock.Clock
	rnd        *rand.Rand
	maxRetries uint8
}

// Open prepares dir (creating it if necessary) as the backing store for a
// Queue. maxRetries bounds RetryCount before Failed(handle, true) gives up
// and drops the entry instead of rescheduling it (spec §4.1 edge case:
// "a queue entry that has exceeded its module's retry budget is dropped and
// logged, never retried indefinitely").
func Open(dir string, maxRetries uint8, clk clock.Clock, rnd *rand.Rand) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.New(errs.KindQueueIO, "durablequeue.Open", fmt.Errorf("creating %s: %w", dir, err))
	}
	return &Queue{
		dir:        dir,
		clock:      clk,
		rnd:        rnd,
		maxRetries: maxRetries,
	}, nil
}

// Enqueue stores a new entry with RetryCount 0 and NextAttemptAt set to now,
// returning the handle it can later be acknowledged or failed by.
func (q *Queue) Enqueue(address, payload []byte) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	handle := uuid.NewString()
	entry := Entry{
		Handle:        handle,
		Address:       address,
		Payload:       payload,
		RetryCount:    0,
		FirstQueuedAt: now,
		NextAttemptAt: now,
	}

	if err := atomicWrite(q.dir, handle, entry.encode()); err != nil {
		return "", errs.New(errs.KindQueueIO, "Queue.Enqueue", err)
	}
	return handle, nil
}

// Drain returns up to limit entries whose NextAttemptAt has arrived,
// quarantining any file that fails to decode instead of returning it.
// Order across calls is not guaranteed beyond "entries due for retry come
// back eventually" (spec §4.1 is explicit that ordering within a queue is
// not a correctness property the caller may rely on, aside from the
// per-peer FIFO the OutgoingQueue layers on top).
func (q *Queue) Drain(limit int) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	handles, err := listEntryFiles(q.dir)
	if err != nil {
		return nil, errs.New(errs.KindQueueIO, "Queue.Drain", err)
	}

	now := q.clock.Now()
	var out []Entry
	for _, handle := range handles {
		if limit > 0 && len(out) >= limit {
			break
		}
		entry, err := q.readEntry(handle)
		if err != nil {
			quarantine(q.dir, handle, err)
			continue
		}
		if entry.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// Succeeded removes the entry for handle. It is a no-op if the entry is
// already gone, since a caller may race a duplicate acknowledgement against
// a restart.
func (q *Queue) Succeeded(handle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	path := filepath.Join(q.dir, handle)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errs.New(errs.KindQueueIO, "Queue.Succeeded", err)
	}
	return nil
}

// Failed records a delivery attempt's failure. If retriable and the entry
// hasn't exhausted maxRetries, it is rewritten with RetryCount+1 and a
// jittered NextAttemptAt per the backoff schedule in spec §7. Otherwise the
// entry is dropped and the drop is logged (never retried silently forever,
// never retried when the module has classified the failure as permanent).
func (q *Queue) Failed(handle string, retriable bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, err := q.readEntry(handle)
	if err != nil {
		quarantine(q.dir, handle, err)
		return nil
	}

	if !retriable || entry.RetryCount >= q.maxRetries {
		if err := os.Remove(filepath.Join(q.dir, handle)); err != nil && !os.IsNotExist(err) {
			return errs.New(errs.KindQueueIO, "Queue.Failed", err)
		}
		logging.Warn("DurableQueue", "dropping entry %s after %d attempts (retriable=%v)", handle, entry.RetryCount, retriable)
		return nil
	}

	entry.RetryCount++
	entry.NextAttemptAt = q.clock.Now().Add(nextAttemptDelay(entry.RetryCount-1, q.rnd))

	if err := atomicWrite(q.dir, handle, entry.encode()); err != nil {
		return errs.New(errs.KindQueueIO, "Queue.Failed", err)
	}
	return nil
}

// Get performs a random-access read of a single entry by handle without
// regard to NextAttemptAt, for callers that already learned the handle from
// a prior Drain (e.g. MixPool.SelectBatch, which must re-fetch the full
// entry for handles an algorithm selected).
func (q *Queue) Get(handle string) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, err := q.readEntry(handle)
	if err != nil {
		return Entry{}, errs.New(errs.KindQueueIO, "Queue.Get", err)
	}
	return entry, nil
}

// Count returns the number of entries currently on disk, including ones not
// yet due for retry.
func (q *Queue) Count() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	handles, err := listEntryFiles(q.dir)
	if err != nil {
		return 0, errs.New(errs.KindQueueIO, "Queue.Count", err)
	}
	return len(handles), nil
}

// Clean sweeps stray temp files left behind by a process that crashed
// between WriteFile and Rename in atomicWrite. It is meant to run on a slow
// cadence separate from the mix tick (spec §9 design note), not on every
// Drain.
func (q *Queue) Clean() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	infos, err := os.ReadDir(q.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.New(errs.KindQueueIO, "Queue.Clean", err)
	}

	for _, info := range infos {
		if info.IsDir() || len(info.Name()) < 5 || info.Name()[:5] != ".tmp-" {
			continue
		}
		path := filepath.Join(q.dir, info.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logging.Warn("DurableQueue", "failed to remove stray temp file %s: %v", path, err)
		}
	}
	return nil
}

func (q *Queue) readEntry(handle string) (Entry, error) {
	data, err := os.ReadFile(filepath.Join(q.dir, handle))
	if err != nil {
		return Entry{}, err
	}
	return decode(handle, data)
}
