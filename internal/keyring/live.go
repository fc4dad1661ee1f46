package keyring

import (
	"fmt"
	"sort"
	"time"

	"miniond/internal/errs"
)

// LiveKey returns the KeySet live at t: binary search by valid_after, then
// confirm valid_until > t (spec §4.2). The result is memoized until
// t >= cached.ValidUntil; concurrent callers past the cache miss collapse
// into a single recomputation via singleflight, since the scan + binary
// search is read-only and idempotent.
func (r *Ring) LiveKey(t time.Time) (KeySet, error) {
	r.mu.RLock()
	if r.cachedLive != nil && t.Before(r.nextRotate) {
		live := *r.cachedLive
		r.mu.RUnlock()
		return live, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.sf.Do("live-key", func() (interface{}, error) {
		r.mu.RLock()
		intervals := r.intervals
		r.mu.RUnlock()

		ks, err := lookupLive(intervals, t)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.cachedLive = &ks
		r.nextRotate = ks.ValidUntil
		r.mu.Unlock()
		return ks, nil
	})
	if err != nil {
		return KeySet{}, err
	}
	return v.(KeySet), nil
}

// lookupLive binary-searches intervals (sorted by ValidAfter) for the
// largest ValidAfter <= t, then checks ValidUntil > t (spec §3's
// key-schedule invariant: "at most one key is live at a given wall-clock
// time").
func lookupLive(intervals []KeySet, t time.Time) (KeySet, error) {
	idx := sort.Search(len(intervals), func(i int) bool {
		return intervals[i].ValidAfter.After(t)
	}) - 1

	if idx < 0 {
		return KeySet{}, errs.New(errs.KindFatalCrypto, "Ring.LiveKey", fmt.Errorf("no live key at %s: no keyset has started yet", t))
	}

	candidate := intervals[idx]
	if !candidate.ValidUntil.After(t) {
		return KeySet{}, errs.New(errs.KindFatalCrypto, "Ring.LiveKey", fmt.Errorf("no live key at %s: gap after keyset %s (valid_until %s)", t, candidate.Name, candidate.ValidUntil))
	}
	return candidate, nil
}

// Intervals returns a defensive copy of the current schedule, for
// descriptor generation and diagnostics.
func (r *Ring) Intervals() []KeySet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]KeySet, len(r.intervals))
	copy(out, r.intervals)
	return out
}
