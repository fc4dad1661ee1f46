package mix

import (
	"math/rand"
	"time"

	"miniond/internal/durablequeue"
)

// Algorithm is the pluggable mix strategy spec §4.4 requires: given the
// current pool contents, decide which handles to release this tick. The
// baseline is TimedMix; alternative algorithms (threshold, pool, binomial)
// implement the same contract without the Pool or its callers changing.
type Algorithm interface {
	SelectBatch(now time.Time, mixInterval time.Duration, entries []durablequeue.Entry, rnd *rand.Rand) []string
}

// TimedMix releases every message whose residency time has reached
// mixInterval, shuffled uniformly within the released batch (spec §4.4:
// "release messages whose residency time ≥ mix_interval; within a batch,
// shuffle uniformly at random"). This mirrors the release-threshold +
// shuffle discipline in vuvuzela-alpenhorn and PTHyperdrive's mixnet
// batch loops, generalized from a fixed round count to a residency clock.
type TimedMix struct{}

func (TimedMix) SelectBatch(now time.Time, mixInterval time.Duration, entries []durablequeue.Entry, rnd *rand.Rand) []string {
	var handles []string
	for _, e := range entries {
		if now.Sub(e.FirstQueuedAt) >= mixInterval {
			handles = append(handles, e.Handle)
		}
	}

	for i := len(handles) - 1; i > 0; i-- {
		var j int
		if rnd != nil {
			j = rnd.Intn(i + 1)
		}
		handles[i], handles[j] = handles[j], handles[i]
	}
	return handles
}
