package durablequeue

import (
	"math"
	"math/rand"
	"time"
)

// Backoff parameters from spec §4.1/§7: base 1 minute, cap 1 day, full
// jitter (mirrors foxcpp-maddy's target/queue "initialRetryTime *
// retryTimeScale ^ (tries-1)" schedule, with the base-2 scale and jitter
// spec §7 specifies instead of maddy's configurable scale factor).
const (
	backoffBase = time.Minute
	backoffCap  = 24 * time.Hour
)

// nextAttemptDelay computes min(1 day, 60s * 2^retryCount) and then applies
// full jitter: a uniformly random duration in [0, that value]. retryCount
// is the count *before* the attempt currently failing is recorded.
func nextAttemptDelay(retryCount uint8, rnd *rand.Rand) time.Duration {
	scaled := float64(backoffBase) * math.Pow(2, float64(retryCount))
	capped := math.Min(scaled, float64(backoffCap))
	if capped <= 0 {
		return 0
	}
	if rnd == nil {
		return time.Duration(capped)
	}
	return time.Duration(rnd.Int63n(int64(capped) + 1))
}
