package keyring

import (
	"path/filepath"
	"testing"
	"time"

	"miniond/internal/clock"
	"miniond/internal/descriptor"

	"github.com/stretchr/testify/require"
)

func newTestRing(t *testing.T, clk clock.Clock) *Ring {
	t.Helper()
	dir := t.TempDir()
	return New(dir+"/keys", dir+"/hashlogs", 60*24*time.Hour, 10*time.Minute, clk)
}

// TestKeyScheduleLiveness covers spec §8 invariant 7: at every instant in
// the generated schedule's span, LiveKey returns the unique covering
// interval.
func TestKeyScheduleLiveness(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := clock.NewFake(base)
	r := newTestRing(t, fc)

	start := base
	require.NoError(t, r.Create(3, &start, ""))

	intervals := r.Intervals()
	require.Len(t, intervals, 3)

	for _, iv := range intervals {
		mid := iv.ValidAfter.Add(iv.ValidUntil.Sub(iv.ValidAfter) / 2)
		live, err := r.LiveKey(mid)
		require.NoError(t, err)
		require.Equal(t, iv.Name, live.Name)
	}

	last := intervals[len(intervals)-1]
	_, err := r.LiveKey(last.ValidUntil)
	require.Error(t, err)
}

func TestLiveKeyCachingAcrossRotation(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := clock.NewFake(base)
	r := newTestRing(t, fc)

	start := base
	require.NoError(t, r.Create(2, &start, ""))
	intervals := r.Intervals()

	first, err := r.LiveKey(intervals[0].ValidAfter)
	require.NoError(t, err)
	require.Equal(t, intervals[0].Name, first.Name)

	second, err := r.LiveKey(intervals[1].ValidAfter)
	require.NoError(t, err)
	require.Equal(t, intervals[1].Name, second.Name)
}

// TestRemoveDeadUsesFilteredList is the regression test for spec §9's
// flagged removeDeadKeys bug: only keysets past valid_until+sloppiness are
// deleted, and the survivors' own valid_after/valid_until are untouched.
func TestRemoveDeadUsesFilteredList(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := clock.NewFake(base)
	r := newTestRing(t, fc)

	start := base
	require.NoError(t, r.Create(3, &start, ""))
	before := r.Intervals()
	require.Len(t, before, 3)

	// Advance well past the first two keysets' expiry plus sloppiness,
	// but not the third.
	fc.Set(before[2].ValidAfter.Add(10*time.Minute + time.Second))
	require.NoError(t, r.RemoveDead(fc.Now()))

	after := r.Intervals()
	require.Len(t, after, 1)
	require.Equal(t, before[2].Name, after[0].Name)
	require.Equal(t, before[2].ValidAfter, after[0].ValidAfter)
	require.Equal(t, before[2].ValidUntil, after[0].ValidUntil)
}

// TestRefreshInfoBlocksUpdatesExistingKeysets covers SPEC_FULL.md's
// supplemented feature 4: an already-generated keyset's descriptor picks up a changed
// ServerInfoBlocks() concatenation without a rekey.
func TestRefreshInfoBlocksUpdatesExistingKeysets(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := clock.NewFake(base)
	r := newTestRing(t, fc)

	start := base
	require.NoError(t, r.Create(2, &start, "MBOX\n"))

	require.NoError(t, r.RefreshInfoBlocks("MBOX\nSMTP relayed via mail.example.com\n"))

	for _, iv := range r.Intervals() {
		desc, err := descriptor.Load(filepath.Join(r.dir, "key_"+iv.Name))
		require.NoError(t, err)
		require.Equal(t, "MBOX\nSMTP relayed via mail.example.com\n", desc.InfoBlock)
	}
}

func TestIdentityKeyLazyBootstrap(t *testing.T) {
	fc := clock.NewFake(time.Now())
	r := newTestRing(t, fc)

	first, err := r.IdentityKey()
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := r.IdentityKey()
	require.NoError(t, err)
	require.Equal(t, first, second)
}
