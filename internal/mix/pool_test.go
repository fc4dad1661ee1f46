package mix

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"miniond/internal/clock"
	"miniond/internal/packet"

	"github.com/stretchr/testify/require"
)

type fakeRouter struct {
	relays []packet.RelayEndpoint
	exits  int
}

func (f *fakeRouter) RouteRelay(ctx context.Context, peer packet.RelayEndpoint, inner packet.Packet) error {
	f.relays = append(f.relays, peer)
	return nil
}

func (f *fakeRouter) RouteExit(ctx context.Context, payload, tag []byte, exitType packet.ExitType, exitInfo []byte) error {
	f.exits++
	return nil
}

func newTestPool(t *testing.T, clk clock.Clock) *Pool {
	t.Helper()
	p, err := New(t.TempDir(), TimedMix{}, clk, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	return p
}

// TestDropNeverPersists covers scenario S1: padding decisions never touch
// OutgoingQueue or ModuleManager and never appear in the durable queue.
func TestDropNeverPersists(t *testing.T) {
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	p := newTestPool(t, fc)

	for i := 0; i < 10; i++ {
		require.NoError(t, p.Insert(packet.Drop()))
	}

	count, err := p.Count()
	require.NoError(t, err)
	require.Equal(t, 0, count)
	require.Equal(t, int64(10), p.DroppedCount())

	router := &fakeRouter{}
	released, err := p.Mix(context.Background(), 20*time.Second, router)
	require.NoError(t, err)
	require.Equal(t, 0, released)
	require.Empty(t, router.relays)
	require.Zero(t, router.exits)
}

// TestMixDelayLowerBound covers spec §8 invariant 4 and scenario S2: a
// relay decision is not released until mix_interval has elapsed.
func TestMixDelayLowerBound(t *testing.T) {
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	p := newTestPool(t, fc)

	peer := packet.RelayEndpoint{IP: "127.0.0.1", Port: 48099, KeyFingerprint: "kid"}
	require.NoError(t, p.Insert(packet.Relay(peer, packet.Packet("P'"))))

	router := &fakeRouter{}

	released, err := p.Mix(context.Background(), 20*time.Second, router)
	require.NoError(t, err)
	require.Equal(t, 0, released)
	require.Empty(t, router.relays)

	fc.Advance(20 * time.Second)

	released, err = p.Mix(context.Background(), 20*time.Second, router)
	require.NoError(t, err)
	require.Equal(t, 1, released)
	require.Equal(t, []packet.RelayEndpoint{peer}, router.relays)

	count, err := p.Count()
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestMixRoutesExitDecision(t *testing.T) {
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	p := newTestPool(t, fc)

	require.NoError(t, p.Insert(packet.Exit(packet.ExitMBOX, []byte("alice"), nil, nil, []byte("hello\n"))))
	fc.Advance(20 * time.Second)

	router := &fakeRouter{}
	released, err := p.Mix(context.Background(), 20*time.Second, router)
	require.NoError(t, err)
	require.Equal(t, 1, released)
	require.Equal(t, 1, router.exits)
}
