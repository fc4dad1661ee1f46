package incoming

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"miniond/internal/clock"
	"miniond/internal/errs"
	"miniond/internal/mix"
	"miniond/internal/packet"

	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	decide func(pkt packet.Packet) (*packet.RoutingDecision, error)
}

func (f *fakeHandler) Process(ctx context.Context, pkt packet.Packet) (*packet.RoutingDecision, error) {
	return f.decide(pkt)
}

func newTestPool(t *testing.T, clk clock.Clock) *mix.Pool {
	t.Helper()
	p, err := mix.New(t.TempDir(), mix.TimedMix{}, clk, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	return p
}

func TestDrainInsertsRelayDecision(t *testing.T) {
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	peer := packet.RelayEndpoint{IP: "127.0.0.1", Port: 48099, KeyFingerprint: "kid"}

	handler := &fakeHandler{decide: func(pkt packet.Packet) (*packet.RoutingDecision, error) {
		d := packet.Relay(peer, packet.Packet("P'"))
		return &d, nil
	}}

	q, err := New(t.TempDir(), handler, fc)
	require.NoError(t, err)

	_, err = q.Ingest([]byte("ciphertext"))
	require.NoError(t, err)

	pool := newTestPool(t, fc)
	n, err := q.Drain(context.Background(), pool)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	count, err := q.Count()
	require.NoError(t, err)
	require.Equal(t, 0, count)

	poolCount, err := pool.Count()
	require.NoError(t, err)
	require.Equal(t, 1, poolCount)
}

func TestDrainDropsPaddingWithoutTouchingPool(t *testing.T) {
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	handler := &fakeHandler{decide: func(pkt packet.Packet) (*packet.RoutingDecision, error) {
		return nil, nil
	}}

	q, err := New(t.TempDir(), handler, fc)
	require.NoError(t, err)
	_, err = q.Ingest([]byte("ciphertext"))
	require.NoError(t, err)

	pool := newTestPool(t, fc)
	n, err := q.Drain(context.Background(), pool)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	poolCount, err := pool.Count()
	require.NoError(t, err)
	require.Equal(t, 0, poolCount)
}

// TestReplayRejected covers scenario S5: the first submission of a packet
// yields one pool insertion and the second, rejected as a replay, none.
func TestReplayRejected(t *testing.T) {
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	peer := packet.RelayEndpoint{IP: "127.0.0.1", Port: 48099, KeyFingerprint: "kid"}
	seen := false
	handler := &fakeHandler{decide: func(pkt packet.Packet) (*packet.RoutingDecision, error) {
		if seen {
			return nil, errs.New(errs.KindReplay, "handler", nil)
		}
		seen = true
		d := packet.Relay(peer, packet.Packet("P'"))
		return &d, nil
	}}

	q, err := New(t.TempDir(), handler, fc)
	require.NoError(t, err)
	pool := newTestPool(t, fc)

	_, err = q.Ingest([]byte("same-packet"))
	require.NoError(t, err)
	_, err = q.Drain(context.Background(), pool)
	require.NoError(t, err)

	_, err = q.Ingest([]byte("same-packet"))
	require.NoError(t, err)
	_, err = q.Drain(context.Background(), pool)
	require.NoError(t, err)

	poolCount, err := pool.Count()
	require.NoError(t, err)
	require.Equal(t, 1, poolCount)
}
