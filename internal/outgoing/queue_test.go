package outgoing

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"miniond/internal/clock"
	"miniond/internal/errs"
	"miniond/internal/packet"

	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu    sync.Mutex
	calls []sendCall
	err   error
}

type sendCall struct {
	peer    packet.RelayEndpoint
	packets []packet.Packet
}

func (f *fakeSender) Send(ctx context.Context, peer packet.RelayEndpoint, packets []packet.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sendCall{peer: peer, packets: append([]packet.Packet(nil), packets...)})
	return f.err
}

// TestSingleHopRelay covers scenario S2: the transport is invoked exactly
// once with the enqueued packet.
func TestSingleHopRelay(t *testing.T) {
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	sender := &fakeSender{}
	q, err := New(t.TempDir(), 5, sender, fc, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	peer := packet.RelayEndpoint{IP: "127.0.0.1", Port: 48099, KeyFingerprint: "kid"}
	_, err = q.Enqueue(peer, packet.Packet("P'"))
	require.NoError(t, err)

	require.NoError(t, q.Flush(context.Background()))

	require.Len(t, sender.calls, 1)
	require.Equal(t, peer, sender.calls[0].peer)
	require.Equal(t, []packet.Packet{packet.Packet("P'")}, sender.calls[0].packets)

	count, err := q.Count()
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestPerPeerBatchingAndFIFO(t *testing.T) {
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	sender := &fakeSender{}
	q, err := New(t.TempDir(), 5, sender, fc, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	peer := packet.RelayEndpoint{IP: "10.0.0.1", Port: 48099, KeyFingerprint: "kid"}
	_, err = q.Enqueue(peer, packet.Packet("first"))
	require.NoError(t, err)
	fc.Advance(time.Millisecond)
	_, err = q.Enqueue(peer, packet.Packet("second"))
	require.NoError(t, err)

	require.NoError(t, q.Flush(context.Background()))

	require.Len(t, sender.calls, 1)
	require.Equal(t, []packet.Packet{packet.Packet("first"), packet.Packet("second")}, sender.calls[0].packets)
}

func TestTimeoutIsRetried(t *testing.T) {
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	sender := &fakeSender{err: errs.New(errs.KindTransportTimeout, "test", nil)}
	q, err := New(t.TempDir(), 5, sender, fc, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	peer := packet.RelayEndpoint{IP: "10.0.0.1", Port: 48099, KeyFingerprint: "kid"}
	_, err = q.Enqueue(peer, packet.Packet("p"))
	require.NoError(t, err)

	require.NoError(t, q.Flush(context.Background()))

	count, err := q.Count()
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestPermanentRejectionDropsEntry(t *testing.T) {
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	sender := &fakeSender{err: errs.New(errs.KindTransportPermanent, "test", nil)}
	q, err := New(t.TempDir(), 5, sender, fc, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	peer := packet.RelayEndpoint{IP: "10.0.0.1", Port: 48099, KeyFingerprint: "kid"}
	_, err = q.Enqueue(peer, packet.Packet("p"))
	require.NoError(t, err)

	require.NoError(t, q.Flush(context.Background()))

	count, err := q.Count()
	require.NoError(t, err)
	require.Equal(t, 0, count)
}
