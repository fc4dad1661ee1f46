package serverloop

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"miniond/internal/clock"
	"miniond/internal/delivery"
	"miniond/internal/incoming"
	"miniond/internal/keyring"
	"miniond/internal/mix"
	"miniond/internal/outgoing"
	"miniond/internal/packet"

	"github.com/stretchr/testify/require"
)

type noopSender struct{}

func (noopSender) Send(ctx context.Context, peer packet.RelayEndpoint, packets []packet.Packet) error {
	return nil
}

type noopHandler struct{}

func (noopHandler) Process(ctx context.Context, pkt packet.Packet) (*packet.RoutingDecision, error) {
	return nil, nil
}

func newTestLoop(t *testing.T, fc *clock.Fake) *Loop {
	t.Helper()
	root := t.TempDir()

	ring := keyring.New(root+"/keys", root+"/hashlogs", 60*24*time.Hour, 10*time.Minute, fc)
	start := fc.Now()
	require.NoError(t, ring.Create(1, &start, ""))

	inc, err := incoming.New(root+"/incoming", noopHandler{}, fc)
	require.NoError(t, err)

	pool, err := mix.New(root+"/mix", mix.TimedMix{}, fc, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	out, err := outgoing.New(root+"/outgoing", 5, noopSender{}, fc, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	modules := delivery.NewManager(root+"/deliver", delivery.PassthroughDecoder{}, fc, rand.New(rand.NewSource(1)), 5)

	return &Loop{
		Incoming:      inc,
		Pool:          pool,
		Outgoing:      out,
		Modules:       modules,
		Ring:          ring,
		Clock:         fc,
		MixInterval:   20 * time.Second,
		ShredInterval: 6000 * time.Second,
	}
}

// TestRunExitsOnCancel confirms Run respects context cancellation within
// one network-poll tick instead of blocking forever, per spec §5's
// shutdown contract.
func TestRunExitsOnCancel(t *testing.T) {
	fc := clock.NewFake(time.Now())
	l := newTestLoop(t, fc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Run(ctx)
	require.NoError(t, err)
}

func TestRefreshLiveKeyOpensHashLog(t *testing.T) {
	fc := clock.NewFake(time.Now())
	l := newTestLoop(t, fc)

	require.NoError(t, l.refreshLiveKey())
	require.NotNil(t, l.hashLog)
	require.NotEmpty(t, l.liveKeyName)
}
