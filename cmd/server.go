package cmd

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"miniond/internal/incoming"
	"miniond/internal/keyring"
	"miniond/internal/mix"
	"miniond/internal/outgoing"
	"miniond/internal/packet"
	"miniond/internal/runtime"
	"miniond/internal/serverloop"
	"miniond/pkg/logging"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the miniond relay's main loop",
		RunE:  runServer,
	}
	addConfigFlag(cmd)
	return cmd
}

func runServer(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	rt := runtime.New(cfg.Server.Homedir, time.Now().UnixNano())
	ring := newRing(cfg, rt.Clock)
	if err := ring.Scan(); err != nil {
		return err
	}
	if _, err := ring.IdentityKey(); err != nil {
		return err
	}
	if len(ring.Intervals()) == 0 {
		logging.Warn("server", "no keysets found under %s; run 'miniond keygen' before starting", keysDir(cfg))
	}

	incQueue, err := incoming.New(filepath.Join(queuesDir(cfg), "incoming"), unwrapHandler{ring: ring}, rt.Clock)
	if err != nil {
		return err
	}
	pool, err := mix.New(filepath.Join(queuesDir(cfg), "mix"), mix.TimedMix{}, rt.Clock, rt.Rand)
	if err != nil {
		return err
	}
	outQueue, err := outgoing.New(filepath.Join(queuesDir(cfg), "outgoing"), uint8(cfg.Server.MaxRetries), noopSender{}, rt.Clock, rt.Rand)
	if err != nil {
		return err
	}

	modules, err := newModuleManager(cfg, rt)
	if err != nil {
		return err
	}
	if err := ring.RefreshInfoBlocks(modules.ServerInfoBlocks()); err != nil {
		return err
	}

	loop := &serverloop.Loop{
		Incoming:      incQueue,
		Pool:          pool,
		Outgoing:      outQueue,
		Modules:       modules,
		Ring:          ring,
		Clock:         rt.Clock,
		MixInterval:   cfg.Server.MixInterval.Std(),
		ShredInterval: cfg.Server.ShredInterval.Std(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info("server", "miniond starting as %s, mix interval %s", cfg.Server.Nickname, cfg.Server.MixInterval.Std())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ring.Watch(gctx) })
	g.Go(func() error { return loop.Run(gctx) })
	return g.Wait()
}

// unwrapHandler adapts the KeyRing's live key to packet.Handler. The
// onion-layer cryptography itself is an external collaborator per spec §1;
// lacking it, every packet is treated as padding so the pipeline has a
// concrete handler to drive against until a real decoder is wired in.
type unwrapHandler struct {
	ring *keyring.Ring
}

func (h unwrapHandler) Process(ctx context.Context, pkt packet.Packet) (*packet.RoutingDecision, error) {
	if _, err := h.ring.LiveKey(time.Now()); err != nil {
		return nil, err
	}
	return nil, nil
}

// noopSender satisfies transport.Sender until a real MMTP implementation
// is wired in; the relay-to-relay wire codec is an external collaborator
// per spec §1.
type noopSender struct{}

func (noopSender) Send(ctx context.Context, peer packet.RelayEndpoint, packets []packet.Packet) error {
	logging.Debug("transport", "would send %d packets to %s:%d (no transport wired in)", len(packets), peer.IP, peer.Port)
	return nil
}
