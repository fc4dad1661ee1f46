// Package serverloop implements the ServerLoop component (spec §4.7): a
// single-threaded event loop that services the network, drives the mix
// clock, and flushes every queue in a fixed order once per tick.
package serverloop

import (
	"context"
	"time"

	"miniond/internal/clock"
	"miniond/internal/delivery"
	"miniond/internal/hashlog"
	"miniond/internal/incoming"
	"miniond/internal/keyring"
	"miniond/internal/mix"
	"miniond/internal/outgoing"
	"miniond/internal/packet"
	"miniond/pkg/logging"

	"github.com/coreos/go-systemd/v22/daemon"
)

// networkPollInterval bounds how long step 1 of spec §4.7 blocks servicing
// the transport between mix-deadline checks; the transport itself is an
// external collaborator (spec §1), so this loop polls the IncomingQueue
// rather than multiplexing real sockets.
const networkPollInterval = time.Second

// Loop owns every long-lived queue reference, per spec §3's ownership
// note, and coordinates all mutation across them.
type Loop struct {
	Incoming *incoming.Queue
	Pool     *mix.Pool
	Outgoing *outgoing.Queue
	Modules  *delivery.Manager
	Ring     *keyring.Ring

	Clock         clock.Clock
	MixInterval   time.Duration
	ShredInterval time.Duration

	hashLog     *hashlog.Log
	liveKeyName string
}

// router adapts Loop's queues to mix.Router so Pool.Mix can dispatch
// without importing outgoing/delivery directly.
type router struct{ l *Loop }

func (r router) RouteRelay(ctx context.Context, peer packet.RelayEndpoint, inner packet.Packet) error {
	_, err := r.l.Outgoing.Enqueue(peer, inner)
	return err
}

func (r router) RouteExit(ctx context.Context, payload, tag []byte, exitType packet.ExitType, exitInfo []byte) error {
	return r.l.Modules.Accept(payload, tag, exitType, exitInfo)
}

// Run drives the loop until ctx is cancelled, at which point the current
// iteration finishes, every durable queue is left flushed to disk, and Run
// returns nil (spec §5: "after the current loop iteration completes,
// queues are flushed to disk").
func (l *Loop) Run(ctx context.Context) error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logging.Warn("ServerLoop", "SdNotify(READY) failed (expected outside systemd): %v", err)
	}

	nextMix := l.Clock.Now().Add(l.MixInterval)
	nextShred := l.Clock.Now().Add(l.ShredInterval)
	rt := router{l: l}

	ticker := time.NewTicker(networkPollInterval)
	defer ticker.Stop()

	for {
		if err := l.refreshLiveKey(); err != nil {
			logging.Error("ServerLoop", err, "failed to refresh live key")
		}

		// Step 1: service the network until the mix deadline arrives.
		for l.Clock.Now().Before(nextMix) {
			select {
			case <-ctx.Done():
				return l.shutdown()
			case <-ticker.C:
				if _, err := l.Incoming.Drain(ctx, l.Pool); err != nil {
					logging.Error("ServerLoop", err, "incoming drain failed")
				}
			}
		}

		// Step 2: the durable replay-prevention barrier.
		if l.hashLog != nil {
			if err := l.hashLog.Sync(); err != nil {
				logging.Error("ServerLoop", err, "hash log sync failed")
			}
		}

		// Step 3: release this tick's batch.
		if _, err := l.Pool.Mix(ctx, l.MixInterval, rt); err != nil {
			logging.Error("ServerLoop", err, "mix tick failed")
		}

		// Step 4: flush outgoing transport sends, then module deliveries.
		if err := l.Outgoing.Flush(ctx); err != nil {
			logging.Error("ServerLoop", err, "outgoing flush failed")
		}
		if err := l.Modules.Flush(ctx); err != nil {
			logging.Error("ServerLoop", err, "module flush failed")
		}

		if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
			logging.Debug("ServerLoop", "SdNotify(WATCHDOG) failed (expected outside systemd): %v", err)
		}

		// Step 5.
		nextMix = l.Clock.Now().Add(l.MixInterval)

		// Step 6: slow-cadence compaction.
		if !l.Clock.Now().Before(nextShred) {
			l.clean()
			nextShred = l.Clock.Now().Add(l.ShredInterval)
		}
	}
}

// refreshLiveKey is the opportunistic key-rotation check spec §4.7
// describes: fetched on the hot path, and when the live key's name
// changes, the hash log is reopened against the new keyset before the
// next iteration's network service.
func (l *Loop) refreshLiveKey() error {
	ks, err := l.Ring.LiveKey(l.Clock.Now())
	if err != nil {
		return err
	}
	if ks.Name == l.liveKeyName && l.hashLog != nil {
		return nil
	}

	logLog, err := hashlog.Open(ks.HashLogPath)
	if err != nil {
		return err
	}
	if l.hashLog != nil {
		l.hashLog.Close()
	}
	l.hashLog = logLog
	l.liveKeyName = ks.Name
	logging.Info("ServerLoop", "rotated to live key %s", ks.Name)
	return nil
}

func (l *Loop) clean() {
	if err := l.Incoming.Clean(); err != nil {
		logging.Error("ServerLoop", err, "incoming queue clean failed")
	}
	if err := l.Pool.Clean(); err != nil {
		logging.Error("ServerLoop", err, "mix pool clean failed")
	}
	if err := l.Outgoing.Clean(); err != nil {
		logging.Error("ServerLoop", err, "outgoing queue clean failed")
	}
	logging.Info("ServerLoop", "padding packets dropped so far: %d", l.Pool.DroppedCount())
}

func (l *Loop) shutdown() error {
	logging.Info("ServerLoop", "shutting down, flushing queues")
	if err := l.Outgoing.Flush(context.Background()); err != nil {
		logging.Error("ServerLoop", err, "final outgoing flush failed")
	}
	if err := l.Modules.Flush(context.Background()); err != nil {
		logging.Error("ServerLoop", err, "final module flush failed")
	}
	if l.hashLog != nil {
		if err := l.hashLog.Close(); err != nil {
			logging.Error("ServerLoop", err, "closing hash log failed")
		}
	}
	return nil
}
