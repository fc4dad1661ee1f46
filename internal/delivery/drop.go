package delivery

import (
	"context"

	"miniond/internal/clock"
	"miniond/internal/config"
	"miniond/internal/packet"

	"math/rand"
)

// DropModule is the built-in DROP exit type: every message it sees is
// discarded, successfully, forever (spec §4.5).
type DropModule struct{}

func (DropModule) Name() string { return "drop" }

func (DropModule) ExitTypes() []packet.ExitType { return []packet.ExitType{packet.ExitDrop} }

func (DropModule) ConfigSchema() ConfigSchema { return nil }

// Configure always enables Drop; it has no configuration of its own.
func (DropModule) Configure(cfg config.Config) (bool, error) {
	return true, nil
}

func (DropModule) ServerInfoBlock() string {
	return "Drop-Type: 0x0000\n"
}

// CreateQueue returns the in-memory queue instead of the durable default,
// since dropped traffic need not survive a crash.
func (DropModule) CreateQueue(dir string, clk clock.Clock, rnd *rand.Rand, maxRetries uint8) (DeliveryQueue, error) {
	return newMemQueue(), nil
}

func (DropModule) Process(ctx context.Context, payload, tag []byte, exitType packet.ExitType, exitInfo []byte) (Result, error) {
	return ResultOk, nil
}
