// Package delivery implements the pluggable exit-delivery framework: the
// DeliveryModule capability-set interface, the ModuleManager that
// dispatches by exit type, and the built-in Drop/MBOX/SMTP-via-relay
// modules (spec §4.5). Spec §9 re-architects the source's inheritance and
// duck-typing into this interface plus a tagged variant for built-ins;
// third-party modules register through the same Register call.
package delivery

import (
	"context"

	"miniond/internal/clock"
	"miniond/internal/config"
	"miniond/internal/durablequeue"
	"miniond/internal/packet"

	"math/rand"
)

// Result is a module's per-message delivery outcome (spec §4.5).
type Result int

const (
	ResultOk Result = iota
	ResultRetry
	ResultNoRetry
)

func (r Result) String() string {
	switch r {
	case ResultOk:
		return "Ok"
	case ResultRetry:
		return "Retry"
	case ResultNoRetry:
		return "NoRetry"
	default:
		return "Unknown"
	}
}

// FieldRequirement marks whether a config_schema key must be present.
type FieldRequirement int

const (
	Require FieldRequirement = iota
	Allow
)

// FieldSpec describes one key in a module's config_schema contribution.
type FieldSpec struct {
	Requirement FieldRequirement
	Default     string
}

// ConfigSchema is section -> key -> spec, merged into the global schema by
// the ModuleManager; a key collision between two modules' schemas fails
// validation (spec §4.5).
type ConfigSchema map[string]map[string]FieldSpec

// DeliveryQueue is the narrow slice of durablequeue.Queue's API a
// DeliveryModule's per-message queue needs. *durablequeue.Queue satisfies
// this structurally; Drop's in-memory queue satisfies it too.
type DeliveryQueue interface {
	Enqueue(address, payload []byte) (string, error)
	Drain(limit int) ([]durablequeue.Entry, error)
	Succeeded(handle string) error
	Failed(handle string, retriable bool) error
	Count() (int, error)
	Clean() error
}

// BatchFlusher is an optional capability a module implements when it needs
// a hook after its whole batch has been processed — SMTP-via-relay's
// "flush pool" command on the external remailer binary (spec §4.5).
type BatchFlusher interface {
	FlushBatch(ctx context.Context) error
}

// DeliveryModule is the capability set every exit module provides (spec
// §4.5).
type DeliveryModule interface {
	Name() string
	ExitTypes() []packet.ExitType
	ConfigSchema() ConfigSchema
	Configure(cfg config.Config) (enabled bool, err error)
	ServerInfoBlock() string
	CreateQueue(dir string, clk clock.Clock, rnd *rand.Rand, maxRetries uint8) (DeliveryQueue, error)
	Process(ctx context.Context, payload, tag []byte, exitType packet.ExitType, exitInfo []byte) (Result, error)
}

// DefaultQueue is the "plain per-entry queue" spec §4.5 names as the
// default CreateQueue implementation; modules needing per-destination
// batching (none of the built-ins do) override CreateQueue instead.
func DefaultQueue(dir string, clk clock.Clock, rnd *rand.Rand, maxRetries uint8) (DeliveryQueue, error) {
	return durablequeue.Open(dir, maxRetries, clk, rnd)
}
