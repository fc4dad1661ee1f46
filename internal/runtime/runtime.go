// Package runtime carries the explicit context spec §9's design note
// requires in place of a process-wide logger and crypto-init singleton:
// a clock, a secure-random source, and the filesystem root every
// constructor in this module is threaded through instead of reaching for
// globals. Tests substitute a fake clock and a scratch filesystem root
// for scenarios S5/S6.
package runtime

import (
	"math/rand"

	"miniond/internal/clock"
)

// Context bundles the collaborators spec §9 calls out by name.
type Context struct {
	Clock clock.Clock
	Rand  *rand.Rand
	Root  string // filesystem root, typically $Homedir
}

// New builds a Context with the real clock and a process-seeded random
// source.
func New(root string, seed int64) Context {
	return Context{
		Clock: clock.RealClock{},
		Rand:  rand.New(rand.NewSource(seed)),
		Root:  root,
	}
}

// NewForTest builds a Context over a fake clock and a deterministic
// random source, for tests that need to control time without touching a
// real filesystem clock.
func NewForTest(clk clock.Clock, root string) Context {
	return Context{
		Clock: clk,
		Rand:  rand.New(rand.NewSource(1)),
		Root:  root,
	}
}
