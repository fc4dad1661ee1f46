// Package mix implements the MixPool and its pluggable Algorithm contract
// (spec §4.4): a durable holding area that enforces the batching lower
// bound "a packet received at t is never delivered before t + mix_interval"
// (spec §5).
package mix
