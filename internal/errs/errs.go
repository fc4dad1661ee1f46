// Package errs defines the error-kind taxonomy of spec §7. Every error that
// crosses a component boundary in miniond is, or wraps, one of these kinds,
// so that callers can decide policy (drop, retry, quarantine, fatal) with a
// single errors.As instead of string-matching messages.
package errs

import "fmt"

// Kind identifies one row of the §7 error-handling table.
type Kind string

const (
	KindCrypto            Kind = "CryptoError"
	KindParse             Kind = "ParseError"
	KindContent           Kind = "ContentError"
	KindReplay            Kind = "ReplayDetected"
	KindTransportTimeout  Kind = "TransportTimeout"
	KindTransportRefused  Kind = "TransportRefused"
	KindTransportPermanent Kind = "TransportPermanent"
	KindDeliveryRetry     Kind = "DeliveryRetry"
	KindDeliveryNoRetry   Kind = "DeliveryNoRetry"
	KindQueueIO           Kind = "QueueIO"
	KindConfig            Kind = "ConfigError"
	KindFatalCrypto       Kind = "FatalCrypto"
)

// Error wraps a causing error with its §7 kind. Packet-handling errors,
// transport errors, and delivery-module errors are all surfaced this way.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap allows errors.Is/errors.As to see through to the cause.
func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error of the given kind for op, wrapping cause.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Retriable reports whether an error of this kind should be retried with
// backoff (DeliveryRetry, TransportTimeout, TransportRefused) rather than
// dropped outright.
func (k Kind) Retriable() bool {
	switch k {
	case KindTransportTimeout, KindTransportRefused, KindDeliveryRetry:
		return true
	default:
		return false
	}
}

// Fatal reports whether an error of this kind must abort startup (§7:
// ConfigError and FatalCrypto exit the process with status 1).
func (k Kind) Fatal() bool {
	switch k {
	case KindConfig, KindFatalCrypto:
		return true
	default:
		return false
	}
}

// Silent reports whether an error of this kind is expected, ordinary
// operation and should not be logged at warning severity (ReplayDetected
// per §7: "drop silently (normal)").
func (k Kind) Silent() bool {
	return k == KindReplay
}
