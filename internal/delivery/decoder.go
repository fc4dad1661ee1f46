package delivery

// DecodeKind tags the three possible outcomes of attempting to peel the
// innermost onion-payload layer off an exit message (spec §9 design note:
// "re-architect as an explicit three-way result {Plain, StillEncrypted,
// Corrupt} from the payload decoder" in place of exceptions).
type DecodeKind int

const (
	DecodePlain DecodeKind = iota
	DecodeStillEncrypted
	DecodeCorrupt
)

// DecodeOutcome is what a PayloadDecoder returns to ModuleManager.Accept.
type DecodeOutcome struct {
	Kind    DecodeKind
	Payload []byte
}

// PayloadDecoder is the onion-payload decoder ModuleManager.Accept
// consults (spec §4.5 step 2). Its cryptography is out of scope per spec
// §1; this package only depends on the three-way contract.
type PayloadDecoder interface {
	Decode(payload []byte) DecodeOutcome
}

// PassthroughDecoder treats every payload as already-cleartext. It exists
// for tests and for deployments where the onion-payload cryptography lives
// entirely upstream in the PacketHandler, leaving ModuleManager nothing to
// unwrap.
type PassthroughDecoder struct{}

func (PassthroughDecoder) Decode(payload []byte) DecodeOutcome {
	return DecodeOutcome{Kind: DecodePlain, Payload: payload}
}
