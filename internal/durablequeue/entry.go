package durablequeue

import (
	"encoding/binary"
	"fmt"
	"time"
)

// magic identifies a miniond queue-entry file; version lets a future format
// change be detected instead of silently misparsed.
const (
	magic           uint32 = 0x4d494e51 // "MINQ"
	formatVersion   uint8  = 1
	headerFixedSize        = 4 + 1 + 1 + 8 + 8 + 4 // magic+version+retry_count+first_queued_at+next_attempt_at+addr_len
)

// Entry is the unit stored in a durable queue (spec §3 QueueEntry).
// Address is queue-type-specific: nil for IncomingQueue, an encoded
// RelayEndpoint for OutgoingQueue, an encoded (exit_type, exit_info, tag)
// tuple for a module's delivery queue.
type Entry struct {
	Handle        string
	Address       []byte
	Payload       []byte
	RetryCount    uint8
	FirstQueuedAt time.Time
	NextAttemptAt time.Time
}

// encode serializes the fixed header plus address plus payload, per the
// on-disk layout in spec §6.
func (e Entry) encode() []byte {
	buf := make([]byte, headerFixedSize+len(e.Address)+len(e.Payload))
	binary.BigEndian.PutUint32(buf[0:4], magic)
	buf[4] = formatVersion
	buf[5] = e.RetryCount
	binary.BigEndian.PutUint64(buf[6:14], uint64(e.FirstQueuedAt.UnixNano()))
	binary.BigEndian.PutUint64(buf[14:22], uint64(e.NextAttemptAt.UnixNano()))
	binary.BigEndian.PutUint32(buf[22:26], uint32(len(e.Address)))
	copy(buf[26:26+len(e.Address)], e.Address)
	copy(buf[26+len(e.Address):], e.Payload)
	return buf
}

// decode parses a queue-entry file's contents. A header that doesn't match
// magic/version, or whose addr_len overruns the buffer, is reported so the
// caller can quarantine the file instead of panicking (spec §4.1: "A
// corrupted entry is quarantined to a sibling dead directory").
func decode(handle string, data []byte) (Entry, error) {
	if len(data) < headerFixedSize {
		return Entry{}, fmt.Errorf("entry %s: truncated header (%d bytes)", handle, len(data))
	}
	gotMagic := binary.BigEndian.Uint32(data[0:4])
	if gotMagic != magic {
		return Entry{}, fmt.Errorf("entry %s: bad magic %x", handle, gotMagic)
	}
	version := data[4]
	if version != formatVersion {
		return Entry{}, fmt.Errorf("entry %s: unsupported format version %d", handle, version)
	}

	retryCount := data[5]
	firstQueuedAt := time.Unix(0, int64(binary.BigEndian.Uint64(data[6:14])))
	nextAttemptAt := time.Unix(0, int64(binary.BigEndian.Uint64(data[14:22])))
	addrLen := binary.BigEndian.Uint32(data[22:26])

	rest := data[headerFixedSize:]
	if uint64(addrLen) > uint64(len(rest)) {
		return Entry{}, fmt.Errorf("entry %s: addr_len %d exceeds body length %d", handle, addrLen, len(rest))
	}

	address := append([]byte(nil), rest[:addrLen]...)
	payload := append([]byte(nil), rest[addrLen:]...)

	return Entry{
		Handle:        handle,
		Address:       address,
		Payload:       payload,
		RetryCount:    retryCount,
		FirstQueuedAt: firstQueuedAt,
		NextAttemptAt: nextAttemptAt,
	}, nil
}
