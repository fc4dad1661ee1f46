// Package hashlog implements the append-only replay-prevention log spec
// §3 and §4.3 describe: one log per KeySet, holding the hashes of packets
// already processed under that key. A hit in contains means "reject as
// ReplayDetected"; sync draws the fsync boundary that must happen-before
// any side effect of the same mix batch (spec §5).
package hashlog

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// hashSize matches the PacketHandler's replay identifier length (sha256,
// per the original implementation's SHA1-then-truncate scheme generalized
// to a modern 32-byte digest; the exact hash algorithm is the onion-packet
// decoder's concern, out of scope per spec §1).
const hashSize = 32

// Log is a single keyset's replay-prevention set, backed by an append-only
// file of fixed-size hash entries.
type Log struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	writer  *bufio.Writer
	entries map[[hashSize]byte]struct{}
}

// Open loads path (creating it if absent) and rebuilds the in-memory set
// from whatever entries were already durably appended.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating hash log directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening hash log %s: %w", path, err)
	}

	entries := make(map[[hashSize]byte]struct{})
	buf := make([]byte, hashSize)
	for {
		n, err := f.Read(buf)
		if n == hashSize {
			var h [hashSize]byte
			copy(h[:], buf)
			entries[h] = struct{}{}
		}
		if err != nil {
			break
		}
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("seeking hash log %s: %w", path, err)
	}

	return &Log{
		path:    path,
		file:    f,
		writer:  bufio.NewWriter(f),
		entries: entries,
	}, nil
}

// Contains reports whether h has already been recorded, durably or not —
// an entry added earlier in the same batch and not yet synced still counts,
// since PacketHandler must see its own in-progress batch's effects.
func (l *Log) Contains(h []byte) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := toKey(h)
	_, ok := l.entries[key]
	return ok
}

// Add records h in memory and buffers it for the next Sync. It is not
// durable until Sync returns.
func (l *Log) Add(h []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := toKey(h)
	if _, ok := l.entries[key]; ok {
		return nil
	}
	if _, err := l.writer.Write(h); err != nil {
		return fmt.Errorf("buffering hash log entry: %w", err)
	}
	l.entries[key] = struct{}{}
	return nil
}

// Sync flushes buffered entries and fsyncs the underlying file. The
// ServerLoop calls this once per mix interval, between draining the
// IncomingQueue and acting on the mix pool's output (spec §4.7 step 2).
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("flushing hash log %s: %w", l.path, err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("fsyncing hash log %s: %w", l.path, err)
	}
	return nil
}

// Close flushes and releases the underlying file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer.Flush()
	return l.file.Close()
}

func toKey(h []byte) [hashSize]byte {
	var key [hashSize]byte
	copy(key[:], h)
	return key
}

// PathFor derives a KeySet's hash log path from its name, matching the
// work/hashlogs/hash_<name> layout in spec §6.
func PathFor(hashlogDir, keysetName string) string {
	return hashlogDir + "/hash_" + keysetName
}

// FormatHex is a convenience for log messages that want a short,
// human-distinguishable rendering of a hash without dumping raw bytes.
func FormatHex(h []byte) string {
	if len(h) > 8 {
		h = h[:8]
	}
	return hex.EncodeToString(h)
}
