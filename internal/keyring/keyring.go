// Package keyring implements the KeyRing component (spec §4.2): discovery,
// generation, retirement, and live-key lookup for the rotating set of
// on-disk server keys, plus the separate long-lived identity key.
package keyring

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"miniond/internal/clock"
	"miniond/internal/descriptor"
	"miniond/internal/errs"
	"miniond/internal/hashlog"
	"miniond/pkg/logging"

	"golang.org/x/sync/singleflight"
)

// KeySet is the bundle of keys valid during one time interval (spec §3).
type KeySet struct {
	Name        string
	ValidAfter  time.Time
	ValidUntil  time.Time
	PacketKey   []byte
	MMTPKey     []byte
	MMTPCert    []byte
	HashLogPath string
}

var dirNameRe = regexp.MustCompile(`^key_(\d+)$`)

// Ring owns the on-disk key directory and serves the live KeySet view to
// the PacketHandler and transport context.
type Ring struct {
	dir                 string
	identityPath        string
	sloppiness          time.Duration
	publicKeyLifetime   time.Duration
	clock               clock.Clock
	hashlogDir          string

	mu          sync.RWMutex
	intervals   []KeySet
	cachedLive  *KeySet
	nextRotate  time.Time

	sf singleflight.Group
}

// New constructs a Ring rooted at dir (typically $Homedir/keys), with
// hashlogDir as the sibling directory each KeySet's hash log is placed in
// (spec §6: "work/hashlogs/hash_<name>").
func New(dir, hashlogDir string, publicKeyLifetime, sloppiness time.Duration, clk clock.Clock) *Ring {
	return &Ring{
		dir:               dir,
		identityPath:      filepath.Join(dir, "identity.key"),
		sloppiness:        sloppiness,
		publicKeyLifetime: publicKeyLifetime,
		clock:             clk,
		hashlogDir:        hashlogDir,
	}
}

// Scan enumerates key_NNNN subdirectories, parses each one's ServerDesc,
// and rebuilds the sorted interval list (spec §4.2). Unparseable or
// non-matching directories are logged and skipped, never fatal. The scan
// result is an immutable snapshot (spec §9 design note); concurrent
// callers never observe a half-built list.
func (r *Ring) Scan() error {
	infos, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(r.dir, 0o700); mkErr != nil {
				return errs.New(errs.KindFatalCrypto, "Ring.Scan", fmt.Errorf("creating key directory %s: %w", r.dir, mkErr))
			}
			r.mu.Lock()
			r.intervals = nil
			r.cachedLive = nil
			r.mu.Unlock()
			return nil
		}
		return errs.New(errs.KindQueueIO, "Ring.Scan", err)
	}

	var intervals []KeySet
	for _, info := range infos {
		if !info.IsDir() {
			continue
		}
		m := dirNameRe.FindStringSubmatch(info.Name())
		if m == nil {
			continue
		}

		keysetDir := filepath.Join(r.dir, info.Name())
		ks, err := loadKeySet(keysetDir, m[1], r.hashlogDir)
		if err != nil {
			logging.Warn("KeyRing", "skipping unparseable keyset directory %s: %v", info.Name(), err)
			continue
		}
		intervals = append(intervals, ks)
	}

	sort.Slice(intervals, func(i, j int) bool {
		return intervals[i].ValidAfter.Before(intervals[j].ValidAfter)
	})

	checkScheduleGaps(intervals)

	r.mu.Lock()
	r.intervals = intervals
	r.cachedLive = nil
	r.mu.Unlock()
	return nil
}

func loadKeySet(dir, name, hashlogDir string) (KeySet, error) {
	desc, err := descriptor.Load(dir)
	if err != nil {
		return KeySet{}, err
	}

	packetKey, err := os.ReadFile(filepath.Join(dir, "mix.key"))
	if err != nil {
		return KeySet{}, fmt.Errorf("reading mix.key: %w", err)
	}
	mmtpKey, err := os.ReadFile(filepath.Join(dir, "mmtp.key"))
	if err != nil {
		return KeySet{}, fmt.Errorf("reading mmtp.key: %w", err)
	}
	mmtpCert, err := os.ReadFile(filepath.Join(dir, "mmtp.cert"))
	if err != nil {
		return KeySet{}, fmt.Errorf("reading mmtp.cert: %w", err)
	}

	return KeySet{
		Name:        name,
		ValidAfter:  desc.ValidAfter,
		ValidUntil:  desc.ValidUntil,
		PacketKey:   packetKey,
		MMTPKey:     mmtpKey,
		MMTPCert:    mmtpCert,
		HashLogPath: hashlog.PathFor(hashlogDir, name),
	}, nil
}

// checkScheduleGaps logs warnings for overlaps and gaps between adjacent
// intervals (spec §4.2: "Overlap is tolerated but logged as a warning;
// gaps are logged as warnings").
func checkScheduleGaps(intervals []KeySet) {
	for i := 1; i < len(intervals); i++ {
		prev, cur := intervals[i-1], intervals[i]
		switch {
		case cur.ValidAfter.Before(prev.ValidUntil):
			logging.Warn("KeyRing", "keyset %s overlaps keyset %s", cur.Name, prev.Name)
		case cur.ValidAfter.After(prev.ValidUntil):
			logging.Warn("KeyRing", "gap in key schedule between %s and %s", prev.Name, cur.Name)
		}
	}
}

// genRandom is the placeholder key-material generator: the onion-packet
// cryptography and the MMTP wire codec are external collaborators (spec
// §1), so the core only needs opaque, uniformly random key bytes it can
// hand to those collaborators unexamined.
func genRandom(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generating key material: %w", err)
	}
	return buf, nil
}
