package keyring

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"miniond/internal/descriptor"
	"miniond/internal/errs"
	"miniond/pkg/logging"
)

const nameWidth = 4

// Create generates n new keysets (spec §4.2's create(n, start_at)). A nil
// startAt defaults to 60s after the last existing keyset's ValidUntil, or
// 60s after now if the ring is empty, then rounds down to the previous
// UTC midnight. infoBlock is the concatenated ModuleManager.ServerInfoBlocks()
// output, stamped into each new keyset's descriptor (spec §4.5, supplemented
// per SPEC_FULL.md's supplemented feature 4).
func (r *Ring) Create(n int, startAt *time.Time, infoBlock string) error {
	if err := r.Scan(); err != nil {
		return err
	}

	start := r.resolveStart(startAt)
	start = previousMidnightUTC(start)

	next := r.nextName()

	for i := 0; i < n; i++ {
		nextStart := start.Add(r.publicKeyLifetime)
		name := fmt.Sprintf("%0*d", nameWidth, next)

		if err := r.generateOne(name, start, nextStart, infoBlock); err != nil {
			return errs.New(errs.KindFatalCrypto, "Ring.Create", fmt.Errorf("generating keyset %s: %w", name, err))
		}
		logging.Info("KeyRing", "generated keyset %s valid [%s, %s)", name, start, nextStart)

		start = nextStart
		next++
	}

	return r.Scan()
}

func (r *Ring) resolveStart(startAt *time.Time) time.Time {
	if startAt != nil {
		return *startAt
	}

	r.mu.RLock()
	intervals := r.intervals
	r.mu.RUnlock()

	if len(intervals) == 0 {
		return r.clock.Now().Add(60 * time.Second)
	}
	return intervals[len(intervals)-1].ValidUntil.Add(60 * time.Second)
}

func previousMidnightUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// nextName picks the next integer name, preferring to extend the sequence
// after the highest existing name over filling a gap (spec §4.2).
func (r *Ring) nextName() int {
	infos, err := os.ReadDir(r.dir)
	if err != nil {
		return 1
	}

	max := 0
	for _, info := range infos {
		m := dirNameRe.FindStringSubmatch(info.Name())
		if m == nil {
			continue
		}
		if v, err := strconv.Atoi(m[1]); err == nil && v > max {
			max = v
		}
	}
	return max + 1
}

func (r *Ring) generateOne(name string, validAfter, validUntil time.Time, infoBlock string) error {
	dir := filepath.Join(r.dir, "key_"+name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	packetKey, err := genRandom(32)
	if err != nil {
		return err
	}
	mmtpKey, err := genRandom(32)
	if err != nil {
		return err
	}
	mmtpCert, err := genRandom(64)
	if err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(dir, "mix.key"), packetKey, 0o600); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "mmtp.key"), mmtpKey, 0o600); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "mmtp.cert"), mmtpCert, 0o600); err != nil {
		return err
	}

	return descriptor.Save(dir, descriptor.ServerDesc{
		Name:       name,
		ValidAfter: validAfter,
		ValidUntil: validUntil,
		InfoBlock:  infoBlock,
	})
}

// RefreshInfoBlocks rewrites InfoBlock on every existing keyset's on-disk
// descriptor, leaving every other field untouched. Called after delivery
// modules are (re)configured so already-generated keysets advertise the
// current set of enabled modules without forcing a rekey (spec §4.5,
// supplemented per SPEC_FULL.md's supplemented feature 4).
func (r *Ring) RefreshInfoBlocks(infoBlock string) error {
	if err := r.Scan(); err != nil {
		return err
	}

	infos, err := os.ReadDir(r.dir)
	if err != nil {
		return errs.New(errs.KindFatalCrypto, "Ring.RefreshInfoBlocks", err)
	}

	for _, info := range infos {
		m := dirNameRe.FindStringSubmatch(info.Name())
		if m == nil {
			continue
		}
		dir := filepath.Join(r.dir, info.Name())

		desc, err := descriptor.Load(dir)
		if err != nil {
			return errs.New(errs.KindFatalCrypto, "Ring.RefreshInfoBlocks", fmt.Errorf("loading %s: %w", info.Name(), err))
		}
		if desc.InfoBlock == infoBlock {
			continue
		}
		desc.InfoBlock = infoBlock

		if err := descriptor.Save(dir, desc); err != nil {
			return errs.New(errs.KindFatalCrypto, "Ring.RefreshInfoBlocks", fmt.Errorf("saving %s: %w", info.Name(), err))
		}
	}

	return nil
}
