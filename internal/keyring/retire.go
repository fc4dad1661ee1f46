package keyring

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"miniond/pkg/logging"
)

// deadKeyset is the single filtered tuple spec §9's REDESIGN FLAGS
// requires in place of the source's "zips directory paths with the full
// interval list rather than the filtered-by-expiry list" bug: building one
// list up front means the log message and the deletion target can never
// drift apart.
type deadKeyset struct {
	dir        string
	name       string
	validAfter time.Time
	validUntil time.Time
}

// RemoveDead deletes every keyset whose ValidUntil is more than sloppiness
// in the past, securely overwriting key material before unlinking (spec
// §4.2).
func (r *Ring) RemoveDead(now time.Time) error {
	if err := r.Scan(); err != nil {
		return err
	}

	var dead []deadKeyset
	for _, ks := range r.Intervals() {
		if ks.ValidUntil.Before(now.Add(-r.sloppiness)) {
			dead = append(dead, deadKeyset{
				dir:        filepath.Join(r.dir, "key_"+ks.Name),
				name:       ks.Name,
				validAfter: ks.ValidAfter,
				validUntil: ks.ValidUntil,
			})
		}
	}

	for _, d := range dead {
		logging.Info("KeyRing", "removing expired keyset %s (valid [%s, %s))", d.name, d.validAfter, d.validUntil)
		if err := secureDeleteDir(d.dir); err != nil {
			logging.Error("KeyRing", err, "failed to remove expired keyset %s", d.name)
			continue
		}
	}

	return r.Scan()
}

// secureDeleteDir overwrites every regular file under dir with random
// bytes before removing the directory tree, so expired key material does
// not linger recoverably on disk.
func secureDeleteDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("listing %s: %w", dir, err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := secureDeleteFile(path); err != nil {
			logging.Warn("KeyRing", "failed to securely overwrite %s before deletion: %v", path, err)
		}
	}

	return os.RemoveAll(dir)
}

// SecureDeleteFile overwrites path with random bytes before the caller
// removes it. Exported for the remove-keys CLI command's dhparam cleanup
// (spec §9's corrected "remove stale dhparam file" bug fix), which needs
// the same secure-overwrite primitive outside the Ring's own key material.
func SecureDeleteFile(path string) error {
	return secureDeleteFile(path)
}

// secureDeleteFile overwrites path's contents with random bytes in place.
func secureDeleteFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	junk := make([]byte, info.Size())
	if _, err := rand.Read(junk); err != nil {
		return err
	}
	return os.WriteFile(path, junk, info.Mode())
}
