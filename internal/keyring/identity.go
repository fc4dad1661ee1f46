package keyring

import (
	"crypto/rand"
	"fmt"
	"os"

	"miniond/internal/errs"
	"miniond/pkg/logging"
)

const identityKeyBits = 2048

// IdentityKey returns the long-lived signing key, generating and
// persisting it on first use (spec §4.2: "created on first use, never
// rotated here"). SPEC_FULL.md's supplemented feature 1 supplements the distilled spec's
// silence on bootstrap ordering: a server with no identity key yet creates
// one instead of failing startup.
func (r *Ring) IdentityKey() ([]byte, error) {
	data, err := os.ReadFile(r.identityPath)
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, errs.New(errs.KindFatalCrypto, "Ring.IdentityKey", err)
	}

	logging.Info("KeyRing", "no identity key found at %s, generating one", r.identityPath)
	key := make([]byte, identityKeyBits/8)
	if _, err := rand.Read(key); err != nil {
		return nil, errs.New(errs.KindFatalCrypto, "Ring.IdentityKey", fmt.Errorf("generating identity key: %w", err))
	}

	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return nil, errs.New(errs.KindFatalCrypto, "Ring.IdentityKey", fmt.Errorf("creating key directory: %w", err))
	}
	if err := os.WriteFile(r.identityPath, key, 0o600); err != nil {
		return nil, errs.New(errs.KindFatalCrypto, "Ring.IdentityKey", fmt.Errorf("persisting identity key: %w", err))
	}
	return key, nil
}

// DeleteIdentityKey removes the identity key, used by the remove-keys CLI
// command's --remove-identity flag (spec §6).
func (r *Ring) DeleteIdentityKey() error {
	if err := secureDeleteFile(r.identityPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.Remove(r.identityPath)
}
