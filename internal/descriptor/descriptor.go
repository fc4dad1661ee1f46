// Package descriptor defines the on-disk ServerDesc document KeyRing reads
// and writes for each keyset (spec §3, §6: "keys/key_NNNN/ServerDesc"). The
// core only needs to round-trip the fields it consumes; the wire format and
// signature scheme are out of scope (spec §1 non-goals), so this package
// marshals with sigs.k8s.io/yaml, the same "plain structured document, not
// a config file" role that k8s CRDs give it, which fits a descriptor
// better than the gopkg.in/yaml.v3 codec internal/config uses for
// conf/miniond.conf.
package descriptor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sigs.k8s.io/yaml"
)

// ServerDesc is the document KeyRing.scan parses out of each key_NNNN
// directory (spec §3 KeySet) and KeyRing.create emits.
type ServerDesc struct {
	Name        string    `json:"name"`
	Nickname    string    `json:"nickname"`
	ValidAfter  time.Time `json:"validAfter"`
	ValidUntil  time.Time `json:"validUntil"`
	IP          string    `json:"ip"`
	MMTPPort    int       `json:"mmtpPort"`
	Fingerprint string    `json:"fingerprint"`

	// InfoBlock concatenates each enabled DeliveryModule's
	// server_info_block() contribution (spec §4.5), supplemented beyond
	// the distilled spec per SPEC_FULL.md's supplemented feature 4.
	InfoBlock string `json:"infoBlock,omitempty"`
}

const fileName = "ServerDesc"

// Load parses the ServerDesc in dir. A directory with no such file, or one
// that fails to parse, is reported so KeyRing.scan can log and skip it
// rather than treat it as fatal.
func Load(dir string) (ServerDesc, error) {
	data, err := os.ReadFile(filepath.Join(dir, fileName))
	if err != nil {
		return ServerDesc{}, fmt.Errorf("reading %s: %w", fileName, err)
	}
	var desc ServerDesc
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return ServerDesc{}, fmt.Errorf("parsing %s: %w", fileName, err)
	}
	if !desc.ValidAfter.Before(desc.ValidUntil) {
		return ServerDesc{}, fmt.Errorf("%s: valid_after %s not before valid_until %s", fileName, desc.ValidAfter, desc.ValidUntil)
	}
	return desc, nil
}

// Save writes desc into dir, replacing any existing descriptor.
func Save(dir string, desc ServerDesc) error {
	data, err := yaml.Marshal(desc)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", fileName, err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return os.WriteFile(filepath.Join(dir, fileName), data, 0o600)
}
