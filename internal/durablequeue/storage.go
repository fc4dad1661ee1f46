package durablequeue

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"miniond/pkg/logging"

	"github.com/google/uuid"
)

// deadSubdir is the sibling directory corrupted entries are quarantined to,
// per spec §4.1.
const deadSubdir = "dead"

// atomicWrite writes via a temp file plus rename so a crash mid-write
// leaves either no entry or a complete one, never a partial file (spec
// §5).
func atomicWrite(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating queue directory %s: %w", dir, err)
	}

	tmpName := ".tmp-" + uuid.NewString()
	tmpPath := filepath.Join(dir, tmpName)
	finalPath := filepath.Join(dir, name)

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming %s into place: %w", tmpPath, err)
	}
	return nil
}

func quarantine(dir, handle string, cause error) {
	deadDir := filepath.Join(dir, deadSubdir)
	if err := os.MkdirAll(deadDir, 0o755); err != nil {
		logging.Error("DurableQueue", err, "failed to create quarantine directory %s", deadDir)
		return
	}
	src := filepath.Join(dir, handle)
	dst := filepath.Join(deadDir, handle)
	if err := os.Rename(src, dst); err != nil {
		logging.Error("DurableQueue", err, "failed to quarantine corrupted entry %s", handle)
		return
	}
	logging.Warn("DurableQueue", "quarantined corrupted entry %s: %v", handle, cause)
}

// listEntryFiles returns the handles of all non-temp, non-quarantined
// entry files currently in dir.
func listEntryFiles(dir string) ([]string, error) {
	infos, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var handles []string
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		name := info.Name()
		if strings.HasPrefix(name, ".tmp-") {
			continue
		}
		handles = append(handles, name)
	}
	return handles, nil
}
