package keyring

import (
	"context"
	"time"

	"miniond/pkg/logging"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow groups a burst of filesystem events (e.g. a keygen run
// writing several files) into a single rescan, in the style of a
// CertWatcher debounce loop.
const debounceWindow = 250 * time.Millisecond

// Watch starts an fsnotify watch on the key directory and rescans the ring
// whenever it settles after a burst of changes, until ctx is cancelled.
// KeyRing generation and retirement already rescan synchronously; this
// exists so an out-of-band change (an operator dropping in a keyset by
// hand, or a second process on the same host) is picked up opportunistically.
func (r *Ring) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(r.dir); err != nil {
		return err
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounceWindow)
			timerC = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn("KeyRing", "watch error on %s: %v", r.dir, err)

		case <-timerC:
			timerC = nil
			if err := r.Scan(); err != nil {
				logging.Error("KeyRing", err, "rescan after filesystem change failed")
			}
		}
	}
}
