package cmd

import (
	"fmt"
	"os"
	"time"

	"miniond/internal/keyring"
	"miniond/internal/runtime"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

func newRemoveKeysCmd() *cobra.Command {
	var removeIdentity bool
	cmd := &cobra.Command{
		Use:   "remove-keys",
		Short: "Securely delete expired key rotation intervals",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			rt := runtime.New(cfg.Server.Homedir, time.Now().UnixNano())
			ring := newRing(cfg, rt.Clock)
			if err := ring.RemoveDead(time.Now()); err != nil {
				return err
			}

			// The original implementation matched the dhparam path against a
			// literal string instead of checking whether the file actually
			// existed; spec §9's corrected behavior is a plain existence
			// check before the secure delete.
			dhfile := dhparamPath(cfg)
			if _, err := os.Stat(dhfile); err == nil {
				if err := keyring.SecureDeleteFile(dhfile); err != nil {
					return fmt.Errorf("securely deleting stale dhparam file: %w", err)
				}
				if err := os.Remove(dhfile); err != nil {
					return fmt.Errorf("removing stale dhparam file: %w", err)
				}
			}

			if !removeIdentity {
				return nil
			}
			return confirmAndRemoveIdentity(ring)
		},
	}
	addConfigFlag(cmd)
	cmd.Flags().BoolVar(&removeIdentity, "remove-identity", false, "also delete the long-lived identity key, after a confirmation pause")
	return cmd
}

// confirmAndRemoveIdentity gives the operator a 10-second window to back
// out before the identity key, which cannot be regenerated without
// invalidating every published reference to this server, is destroyed.
func confirmAndRemoveIdentity(ring *keyring.Ring) error {
	rl, err := readline.New("Type \"yes\" within 10 seconds to confirm identity key deletion: ")
	if err != nil {
		return fmt.Errorf("initializing confirmation prompt: %w", err)
	}
	defer rl.Close()

	answer := make(chan string, 1)
	go func() {
		line, err := rl.Readline()
		if err != nil {
			answer <- ""
			return
		}
		answer <- line
	}()

	select {
	case line := <-answer:
		if line != "yes" {
			fmt.Println("identity key deletion aborted")
			return nil
		}
	case <-time.After(10 * time.Second):
		fmt.Println("\nconfirmation timed out, identity key deletion aborted")
		return nil
	}

	return ring.DeleteIdentityKey()
}
