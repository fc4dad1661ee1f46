package cmd

import (
	"fmt"
	"path/filepath"

	"miniond/internal/clock"
	"miniond/internal/config"
	"miniond/internal/delivery"
	"miniond/internal/keyring"
	"miniond/internal/runtime"

	"github.com/spf13/cobra"
)

// defaultConfigPath matches spec §6's on-disk layout: conf/miniond.conf
// relative to the working directory unless -f overrides it.
const defaultConfigPath = "conf/miniond.conf"

func addConfigFlag(cmd *cobra.Command) *string {
	return cmd.Flags().StringP("config", "f", defaultConfigPath, "path to miniond.conf")
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("loading %s: %w", path, err)
	}
	return cfg, nil
}

// keysDir, hashlogDir, queuesDir, and dhparamPath implement the on-disk
// layout named in spec §6, all rooted at $Homedir.
func keysDir(cfg config.Config) string {
	return filepath.Join(cfg.Server.Homedir, "keys")
}

func hashlogDir(cfg config.Config) string {
	return filepath.Join(cfg.Server.Homedir, "work", "hashlogs")
}

func queuesDir(cfg config.Config) string {
	return filepath.Join(cfg.Server.Homedir, "work", "queues")
}

func dhparamPath(cfg config.Config) string {
	return filepath.Join(cfg.Server.Homedir, "work", "tls", "dhparam")
}

func newRing(cfg config.Config, clk clock.Clock) *keyring.Ring {
	return keyring.New(keysDir(cfg), hashlogDir(cfg), cfg.Server.PublicKeyLifetime.Std(), cfg.Server.PublicKeySloppiness.Std(), clk)
}

// newModuleManager registers and configures the built-in delivery modules
// against cfg, driving the §4.5 config_schema merge and validation before
// any caller can read ServerInfoBlocks() off the result. Shared by the
// server and keygen commands so a keyset's InfoBlock is always stamped
// from the same enabled-module set the running server would serve.
func newModuleManager(cfg config.Config, rt runtime.Context) (*delivery.Manager, error) {
	modules := delivery.NewManager(filepath.Join(queuesDir(cfg), "deliver"), delivery.PassthroughDecoder{}, rt.Clock, rt.Rand, uint8(cfg.Server.MaxRetries))
	for _, m := range []delivery.DeliveryModule{delivery.DropModule{}, delivery.NewMBOXModule(), delivery.NewSMTPRelayModule()} {
		if err := modules.Register(m); err != nil {
			return nil, err
		}
	}
	if err := modules.Configure(cfg); err != nil {
		return nil, err
	}
	return modules, nil
}
