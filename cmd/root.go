package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Exit codes per spec §6: "Exit 0 on normal termination; 1 on config or
// fatal startup error."
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
)

// rootCmd is the entry point when miniond is called without any
// subcommand.
var rootCmd = &cobra.Command{
	Use:           "miniond",
	Short:         "A Mixminion-style mix-network relay server",
	Long:          `miniond ingests onion packets over MMTP, mixes them, and either forwards or delivers them through pluggable exit modules.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// SetVersion sets the version for the root command, injected from main at
// build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the CLI entry point called from main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "miniond version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrln("error:", err)
		os.Exit(ExitCodeError)
	}
	os.Exit(ExitCodeSuccess)
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newServerCmd())
	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newRemoveKeysCmd())
}
