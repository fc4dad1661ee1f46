package cmd

import (
	"os"
	"time"

	"miniond/internal/runtime"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newKeygenCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate new key rotation intervals",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			rt := runtime.New(cfg.Server.Homedir, time.Now().UnixNano())
			ring := newRing(cfg, rt.Clock)
			if err := ring.Scan(); err != nil {
				return err
			}
			before := len(ring.Intervals())

			modules, err := newModuleManager(cfg, rt)
			if err != nil {
				return err
			}

			s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
			s.Suffix = " generating keysets..."
			s.Start()
			err = ring.Create(count, nil, modules.ServerInfoBlocks())
			s.Stop()
			if err != nil {
				return err
			}

			intervals := ring.Intervals()
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Name", "Valid After", "Valid Until"})
			for _, ks := range intervals[before:] {
				t.AppendRow(table.Row{ks.Name, ks.ValidAfter.Format(time.RFC3339), ks.ValidUntil.Format(time.RFC3339)})
			}
			t.Render()
			return nil
		},
	}
	addConfigFlag(cmd)
	cmd.Flags().IntVarP(&count, "number", "n", 1, "number of keysets to generate")
	return cmd
}
