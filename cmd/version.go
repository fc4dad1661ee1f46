package cmd

import "github.com/spf13/cobra"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the miniond version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println(rootCmd.Version)
			return nil
		},
	}
}
