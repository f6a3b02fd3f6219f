package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every directory that would be watched",
	Long: `Install the watches for the configured directories, print the path of
every watched directory and exit. Directories rejected by the exclude
rules are not listed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		tr, err := openTree(cfg, logger)
		if err != nil {
			return err
		}
		defer tr.Close()

		out := cmd.OutOrStdout()
		for _, p := range tr.Paths() {
			fmt.Fprintln(out, p)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%d directories\n", tr.Len())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
