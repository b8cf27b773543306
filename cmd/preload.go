package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

var preloadCmd = &cobra.Command{
	Use:   "preload",
	Short: "List the whole hierarchy once and report what was loaded",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDaemon(cmd.Context())
		if err != nil {
			return err
		}

		res := d.Preload(cmd.Context())

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
		return res.Err
	},
}

func init() {
	rootCmd.AddCommand(preloadCmd)
}
