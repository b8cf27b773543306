package cmd

import (
	"encoding/json"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/certdesk/certdesk/folders"
)

var (
	resolveHint     string
	resolveStrategy string
	resolveDepth    int
	resolveExact    bool
	resolveNoCache  bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve NAME",
	Short: "Find the folder of a participant",
	Long: `Search the folder hierarchy for the participant and print the best
match and its alternatives as JSON. A --folder-id is returned as is.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDaemon(cmd.Context())
		if err != nil {
			return err
		}

		opts := &folders.SearchOptions{MaxDepth: resolveDepth}
		if resolveStrategy != "" {
			opts.Strategy = folders.Strategy(resolveStrategy)
		}
		if resolveExact {
			opts.FuzzyMatch = lo.ToPtr(false)
		}
		if resolveNoCache {
			opts.CacheEnabled = lo.ToPtr(false)
		}

		res := d.Resolve(cmd.Context(), args[0], resolveHint, opts)

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
		return res.Err
	},
}

func init() {
	f := resolveCmd.Flags()
	f.StringVar(&resolveHint, "folder-id", "", "known folder id, returned without searching")
	f.StringVar(&resolveStrategy, "strategy", "", "traversal order, BFS or DFS")
	f.IntVar(&resolveDepth, "max-depth", 0, "search depth below the root (0 uses the configured depth)")
	f.BoolVar(&resolveExact, "exact", false, "only accept exact name matches")
	f.BoolVar(&resolveNoCache, "no-cache", false, "neither read nor write the cache")
	rootCmd.AddCommand(resolveCmd)
}
