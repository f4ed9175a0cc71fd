package cli

import (
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Index a directory of PDFs and keep it in sync",
	Long: `watch scans the directory once, ingesting new and changed PDFs and removing
the vectors of deleted ones, then follows file changes until interrupted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		dir := cfg.Paths.DocumentsDir
		if len(args) == 1 {
			dir = args[0]
		}

		app, err := newApp(ctx, cfg, appOptions{needGemini: needsGeminiForIngest(cfg)})
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.Indexer.ScanAndIndexDirectory(ctx, dir); err != nil {
			return err
		}
		heading.Fprintf(cmd.OutOrStdout(), "Watching %s (Ctrl+C to stop)\n", dir)
		return app.Indexer.WatchDirectory(ctx, dir)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
