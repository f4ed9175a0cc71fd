package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every vector from the index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		app, err := newApp(ctx, cfg, appOptions{})
		if err != nil {
			return err
		}
		defer app.Close()

		deleted, err := app.Store.Clear(ctx)
		if err != nil {
			return fmt.Errorf("clear index: %w", err)
		}
		out := cmd.OutOrStdout()
		if deleted == 0 {
			fmt.Fprintln(out, "No vectors to delete")
			return nil
		}
		success.Fprintf(out, "Deleted %d vectors from %s\n", deleted, app.Store.IndexName())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(clearCmd)
}
