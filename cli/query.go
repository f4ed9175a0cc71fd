package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github/itish2003/multimodal-rag/services"
)

var (
	queryVision bool
	queryTopK   int
)

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Answer a question from the processed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().BoolVar(&queryVision, "vision", false, "ask the model to use image descriptions")
	queryCmd.Flags().IntVar(&queryTopK, "top-k", 0, "number of chunks to retrieve (default from config)")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	if queryTopK > 0 {
		cfg.Query.TopK = queryTopK
	}
	app, err := newApp(ctx, cfg, appOptions{needGemini: true})
	if err != nil {
		return err
	}
	defer app.Close()

	query, err := app.requireQuery()
	if err != nil {
		return err
	}

	question := strings.Join(args, " ")
	resp := query.GenerateResponse(ctx, question, queryVision)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\n"+rule())
	fmt.Fprint(out, services.FormatResponse(resp))
	fmt.Fprintln(out, rule())
	return nil
}
