package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github/itish2003/multimodal-rag/services"
)

var processCmd = &cobra.Command{
	Use:   "process <path>",
	Short: "Process a PDF and store its chunks in the vector index",
	Args:  cobra.ExactArgs(1),
	RunE:  runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	path := args[0]
	out := cmd.OutOrStdout()

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		failure.Fprintf(out, "Error: File not found: %s\n", path)
		return fmt.Errorf("%w: %s", services.ErrDocumentNotFound, path)
	}

	ctx, cancel := signalContext()
	defer cancel()

	app, err := newApp(ctx, cfg, appOptions{
		needGemini: needsGeminiForIngest(cfg),
		progress:   newBarProgress(),
	})
	if err != nil {
		return err
	}
	defer app.Close()

	heading.Fprintf(out, "Processing document: %s\n", path)
	report, err := app.Ingestion.IngestFile(ctx, path, "")
	if report != nil {
		fmt.Fprintf(out, "Processed %d pages (%d images)\n", report.Pages, report.Images)
		fmt.Fprintf(out, "Created %d chunks\n", report.Chunks)
	}
	if err != nil {
		return fmt.Errorf("process %s: %w", path, err)
	}
	success.Fprintf(out, "Stored %d vectors in %s\n", report.Records, app.Store.IndexName())
	return nil
}
