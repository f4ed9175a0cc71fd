package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github/itish2003/multimodal-rag/controller"
)

var (
	serveAddr  string
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "also index PDFs dropped into the documents directory")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	app, err := newApp(ctx, cfg, appOptions{needGemini: true})
	if err != nil {
		return err
	}
	defer app.Close()

	query, err := app.requireQuery()
	if err != nil {
		return err
	}

	if serveWatch {
		go func() {
			if err := app.Indexer.ScanAndIndexDirectory(ctx, cfg.Paths.DocumentsDir); err != nil {
				log.Error().Err(err).Msg("initial scan failed")
			}
			if err := app.Indexer.WatchDirectory(ctx, cfg.Paths.DocumentsDir); err != nil {
				log.Error().Err(err).Msg("watcher stopped")
			}
		}()
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	gin.SetMode(gin.ReleaseMode)
	ragController := controller.NewRAGController(query, app.Chat, app.Indexer, app.Library, app.Store)
	server := &http.Server{
		Addr:              addr,
		Handler:           controller.NewRouter(ragController),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server starting")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down HTTP server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
