package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-meshy-generate/internal/server"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve text-to-3D generation over HTTP with SSE progress",
	Long: `Starts an HTTP server. POST /v1/text-to-3d accepts a JSON batch
({"tasks":[{"prompt":..., "outputPath":..., "fileName":...}]}) and streams
"progress" events followed by a "result" or "error" event.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default :3031, overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := globalConfig
	if err := requireAPIKey(cfg); err != nil {
		return err
	}

	hist, err := openHistory(cfg)
	if err != nil {
		return fmt.Errorf("opening run history: %w", err)
	}
	defer hist.Close()

	coordinator, client := newCoordinator(cfg, globalHttpTransport, afero.NewOsFs())
	coordinator.Recorder = hist
	srv := server.New(coordinator, client)
	srv.Generate = cfg.Generate

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Listening on %s", cfg.Server.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down, waiting for open streams")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}
