package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hanifabd/rollcall/internal/config"
	"github.com/hanifabd/rollcall/internal/detect"
	"github.com/hanifabd/rollcall/internal/storage"
	"github.com/hanifabd/rollcall/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance web server",
	Long: `Start the Rollcall web server.
The server exposes the enrollment and attendance REST API and the
websocket endpoint that streams camera frames through face recognition.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 5000, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if port := mustGetInt(cmd, "port"); cmd.Flags().Changed("port") {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); cmd.Flags().Changed("host") {
		cfg.Web.Host = host
	}

	store, err := storage.Open(cfg.Database.Dir)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	sidecar := detect.NewClient(cfg.Detector.URL)
	server := web.NewServer(cfg, store, sidecar, sidecar)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Rollcall on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Printf("Detector sidecar: %s\n", cfg.Detector.URL)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
