package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/facegate/internal/web"
	"github.com/kozaktomas/facegate/internal/web/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the facegate web server.
The server exposes the enrollment and verification flows over HTTP and
serves a browser client that uses the local camera.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().Bool("warm", false, "Start loading the embedding model at startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if port := mustGetInt(cmd, "port"); port > 0 {
		rt.cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		rt.cfg.Web.Host = host
	}
	if rt.cfg.Web.SessionSecret == "" {
		rt.logger.Warn("WEB_SESSION_SECRET is not set, using the development secret")
	}
	if mustGetBool(cmd, "warm") {
		rt.gate.Warm(ctx)
	}

	server := web.NewServer(rt.cfg, web.Deps{
		Flows: handlers.FlowOptions{
			Deps:           rt.flowDeps(),
			Camera:         cameraProvider(rt.cfg),
			MaxFrameSize:   rt.cfg.Camera.MaxSize,
			MaxFramePixels: rt.cfg.Camera.MaxPixels,
		},
		Accounts: rt.store,
		Model:    rt.gate,
	}, rt.logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			rt.logger.Error("error during shutdown", zap.Error(err))
		}
	}()

	fmt.Printf("Starting facegate on http://%s:%d (camera: %s)\n",
		rt.cfg.Web.Host, rt.cfg.Web.Port, handlers.CameraMode(rt.cfg))
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
