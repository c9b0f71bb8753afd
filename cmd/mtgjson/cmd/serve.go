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

	"github.com/spf13/cobra"

	"github.com/mtgjson/mtgjson-go/internal/core/api"
	"github.com/mtgjson/mtgjson-go/internal/core/auth"
	"github.com/mtgjson/mtgjson-go/internal/core/config"
	"github.com/mtgjson/mtgjson-go/internal/core/server"
	"github.com/mtgjson/mtgjson-go/internal/httpapi"
	"github.com/mtgjson/mtgjson-go/internal/logging"
	"github.com/mtgjson/mtgjson-go/internal/sdk"
)

var serveGRPCCmd = &cobra.Command{
	Use:   "serve-grpc",
	Short: "Start the gRPC booster service",
	RunE:  runServeGRPC,
}

var serveHTTPCmd = &cobra.Command{
	Use:   "serve-http",
	Short: "Start the HTTP JSON API",
	RunE:  runServeHTTP,
}

func init() {
	rootCmd.AddCommand(serveGRPCCmd, serveHTTPCmd)
	for _, c := range []*cobra.Command{serveGRPCCmd, serveHTTPCmd} {
		c.Flags().String("host", "127.0.0.1", "listen host")
		c.Flags().Int("port", 0, "listen port (default from config)")
	}
}

// applyListenFlags overrides the configured address with --host/--port.
func applyListenFlags(cmd *cobra.Command, cfg *config.Config, port *int) {
	if cmd.Flags().Changed("host") {
		cfg.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		*port, _ = cmd.Flags().GetInt("port")
	}
}

// restricted confines a served session's engine to the cache directory.
func restricted(o *sdk.Options) { o.Restricted = true }

func runServeGRPC(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	session, cfg, cleanup, err := openSession(cmd, restricted)
	if err != nil {
		return err
	}
	defer cleanup()
	applyListenFlags(cmd, cfg, &cfg.GRPCPort)

	authenticator, err := auth.NewAuthenticator(cfg.APIKeys)
	if err != nil {
		return fmt.Errorf("failed to load API keys: %w", err)
	}

	service, err := api.NewBoosterService(session)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	grpcServer, err := server.NewGRPCServer(cfg, service, authenticator)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	log := logging.WithComponent("cli")
	log.Info("starting gRPC booster service", "version", Version, "host", cfg.Host, "port", cfg.GRPCPort, "session", session.ID())
	errChan := make(chan error, 1)
	go func() {
		errChan <- grpcServer.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case <-sigChan:
		log.Info("shutting down gracefully")
		return grpcServer.Shutdown(ctx)
	}
}

func runServeHTTP(cmd *cobra.Command, args []string) error {
	session, cfg, cleanup, err := openSession(cmd, restricted)
	if err != nil {
		return err
	}
	defer cleanup()
	applyListenFlags(cmd, cfg, &cfg.HTTPPort)

	authenticator, err := auth.NewAuthenticator(cfg.APIKeys)
	if err != nil {
		return fmt.Errorf("failed to load API keys: %w", err)
	}

	e := httpapi.New(session, authenticator)
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.HTTPPort)

	log := logging.WithComponent("cli")
	log.Info("starting HTTP API", "version", Version, "addr", addr, "session", session.ID())
	errChan := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case <-sigChan:
		log.Info("shutting down gracefully")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return e.Shutdown(ctx)
	}
}
