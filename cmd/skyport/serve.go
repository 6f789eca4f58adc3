package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"skyport/internal/adapter/gateway"
	"skyport/internal/domain"
	"skyport/internal/infra/config"
	"skyport/internal/infra/logger"
	"skyport/internal/infra/middleware"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local bridge for the desktop front end",
	Long: `Serves the websocket bridge on gateway.addr (default 127.0.0.1:7420).

Clients connect to /ws?token=TOKEN, call migration.* and history.* methods and
receive every progress event. /healthz, /api/v1/status and /metrics are served
alongside.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides gateway.addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Gateway.Addr = serveAddr
	}
	if err := checkBridgeExposure(cfg.Gateway); err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := gateway.NewServer(a.bus, bridgeAuth(cfg.Gateway.Auth), cfg.Gateway.Addr, log,
		gateway.WithMiddleware(
			middleware.SecurityHeaders,
			middleware.RateLimit(ctx, middleware.RateLimitConfig{
				RequestsPerMin: cfg.Gateway.RateLimit.RequestsPerMin,
				Burst:          cfg.Gateway.RateLimit.Burst,
				TrustedProxies: cfg.Gateway.RateLimit.TrustedProxies,
			}),
		),
	)
	deps := gateway.HandlerDeps{
		Migration: a.service,
		History:   a.store,
		Bus:       a.bus,
		Logger:    log,
	}
	gateway.RegisterDefaultHandlers(srv, deps)
	gateway.RegisterRESTHandlers(srv, deps)

	if cfg.Gateway.Auth.Type == "" {
		log.Warn("gateway auth disabled, accepting loopback clients only")
	}
	return srv.Start(ctx)
}

// bridgeAuth picks the authenticator for the configured auth type.
func bridgeAuth(cfg config.AuthConfig) gateway.Authenticator {
	if cfg.Type != "static" {
		return gateway.LocalOnlyAuth{}
	}
	entries := make([]gateway.TokenEntry, 0, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		entries = append(entries, gateway.TokenEntry{Token: t.Token, Name: t.Name})
	}
	return gateway.NewStaticTokenAuth(entries)
}

// checkBridgeExposure refuses a listen address reachable from other hosts
// unless token auth is configured.
func checkBridgeExposure(cfg config.GatewayConfig) error {
	host, _, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return domain.NewSubSystemError("gateway", "serve", domain.ErrInvalidInput,
			fmt.Sprintf("listen address %q is not host:port", cfg.Addr))
	}
	if cfg.Auth.Type == "static" || gateway.IsLoopbackHost(host) {
		return nil
	}
	return domain.NewSubSystemError("gateway", "serve", domain.ErrBridgeAuth,
		fmt.Sprintf("%s is reachable from other hosts; set gateway.auth.type: static with tokens or bind to 127.0.0.1", cfg.Addr))
}
