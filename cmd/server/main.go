package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tunnelgate/tunnelgate/internal/api"
	"github.com/tunnelgate/tunnelgate/internal/config"
	"github.com/tunnelgate/tunnelgate/internal/proxy"
	"github.com/tunnelgate/tunnelgate/internal/reqlog"
	"github.com/tunnelgate/tunnelgate/internal/sshgw"
	"github.com/tunnelgate/tunnelgate/internal/supabase"
	"github.com/tunnelgate/tunnelgate/internal/tunnel"
)

var (
	version = "dev"
	debug   = flag.Bool("debug", false, "Enable debug logging")
)

// Default per-tunnel token bucket: 10 tok/s, burst 20.
const (
	tunnelRateRefillPerSec = 10.0
	tunnelRateBurst        = 20.0
)

func main() {
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	log.Info().
		Str("version", version).
		Str("domain", cfg.Domain).
		Str("api_addr", cfg.APIAddr).
		Str("proxy_addr", cfg.ProxyAddr).
		Str("ssh_addr", cfg.SSHAddr).
		Msg("starting tunnelgate")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gateway := supabase.New(cfg.SupabaseURL, cfg.SupabaseAnonKey, cfg.SupabaseServiceKey, log.Logger)

	manager := tunnel.NewManager(gateway, cfg, cfg.MaxTunnelsPerIP, cfg.GlobalTunnelLimit,
		tunnelRateRefillPerSec, tunnelRateBurst, log.Logger)

	reqlogBuffer, err := reqlog.Open(cfg.RequestLogDBPath, gateway, cfg.RequestLogFlushInterval, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open request log buffer")
	}
	reqlogBuffer.Start()

	sshAcceptor, err := sshgw.New(cfg.SSHAddr, cfg.HostKeyPath, manager, gateway, cfg.MinSSHPort, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize SSH acceptor")
	}

	proxyHandler := proxy.NewHandler(manager, cfg.Domain, reqlogBuffer, log.Logger)
	proxyServer := &http.Server{
		Addr:         cfg.ProxyAddr,
		Handler:      proxyHandler,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	apiServer := api.NewServer(api.Config{
		Addr:       cfg.APIAddr,
		Domain:     cfg.Domain,
		JWTSecret:  cfg.JWTSecret,
		CORSOrigin: cfg.CORSOrigin,
		Manager:    manager,
		Gateway:    gateway,
		Logger:     log.Logger,
	})

	errCh := make(chan error, 3)

	go func() {
		log.Info().Str("addr", cfg.SSHAddr).Msg("SSH acceptor listening")
		if err := sshAcceptor.Serve(ctx); err != nil {
			errCh <- err
		}
	}()

	go func() {
		log.Info().Str("addr", cfg.ProxyAddr).Msg("HTTP/WebSocket proxy listening")
		if err := proxyServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	go func() {
		log.Info().Str("addr", cfg.APIAddr).Msg("admin API listening")
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("listener failed, shutting down")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("admin API shutdown failed")
	}
	if err := proxyServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("proxy shutdown failed")
	}
	if err := sshAcceptor.Close(); err != nil {
		log.Error().Err(err).Msg("SSH acceptor close failed")
	}
	if err := manager.Shutdown(); err != nil {
		log.Error().Err(err).Msg("tunnel manager shutdown failed")
	}
	if err := reqlogBuffer.Close(); err != nil {
		log.Error().Err(err).Msg("request log buffer close failed")
	}

	log.Info().Msg("tunnelgate stopped")
}
