package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/mprelay/internal/adapters/http"
	"github.com/dkeye/mprelay/internal/adapters/stream"
	"github.com/dkeye/mprelay/internal/app"
	"github.com/dkeye/mprelay/internal/config"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg.Logging)

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}

func setupLogging(cfg config.LoggingConfig) {
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func run(ctx context.Context, cfg *config.Config) error {
	g, ctx := errgroup.WithContext(ctx)

	hub := app.NewHub(app.NewRegistry(), app.SimplePolicy{})
	g.Go(func() error { return hub.Run(ctx) })

	r := router.SetupRouter(ctx, cfg, hub)
	servers := []*http.Server{{
		Addr:              net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port)),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}}
	g.Go(func() error {
		log.Info().Str("addr", servers[0].Addr).Msg("HTTP server started")
		return serve(servers[0].ListenAndServe)
	})

	if certFile, keyFile, ok := cfg.HTTPS.CertFiles(); ok {
		tlsSrv := &http.Server{
			Addr:              net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTPS.Port)),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, tlsSrv)
		g.Go(func() error {
			log.Info().Str("addr", tlsSrv.Addr).Msg("HTTPS server started")
			return serve(func() error { return tlsSrv.ListenAndServeTLS(certFile, keyFile) })
		})
	} else {
		log.Info().Str("cert_dir", cfg.HTTPS.CertDir).Msg("HTTPS certs not found")
	}

	var acceptor *stream.Acceptor
	if cfg.TCP.Enabled {
		acceptor = stream.NewAcceptor(stream.Options{
			Host:         cfg.TCP.Host,
			Port:         cfg.TCP.Port,
			MaxLine:      cfg.TCP.MaxLine,
			SendBuffer:   cfg.Relay.SendBuffer,
			WriteTimeout: cfg.TCP.WriteTimeout,
		}, hub)
		g.Go(acceptor.ListenAndServe)
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		if acceptor != nil {
			acceptor.Stop()
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func serve(listen func() error) error {
	if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
