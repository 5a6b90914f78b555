package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pardot/rp"
	"github.com/pardot/rp/internal/server"
	"github.com/pardot/rp/session"
	"github.com/pardot/rp/tokencipher"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the relying party",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(f.logLevel, f.logFormat)
			if err != nil {
				return err
			}
			cfg, err := rp.LoadConfig(f.configPath)
			if err != nil {
				return errors.Wrap(err, "loading config")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *rp.Config, logger *logrus.Logger) error {
	key, err := tokencipher.ParseKey(cfg.TokenEncryptionKey)
	if err != nil {
		return errors.Wrap(err, "parsing token encryption key")
	}
	cipher, err := tokencipher.New(key)
	if err != nil {
		return errors.Wrap(err, "creating token cipher")
	}

	st, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStorage(); err != nil {
			logger.WithError(err).Error("closing storage")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := rp.NewMetrics(reg)
	if err != nil {
		return err
	}

	flow := &rp.Flow{
		Client:             rp.NewClient(cfg, logger),
		Sessions:           session.New(st, cipher),
		SessionSecret:      []byte(cfg.SessionSecret),
		SecureCookies:      cfg.SecureCookies,
		PostLogoutRedirect: cfg.PostLogoutRedirectURI,
		Logger:             logger,
		Metrics:            metrics,
	}

	srv, err := server.New(server.Config{
		Flow:               flow,
		CallbackPath:       cfg.CallbackPath(),
		Logger:             logger,
		PrometheusRegistry: reg,
	})
	if err != nil {
		return errors.Wrap(err, "creating server")
	}

	hs := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":   cfg.ListenAddr,
			"issuer": cfg.Issuer,
			"tenant": cfg.TenantCode,
		}).Info("listening")
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "serving http")
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(sctx); err != nil {
		return errors.Wrap(err, "shutting down http server")
	}
	return nil
}
