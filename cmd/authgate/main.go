// Command authgate is a reverse proxy that requires an OpenID Connect login
// in front of an upstream application.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/authgate/authgate/session"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "authgate",
		Short: "Require an OpenID Connect login in front of an HTTP application",
		Long: `authgate proxies every request to the upstream application once the
visitor holds a valid session. Visitors without one are sent to the identity
provider, or to the login form when a login path is configured.

Settings come from the config file, then from .env files, then from AUTHGATE_*
environment variables.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&f.configFile, "config", "c", "", "Keycloak adapter, python-keycloak or authgate JSON config file")
	cmd.Flags().StringSliceVar(&f.envFiles, "env-file", nil, "dotenv files to load (default .env)")
	cmd.Flags().StringVarP(&f.upstream, "upstream", "u", "", "URL of the protected application")
	cmd.Flags().StringVarP(&f.listen, "listen", "l", ":8080", "Address to listen on")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "One of trace, debug, info, warn, error")
	cmd.Flags().StringVar(&f.metricsPath, "metrics-path", "/metrics", "Path serving prometheus metrics without a login, empty to disable")
	cmd.Flags().DurationVar(&f.cleanupInterval, "cleanup-interval", 10*time.Minute, "How often expired server side sessions are purged")
	_ = cmd.MarkFlagRequired("upstream")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		logger := hclog.New(&hclog.LoggerOptions{
			Name:   "authgate",
			Level:  hclog.LevelFromString(f.logLevel),
			Output: cmd.ErrOrStderr(),
		})
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := run(ctx, f, logger); err != nil {
			logger.Error("exiting", "error", err)
			return err
		}
		return nil
	}
	return cmd
}

func run(ctx context.Context, f flags, logger hclog.Logger) error {
	const op = "main.run"
	srv, err := newServer(ctx, f, logger)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer srv.gate.Close()

	if b := srv.gate.SessionBackend(); b != nil && f.cleanupInterval > 0 {
		go session.RunCleanup(ctx, b, f.cleanupInterval, logger.Named("cleanup"))
	}

	hs := &http.Server{
		Addr:              f.listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}),
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", f.listen, "upstream", f.upstream)
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("%s: %w", op, err)
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
