package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/certdesk/certdesk/api"
	"github.com/certdesk/certdesk/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the cache sweeper",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logging.Sub("cmd")
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		d, err := newDaemon(ctx)
		if err != nil {
			return err
		}
		conf.Watch()
		if conf.AdminSecret() == "" {
			l.Warn("no admin secret configured, the /api routes reject every request")
		}

		srv := &http.Server{
			Addr:              conf.Current().Server.Listen,
			Handler:           api.NewRouter(api.NewHandlers(d), conf.AdminSecret),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go d.Run(ctx)

		errc := make(chan error, 1)
		go func() {
			l.Info("listening", "addr", srv.Addr)
			errc <- srv.ListenAndServe()
		}()

		select {
		case err := <-errc:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		l.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	f := serveCmd.Flags()
	f.String("listen", "", "HTTP listen address (default :8080)")
	f.Bool("preload-on-start", false, "preload the hierarchy when the server starts")
	rootCmd.AddCommand(serveCmd)
}
