package cli

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stevemurr/docstore/config"
	"github.com/stevemurr/docstore/handler"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cfg := rootOpts.cfg

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the database over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts, &cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.Host, "host", cfg.Host, "listen host")
	cmd.Flags().StringVar(&cfg.Port, "port", cfg.Port, "listen port")
	cmd.Flags().StringVar(&cfg.AllowedOrigins, "origins", cfg.AllowedOrigins, "comma separated CORS origins")

	return cmd
}

func runServe(ctx context.Context, rootOpts *RootOptions, cfg *config.Config) error {
	s, err := rootOpts.open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	h := handler.New(s.db,
		handler.WithLogger(s.log),
		handler.WithCapped(s.collections.Lookup))
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h.CORS(strings.Split(cfg.AllowedOrigins, ",")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("docstore starting",
			zap.String("addr", srv.Addr),
			zap.String("backend", rootOpts.Backend),
			zap.String("location", rootOpts.Location),
			zap.String("database", rootOpts.Database))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
