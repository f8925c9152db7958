package cli

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

	"github.com/jacentio/canopy/httpapi"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve every schema operation over HTTP",
		Long: `Serve every operation of the schema at POST /api/{table}/{op}.

The caller is read from the header named by CANOPY_USER_HEADER, which an
authenticating gateway in front of canopy is expected to set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, addr, cmd)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default $CANOPY_ADDR)")
	return cmd
}

func runServe(ctx context.Context, opts *RootOptions, addr string, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Addr = addr
	}
	a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	router := httpapi.NewRouter(a.engine, httpapi.HeaderAuth(cfg.UserHeader), httpapi.Options{
		Logger:      a.logger,
		ExposeDebug: cfg.Debug,
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", cfg.Addr, "tables", len(a.engine.Tables()), "store", cfg.Store)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
