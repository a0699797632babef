package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ticketbackend/internal/app"
	intdb "ticketbackend/internal/db"
	api "ticketbackend/internal/http"
	"ticketbackend/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	Migrate bool
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), rootOpts, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Migrate, "migrate", false, "apply the schema before serving")
	return cmd
}

func serve(parent context.Context, rootOpts *RootOptions, opts *serveOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	log := utils.Log("", "server")

	conn, err := openDB(parent, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if opts.Migrate {
		if err := intdb.Migrate(parent, conn, cfg.Database.Driver); err != nil {
			return err
		}
	}

	application, err := app.New(parent, cfg, conn, nil, nil)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           api.NewRouter(application),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       20 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.AppAddr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}
