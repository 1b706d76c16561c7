package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/buildtall-systems/denimtrack/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  `Start the denimtrack HTTP API for order entry, production and scanning stations.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("port", 0, "listen port")
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	// Create context that cancels on shutdown signals
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	h := api.NewHandler(a.db, a.allocation, a.production, a.lifecycle, a.logger.Named("api"), api.Options{
		RatePerSecond:   a.cfg.Server.RateLimitPerSec,
		RateBurst:       a.cfg.Server.RateBurst,
		CacheTTL:        a.cfg.Server.CacheTTL,
		StorageCapacity: a.cfg.Storage.DefaultCapacity,
		WashCapacity:    a.cfg.Wash.DefaultCapacity,
	})
	go h.SweepClients(ctx, time.Minute)

	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           api.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
