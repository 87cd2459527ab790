package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/crop-advisor/internal/server"
)

const shutdownTimeout = 10 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the recommendation HTTP server",
	Long:  "Serves POST /recommend and GET /health. The newest model artifact in serving.model_dir is loaded on first use.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		svc, cleanup, err := initRecommender(ctx, "")
		if err != nil {
			return err
		}
		defer cleanup()

		handler := server.New(svc, server.Options{
			RequestTimeout: time.Duration(cfg.Serving.RequestTimeoutSecs) * time.Second,
			RateLimit:      cfg.Serving.RateLimitRPS,
			RateBurst:      cfg.Serving.RateLimitBurst,
			CORSOrigins:    cfg.Serving.CORSOrigins,
		})
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		// Warm the model cache so the first request does not pay for the load.
		g.Go(func() error {
			if err := svc.Ready(gctx); err != nil {
				zap.L().Warn("model not loaded at startup; /health reports unavailable until an artifact exists",
					zap.Error(err))
			}
			return nil
		})

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		// Graceful shutdown
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
