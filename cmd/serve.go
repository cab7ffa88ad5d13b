package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"slack-thank-you/dao"
	"slack-thank-you/handlers"
	"slack-thank-you/metrics"
	"slack-thank-you/services"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Slack app HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireSlack(); err != nil {
			return err
		}
		if cfg.SlackSigningSecret == "" {
			log.Warn().Msg("SLACK_SIGNING_SECRET is not set, slack request signatures are not verified")
		}

		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer dao.Close(db)

		metrics.InitMetrics()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		invites, closeInvites, err := newInviteCache(ctx)
		if err != nil {
			return err
		}
		defer closeInvites()

		repo := dao.New(db)
		client := services.NewSlackTransport(cfg.SlackBotToken)
		deliverer := services.NewDeliverer(repo, client, invites)

		go services.RunChannelCleanup(ctx, repo, client, services.DefaultChannelCleanupInterval)

		if cfg.IsProd() {
			gin.SetMode(gin.ReleaseMode)
		}
		router := handlers.NewRouter(handlers.NewSlackHandler(repo, client, deliverer, cfg.SlackSigningSecret))

		port := servePort
		if port == "" {
			port = cfg.Port
		}
		server := &http.Server{
			Addr:              ":" + port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("port", port).Msg("starting http server")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		log.Info().Msg("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "HTTP port (default $PORT or 8080)")
	rootCmd.AddCommand(serveCmd)
}

// newInviteCache は REDIS_URL があればRedisを、なければメモリを使う
func newInviteCache(ctx context.Context) (services.InviteCache, func(), error) {
	if cfg.RedisURL == "" {
		return services.NewMemoryInviteCache(services.DefaultInviteTTL, 20*1024), func() {}, nil
	}
	cache, err := services.NewRedisInviteCacheFromURL(ctx, cfg.RedisURL, services.DefaultInviteTTL)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Msg("using redis invite cache")
	return cache, func() {
		if err := cache.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close redis client")
		}
	}, nil
}
