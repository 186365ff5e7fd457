// Command server runs the course seat watcher: the websocket chat
// surface, the background refresh loop, the seats-changed consumer
// and the admin HTTP API, all in one process.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/iliyamo/course-seat-watch/internal/banner"
	"github.com/iliyamo/course-seat-watch/internal/config"
	"github.com/iliyamo/course-seat-watch/internal/conversation"
	"github.com/iliyamo/course-seat-watch/internal/database"
	"github.com/iliyamo/course-seat-watch/internal/handler"
	"github.com/iliyamo/course-seat-watch/internal/logutil"
	"github.com/iliyamo/course-seat-watch/internal/notify"
	"github.com/iliyamo/course-seat-watch/internal/queue"
	"github.com/iliyamo/course-seat-watch/internal/ratelimit"
	"github.com/iliyamo/course-seat-watch/internal/repository"
	"github.com/iliyamo/course-seat-watch/internal/router"
	"github.com/iliyamo/course-seat-watch/internal/seatcache"
	"github.com/iliyamo/course-seat-watch/internal/transport"
	"github.com/iliyamo/course-seat-watch/internal/watcher"
)

var (
	cfgFile      string
	flagPort     string
	flagLogLevel string
	flagInterval time.Duration
	flagMaxAge   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "course-seat-watch",
	Short: "Watch university course seat availability and notify users",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Port = flagPort
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = flagLogLevel
		}
		if cmd.Flags().Changed("watch-interval") {
			cfg.Watch.Interval = flagInterval
		}
		if cmd.Flags().Changed("seat-max-age") {
			cfg.Watch.SeatMaxAge = flagMaxAge
		}
		return run(cmd.Context(), cfg)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "path to YAML config file")
	rootCmd.Flags().StringVar(&flagPort, "port", "8080", "HTTP listen port")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().DurationVar(&flagInterval, "watch-interval", time.Minute, "how often watched courses are refreshed")
	rootCmd.Flags().DurationVar(&flagMaxAge, "seat-max-age", 30*time.Second, "how stale a cached snapshot may be on lookup")
}

func run(ctx context.Context, cfg config.Config) error {
	logger := logutil.NewLogger(logutil.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DB.User, cfg.DB.Pass, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	userRepo := repository.NewUserRepo(db)
	schoolRepo := repository.NewSchoolRepo(db)
	courseRepo := repository.NewCourseRepo(db)
	watchRepo := repository.NewWatchlistRepo(db)

	bannerClient := banner.NewClient(cfg.Discovery.APIKey, cfg.Discovery.CSEID)
	publisher := queue.NewPublisher(cfg.AMQPURL)
	cache := seatcache.New(courseRepo, schoolRepo, bannerClient, publisher, logger)

	rdb := config.NewRedisClient(cfg.Redis)
	if rdb == nil {
		logger.Warn("redis unavailable, message rate limiting disabled")
	} else {
		defer rdb.Close()
	}
	limiter := ratelimit.New(rdb, cfg.RateLimit)

	var engine *conversation.Engine
	hub := transport.NewHub(func(externalID, text string) {
		engine.HandleMessage(externalID, text)
	}, logger)
	engine = conversation.NewEngine(userRepo, schoolRepo, watchRepo, cache,
		bannerClient, hub, limiter, cfg.Watch.SeatMaxAge, logger)

	dispatcher := notify.NewDispatcher(watchRepo, hub, logger)
	go queue.Consume(ctx, cfg.AMQPURL, dispatcher.Dispatch, logger)

	sched := watcher.New(cache, watchRepo, cfg.Watch.Interval, cfg.Watch.Concurrency, logger)
	go sched.Run(ctx)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	router.RegisterRoutes(e, &handler.ChatHandler{Hub: hub})
	router.RegisterAdmin(e, &handler.AdminHandler{
		Username:     cfg.Admin.Username,
		PasswordHash: cfg.Admin.PasswordHash,
		JWTSecret:    cfg.Admin.JWTSecret,
		Users:        userRepo,
		Courses:      courseRepo,
		Watches:      watchRepo,
		Cache:        cache,
	})

	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Port, "env", cfg.Env)
		errc <- e.Start(":" + cfg.Port)
	}()

	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", "error", err)
		}
		hub.Close()
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
