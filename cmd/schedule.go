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
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/logger"
	"github.com/spigell/jobmatch/internal/scheduler"
	"github.com/spigell/jobmatch/internal/sources"
)

const shutdownTimeout = 10 * time.Second

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the aggregation periodically and accept webhook feeds until interrupted",
	Run: func(_ *cobra.Command, _ []string) {
		schedule()
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)

	scheduleCmd.Flags().String("spec", "", "cron spec or descriptor such as @every 6h (default is schedule.spec)")
	scheduleCmd.Flags().String("listen", "", "address for the webhook feed server (default is schedule.listen)")

	viper.BindPFlag("schedule.spec", scheduleCmd.Flags().Lookup("spec"))
	viper.BindPFlag("schedule.listen", scheduleCmd.Flags().Lookup("listen"))
}

func schedule() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, cfg := setup()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Fatal("preparing jobmatch", zap.Error(err))
	}
	defer a.Close()

	if err := a.pipeline.Restore(ctx); err != nil {
		log.Warn("restoring source bookkeeping", zap.Error(err))
	}

	q := sources.Query{Keywords: cfg.Schedule.Keywords, Location: cfg.Schedule.Location}

	task := func(ctx context.Context) error {
		report, err := a.pipeline.Run(ctx, q)
		if err != nil {
			return err
		}
		if failed := report.Failed(); len(failed) > 0 {
			log.Warn("some sources failed", logger.Run(report.RunID), zap.Strings("sources", failed))
		}
		if _, err := a.pipeline.Expire(ctx, cfg.Schedule.ExpireAfter); err != nil {
			return err
		}
		return nil
	}

	opts := []scheduler.Option{
		scheduler.WithLogger(log.Named("scheduler")),
		scheduler.WithTimeout(cfg.Schedule.Timeout),
	}
	if cfg.Schedule.RunOnStart {
		opts = append(opts, scheduler.RunOnStart())
	}
	s, err := scheduler.New(cfg.Schedule.Spec, task, opts...)
	if err != nil {
		log.Fatal("creating the scheduler", zap.Error(err))
	}

	var srv *http.Server
	if cfg.Schedule.Listen != "" {
		srv = serveFeeds(cfg.Schedule.Listen, a.feeds, log.Named("http"))
	}

	log.Info("starting the scheduler", zap.String("spec", s.Spec()), zap.Int("sources", len(cfg.Sources)))

	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("scheduler stopped", zap.Error(err))
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutting down the feed server", zap.Error(err))
		}
	}
	log.Info("exiting", zap.String("reason", "interrupted"))
}

// serveFeeds exposes the webhook feeds on addr.
func serveFeeds(addr string, feeds []*sources.Feed, log *zap.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	sources.Routes(r, feeds...)

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info("feed server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("feed server failed", zap.Error(err))
		}
	}()
	return srv
}
