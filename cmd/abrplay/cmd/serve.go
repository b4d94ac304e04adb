package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	internalhttp "github.com/jmylchreest/abrplay/internal/http"
	"github.com/jmylchreest/abrplay/internal/http/handlers"
	"github.com/jmylchreest/abrplay/internal/netfetch"
	"github.com/jmylchreest/abrplay/internal/player"
	"github.com/jmylchreest/abrplay/internal/scheduler"
	"github.com/jmylchreest/abrplay/internal/store"
	"github.com/jmylchreest/abrplay/internal/version"
	"github.com/jmylchreest/abrplay/pkg/duration"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the abrplay control API",
	Long: `Start the abrplay HTTP server.

The server provides:
- REST API for starting, steering and stopping playback sessions
- Server-sent events for engine events per session
- Session and bandwidth history when the database is enabled
- Health and readiness endpoints
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "host to bind to (default from server.host)")
	serveCmd.Flags().Int("port", 0, "port to listen on (default from server.port)")
	serveCmd.Flags().Bool("history", false, "enable the session history database")
	serveCmd.Flags().Duration("reap-interval", 30*time.Second, "how often stopped sessions are removed")
}

func runServe(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("history") {
		cfg.Database.Enabled, _ = flags.GetBool("history")
	}
	reapInterval, _ := flags.GetDuration("reap-interval")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	fetcher, err := netfetch.NewFromConfig(cfg.Network, logger)
	if err != nil {
		return fmt.Errorf("creating network client: %w", err)
	}

	opts := player.Options{
		Config:  cfg,
		Fetcher: fetcher,
		Logger:  logger,
	}

	var db *store.DB
	if cfg.Database.Enabled {
		db, err = store.Open(ctx, cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("initializing database: %w", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				logger.Warn("closing database", slog.String("error", err.Error()))
			}
		}()
		opts.History = store.NewBandwidthHistory(db)
		opts.Sessions = store.NewSessions(db)
	}

	pool := player.NewPool(opts)
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer closeCancel()
		if err := pool.CloseAll(closeCtx); err != nil {
			logger.Warn("closing sessions", slog.String("error", err.Error()))
		}
	}()

	server := internalhttp.NewServer(cfg.Server, logger, version.Version)

	healthHandler := handlers.NewHealthHandler(version.Version).WithPool(pool)
	if db != nil {
		healthHandler = healthHandler.WithDB(db)
	}
	healthHandler.Register(server.API())

	handlers.NewSessionHandler(pool).Register(server.API())
	handlers.NewConfigHandler(cfg).Register(server.API())
	if db != nil {
		handlers.NewHistoryHandler(opts.Sessions, opts.History).Register(server.API())
	}

	logger.Info("starting abrplay server",
		slog.String("address", cfg.Server.Address()),
		slog.Bool("history", db != nil),
		slog.String("version", version.Version),
	)

	if opts.History != nil {
		sched, err := historyScheduler(ctx, opts.History)
		if err != nil {
			return err
		}
		defer sched.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	g.Go(func() error {
		pool.RunReaper(gctx, reapInterval)
		return nil
	})
	return g.Wait()
}

// historyScheduler prunes expired bandwidth samples once now and then on
// database.prune_schedule.
func historyScheduler(ctx context.Context, history *store.BandwidthHistory) (*scheduler.Scheduler, error) {
	retention := cfg.Database.HistoryRetention
	prune := func(ctx context.Context) error {
		removed, err := history.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			return fmt.Errorf("pruning bandwidth history: %w", err)
		}
		if removed > 0 {
			logger.Info("pruned bandwidth history",
				slog.Int64("removed", removed),
				slog.String("retention", duration.Format(retention)))
		}
		return nil
	}

	sched := scheduler.NewScheduler().WithLogger(logger)
	if err := sched.Add("prune_history", cfg.Database.PruneSchedule, prune); err != nil {
		return nil, fmt.Errorf("scheduling history pruning: %w", err)
	}
	if err := sched.RunNow(ctx, "prune_history"); err != nil {
		logger.Warn("initial history prune failed", slog.String("error", err.Error()))
	}
	if err := sched.Start(ctx); err != nil {
		return nil, err
	}
	return sched, nil
}
