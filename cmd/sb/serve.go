package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/alert"
	"github.com/zulandar/signalbox/internal/gateway"
	"github.com/zulandar/signalbox/internal/logging"
	"github.com/zulandar/signalbox/internal/session"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the carrier-facing USSD gateway",
		Long:  "Serves POST /ussd for carrier callbacks, plus /healthz and /metrics, until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Signalbox config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	logging.Configure(logging.Config{Level: cfg.Log.Level})
	log := logging.WithComponent("serve")

	sb, _, err := openSandbox(cfg)
	if err != nil {
		return err
	}
	store, closeStore, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	notifier, err := newNotifier(cfg)
	if err != nil {
		return err
	}
	queue, err := alert.NewQueue(alert.QueueOpts{Notifier: notifier, Logger: logging.WithComponent("alert")})
	if err != nil {
		return err
	}

	engine, cat, err := newEngine(cfg, sb, store, queue, logging.WithComponent("ussd"))
	if err != nil {
		return err
	}
	srv, err := gateway.New(gateway.Opts{
		Handler:       engine,
		Catalog:       cat,
		ServiceCode:   cfg.USSD.ServiceCode,
		Language:      cfg.USSD.Language,
		Port:          cfg.Server.Port,
		RatePerMinute: cfg.Server.RatePerMinute,
		Burst:         cfg.Server.Burst,
		Logger:        logging.WithComponent("gateway"),
	})
	if err != nil {
		return err
	}
	sweeper, err := session.NewSweeper(session.SweeperOpts{
		Store:    store,
		Interval: cfg.Session.SweepInterval,
		Logger:   logging.WithComponent("sweeper"),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sweeper.Start(); err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := sweeper.Stop(sctx); err != nil {
			log.Warn().Err(err).Msg("sweeper stop")
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Signalbox listening on :%d (sessions: %s)\n", cfg.Server.Port, cfg.Session.Backend)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return queue.Run(gctx) })
	g.Go(func() error { return srv.Start(gctx) })
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info().Msg("shut down")
	return nil
}
