package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stoikov-maker-go/bot"
	"stoikov-maker-go/config"
	"stoikov-maker-go/exchange/binance"
	"stoikov-maker-go/infrastructure/logger"
	"stoikov-maker-go/infrastructure/monitor"
)

func main() {
	root := &cobra.Command{
		Use:   "runner",
		Short: "Single-venue Stoikov market maker",
	}
	var cfgPath string
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "config file path")

	root.AddCommand(&cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			fmt.Printf("config ok: symbol=%s env=%s\n", cfg.Symbol, cfg.Env)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the bot until SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return err
	}
	defer log.Sync()

	mon := monitor.New(monitor.DefaultConfig())
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", mon.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	ex := binance.New(binance.Config{
		APIKey:              cfg.Venue.APIKey,
		APISecret:           cfg.Venue.APISecret,
		BaseURL:             cfg.Venue.BaseURL,
		WSURL:               cfg.Venue.WSURL,
		RequestWeightPerMin: cfg.Venue.RequestWeight,
	}, log.Named("binance"))

	ctrl, err := bot.New(cfg, ex, mon, log.Named("bot"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// hot reload limited to risk limits; structural changes need a restart
	go func() {
		err := config.Watch(ctx, cfgPath, log.Named("config"), func(next config.AppConfig) {
			ctrl.ReloadLimits(next.RiskLimits())
		})
		if err != nil && ctx.Err() == nil {
			log.Warn("config watcher stopped", zap.Error(err))
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		log.Info("signal received, shutting down", zap.String("signal", s.String()))
		cancel()
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		go func() {
			ticker := time.NewTicker(interval / 2)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		}()
	}
	defer daemon.SdNotify(false, daemon.SdNotifyStopping)

	return ctrl.Run(ctx)
}
