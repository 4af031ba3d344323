// papertrail-netd keeps the tracker joined to the right WiFi network and
// exposes connectivity state to the UI over D-Bus.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mmolhoek/papertrail-sub001/internal/config"
	"github.com/mmolhoek/papertrail-sub001/internal/connectivity"
	pdbus "github.com/mmolhoek/papertrail-sub001/internal/dbus"
	"github.com/mmolhoek/papertrail-sub001/internal/netstat"
	"github.com/mmolhoek/papertrail-sub001/internal/settings"
	"github.com/mmolhoek/papertrail-sub001/internal/wifi"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		busType     string
		logLevel    string
		logFormat   string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:          "papertrail-netd",
		Short:        "Papertrail connectivity daemon",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			// Flags win over file and environment.
			if cmd.Flags().Changed("bus") {
				cfg.Bus = busType
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if cmd.Flags().Changed("log-format") {
				cfg.Log.Format = logFormat
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")
	cmd.Flags().StringVar(&busType, "bus", "system", "D-Bus bus type: system or session")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&logFormat, "log-format", "console", "log format: console or json")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus listen address, empty disables")
	return cmd
}

func run(cfg *config.Config) error {
	log, err := buildLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	log.Info("papertrail-netd starting",
		zap.String("bus", cfg.Bus),
		zap.String("settings", cfg.SettingsPath))

	store, err := settings.Open(cfg.SettingsPath, settings.HotspotConfig{
		SSID:     cfg.Hotspot.SSID,
		Password: cfg.Hotspot.Password,
	})
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}

	ctrl, err := wifi.NewIWDClient(log)
	if err != nil {
		return fmt.Errorf("connect to iwd: %w", err)
	}
	defer ctrl.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := connectivity.NewMetrics(registry)

	svc := connectivity.New(connectivity.Options{
		Control: ctrl,
		Store:   store,
		Logger:  log,
		Metrics: metrics,
		Timings: connectivity.Timings{
			PollInterval:     cfg.Wifi.PollInterval,
			MonitorInterval:  cfg.Wifi.MonitorInterval,
			GracePeriod:      cfg.Wifi.GracePeriod,
			SettleDelay:      cfg.Wifi.SettleDelay,
			AttemptTimeout:   cfg.Wifi.AttemptTimeout,
			VerifyDelay:      cfg.Wifi.VerifyDelay,
			VerifyRetryDelay: cfg.Wifi.VerifyRetryDelay,
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := suture.New("papertrail-netd", suture.Spec{
		EventHook: func(e suture.Event) {
			log.Warn("supervisor event", zap.String("event", e.String()))
		},
	})

	tracker, err := netstat.NewTracker(log)
	if err != nil {
		// Status details degrade, connectivity still works.
		log.Warn("netstat tracker unavailable", zap.Error(err))
		tracker = nil
	} else {
		sup.Add(tracker)
	}
	supDone := sup.ServeBackground(ctx)

	if err := svc.Initialize(); err != nil {
		return fmt.Errorf("initialize connectivity: %w", err)
	}
	defer svc.Dispose()

	bus, err := pdbus.NewService(cfg.Bus, svc, ctrl, tracker, log)
	if err != nil {
		return fmt.Errorf("start D-Bus service: %w", err)
	}
	defer bus.Close()
	log.Info("D-Bus service registered",
		zap.String("name", pdbus.ServiceName),
		zap.String("bus", cfg.Bus))

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			log.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	log.Info("papertrail-netd ready")
	<-ctx.Done()
	log.Info("shutting down")

	if metricsSrv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		metricsSrv.Shutdown(shutCtx)
		cancel()
	}
	<-supDone
	return nil
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}

	var zcfg zap.Config
	if cfg.Format == "json" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
