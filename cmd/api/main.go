package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-lab/go/rtx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/hamed0406/speedmon/internal/config"
	"github.com/hamed0406/speedmon/internal/httpapi"
	apimw "github.com/hamed0406/speedmon/internal/httpapi/middleware"
	"github.com/hamed0406/speedmon/internal/logging"
	"github.com/hamed0406/speedmon/internal/metrics"
	"github.com/hamed0406/speedmon/internal/monitor"
	"github.com/hamed0406/speedmon/internal/notify"
	"github.com/hamed0406/speedmon/internal/probe"
	"github.com/hamed0406/speedmon/internal/repo"
	"github.com/hamed0406/speedmon/internal/repo/memory"
	"github.com/hamed0406/speedmon/internal/repo/postgres"
	"github.com/hamed0406/speedmon/internal/scheduler"
	"github.com/hamed0406/speedmon/internal/throttle"
)

func main() {
	cfg := config.FromEnv()
	rtx.Must(cfg.Validate(), "invalid configuration")

	logger, err := logging.NewLogger(logging.Options{Dir: cfg.LogDir, Level: cfg.LogLevel, Console: cfg.LogConsole})
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var store repo.CycleStore = memory.New()
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL, logger)
		rtx.Must(err, "cannot connect to postgres")
		defer pg.Close()
		rtx.Must(pg.Migrate(ctx), "cannot migrate postgres")
		store = pg
	}

	client := &http.Client{Transport: probe.NewTransport()}
	dl := probe.NewDownloadProbe(client, logger)
	dl.Metrics = m
	ul := probe.NewUploadProbe(client, logger)
	ul.Metrics = m
	suite := &probe.Suite{
		Download:       dl,
		DownloadTarget: cfg.DownloadTarget(),
		Upload:         ul,
		UploadTarget:   cfg.UploadTarget(),
	}

	th := throttle.New(cfg.DailyAlertCap)
	var notifier notify.Notifier
	if channels := notify.Channels(cfg.NotifyURL, cfg.SlackWebhook, cfg.BrevoAPIKey, cfg.BrevoSender); len(channels) > 0 {
		notifier = channels
	} else {
		logger.Warn("no_notifier_configured")
	}
	dispatcher := notify.NewDispatcher(th, notifier, logger)
	dispatcher.Metrics = m

	hub := httpapi.NewHub(logger)
	mon := monitor.New(ctx, suite, dispatcher, logger, monitor.Options{
		Observers:        []monitor.Observer{monitor.LogObserver(logger), hub},
		Store:            store,
		Metrics:          m,
		RecordTTL:        cfg.CycleTTL,
		DefaultRecipient: cfg.AlertRecipient,
	})
	defer mon.Close()

	if cfg.MonitorInterval > 0 {
		sched := scheduler.New(logger, mon, cfg.MonitorKinds, cfg.Threshold(), cfg.MonitorInterval)
		go sched.Run(ctx)
	}

	api := httpapi.NewServer(logger, mon, store, th, hub, cfg.Threshold())
	api.Gatherer = reg
	keys := apimw.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys}
	if len(keys.Public) == 0 && len(keys.Admin) == 0 {
		logger.Warn("api_keys_not_configured", zap.String("effect", "API is open"))
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(keys, cfg.AllowedOrigins, cfg.PublicRPM, cfg.PublicBurst, cfg.AdminRPM, cfg.AdminBurst),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api_listen", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("api_shutdown_failed", zap.Error(err))
		}
		if cy := mon.Current(); cy != nil {
			cy.Cancel()
			cy.Wait(shutdownCtx)
		}
		logger.Info("api_stopped")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("api_serve_failed", zap.Error(err))
		}
	}
}
