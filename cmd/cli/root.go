package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hamed0406/speedmon/internal/config"
	"github.com/hamed0406/speedmon/internal/domain"
	"github.com/hamed0406/speedmon/internal/logging"
	"github.com/hamed0406/speedmon/internal/monitor"
	"github.com/hamed0406/speedmon/internal/notify"
	"github.com/hamed0406/speedmon/internal/probe"
	"github.com/hamed0406/speedmon/internal/throttle"
)

type localOpts struct {
	minMbps   float64
	recipient string
	notifyURL string
	quiet     bool
}

func newRootCmd() *cobra.Command {
	cfg := config.FromEnv()
	opts := localOpts{
		minMbps:   cfg.MinAcceptableMbps,
		recipient: cfg.AlertRecipient,
		notifyURL: cfg.NotifyURL,
	}

	root := &cobra.Command{
		Use:          "speedmon-cli",
		Short:        "Measure internet throughput and alert when it drops",
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.Float64Var(&opts.minMbps, "min", opts.minMbps, "alert when the rate is below this many Mbps (0 disables)")
	pf.StringVar(&opts.recipient, "to", opts.recipient, "alert recipient")
	pf.StringVar(&opts.notifyURL, "notify-url", opts.notifyURL, "form endpoint alerts are posted to")
	pf.BoolVarP(&opts.quiet, "quiet", "q", false, "do not print progress samples")

	root.AddCommand(newDownloadCmd(&cfg, &opts), newUploadCmd(&cfg, &opts), newTriggerCmd(&opts))
	return root
}

func newDownloadCmd(cfg *config.Config, opts *localOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Run one download measurement locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLocal(cmd, *cfg, *opts, domain.Download)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.DownloadURL, "url", cfg.DownloadURL, "payload to download")
	f.StringVar(&cfg.WarmupURL, "warmup-url", cfg.WarmupURL, "warm-up payload; empty skips warm-up")
	f.DurationVar(&cfg.DownloadTimeout, "timeout", cfg.DownloadTimeout, "measured download timeout")
	return cmd
}

func newUploadCmd(cfg *config.Config, opts *localOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Run one upload measurement locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLocal(cmd, *cfg, *opts, domain.Upload)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.UploadURL, "url", cfg.UploadURL, "chunked upload endpoint")
	f.IntVarP(&cfg.Concurrency, "concurrency", "c", cfg.Concurrency, "parallel upload sessions")
	f.IntVar(&cfg.PayloadSizeMB, "payload-mb", cfg.PayloadSizeMB, "payload per session in MB")
	f.IntVar(&cfg.ChunkSizeMB, "chunk-mb", cfg.ChunkSizeMB, "chunk size in MB")
	f.DurationVar(&cfg.UploadTimeout, "timeout", cfg.UploadTimeout, "per chunk request timeout")
	return cmd
}

// runLocal runs one cycle in-process and prints its events as they arrive.
func runLocal(cmd *cobra.Command, cfg config.Config, opts localOpts, kind domain.Kind) error {
	cfg.MinAcceptableMbps = opts.minMbps
	cfg.AlertRecipient = opts.recipient
	cfg.NotifyURL = opts.notifyURL
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.NewLogger(logging.Options{Dir: cfg.LogDir, Level: cfg.LogLevel, Console: cfg.LogConsole})
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	client := &http.Client{Transport: probe.NewTransport()}
	suite := &probe.Suite{
		Download:       probe.NewDownloadProbe(client, logger),
		DownloadTarget: cfg.DownloadTarget(),
		Upload:         probe.NewUploadProbe(client, logger),
		UploadTarget:   cfg.UploadTarget(),
	}

	var d monitor.Dispatcher
	if channels := notify.Channels(cfg.NotifyURL, cfg.SlackWebhook, cfg.BrevoAPIKey, cfg.BrevoSender); len(channels) > 0 {
		d = notify.NewDispatcher(throttle.New(cfg.DailyAlertCap), channels, logger)
	}

	out := cmd.OutOrStdout()
	printer := monitor.Hooks{
		Complete: func(_ string, r domain.MeasurementResult) {
			if r.OK() {
				fmt.Fprintf(out, "result    %s %s\n", r.Kind, domain.FormatRate(r.RateMbps))
				return
			}
			fmt.Fprintf(out, "result    %s failed: %s (%s)\n", r.Kind, r.Error, r.Detail)
		},
		Decision: func(_ string, dec domain.AlertDecision) {
			fmt.Fprintf(out, "alert     %s\n", dec)
		},
	}
	if !opts.quiet {
		printer.Progress = func(_ string, rate string) {
			fmt.Fprintf(out, "progress  %s\n", rate)
		}
	}

	mon := monitor.New(ctx, suite, d, logger, monitor.Options{
		Observers: []monitor.Observer{printer, monitor.LogObserver(logger)},
	})
	defer mon.Close()

	cy, err := mon.StartCycle(kind, cfg.Threshold())
	if err != nil {
		return err
	}
	// The cycle finishes on its own after Ctrl-C, so wait without ctx.
	rec, _ := cy.Wait(context.Background())
	logger.Info("cli_cycle_done", zap.String("cycle_id", rec.ID), zap.String("state", string(rec.State)))
	if rec.State == domain.StateFailed || !rec.Result.OK() {
		return errors.Errorf("%s measurement failed: %s", kind, rec.Result.Error)
	}
	return nil
}

type triggerOpts struct {
	api  string
	key  string
	kind string
}

func newTriggerCmd(local *localOpts) *cobra.Command {
	t := triggerOpts{
		api:  envOr("API_BASE", "http://localhost:8080"),
		key:  os.Getenv("API_KEY"),
		kind: string(domain.Download),
	}
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Ask a running speedmon API to start a cycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTrigger(cmd, t, *local)
		},
	}
	f := cmd.Flags()
	f.StringVar(&t.api, "api", t.api, "API base URL")
	f.StringVar(&t.key, "key", t.key, "admin API key")
	f.StringVar(&t.kind, "kind", t.kind, "download or upload")
	return cmd
}

func runTrigger(cmd *cobra.Command, t triggerOpts, local localOpts) error {
	kind, err := domain.ParseKind(t.kind)
	if err != nil {
		return err
	}
	payload := map[string]any{"kind": kind}
	if cmd.Flags().Changed("min") {
		payload["min_mbps"] = local.minMbps
	}
	if cmd.Flags().Changed("to") {
		payload["recipient"] = local.recipient
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(t.api, "/")+"/api/cycles", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.key != "" {
		req.Header.Set("X-API-Key", t.key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "contacting API")
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusAccepted {
		return errors.Errorf("API returned %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	var started struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &started); err != nil {
		return errors.Wrap(err, "decoding API response")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "started %s cycle %s\n", kind, started.ID)
	return nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
