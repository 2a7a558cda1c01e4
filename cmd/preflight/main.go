// cmd/preflight/main.go
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/multierr"

	"github.com/hamed0406/speedmon/internal/config"
	"github.com/hamed0406/speedmon/internal/notify"
)

func main() {
	if !check(config.FromEnv(), os.Stdout, os.Stderr) {
		os.Exit(1)
	}
}

// check prints one line per finding and reports whether the service can start.
func check(cfg config.Config, stdout, stderr io.Writer) bool {
	passed := true
	fail := func(msg string) {
		fmt.Fprintln(stderr, "✖", msg)
		passed = false
	}
	warn := func(msg string) { fmt.Fprintln(stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Fprintln(stdout, "✔", msg) }

	for _, err := range multierr.Errors(cfg.Validate()) {
		fail(err.Error())
	}

	if len(cfg.AdminAPIKeys) == 0 {
		warn("ADMIN_API_KEYS is empty (anyone can start measurements).")
	}
	if len(cfg.PublicAPIKeys) == 0 && len(cfg.AdminAPIKeys) > 0 {
		warn("PUBLIC_API_KEYS is empty (read routes need an admin key).")
	}
	for name, keys := range map[string][]string{"ADMIN_API_KEYS": cfg.AdminAPIKeys, "PUBLIC_API_KEYS": cfg.PublicAPIKeys} {
		for _, k := range keys {
			if len(k) < 16 {
				warn(name + " has a key shorter than 16 characters.")
				break
			}
		}
	}

	ok("API_ADDR=" + cfg.Addr)
	if strings.HasPrefix(cfg.Addr, ":") || strings.HasPrefix(cfg.Addr, "0.0.0.0") {
		warn("API_ADDR listens on all interfaces; make sure API keys are set.")
	}

	if cfg.DatabaseURL == "" {
		warn("DATABASE_URL empty; measurement history is kept in memory only.")
	} else {
		ok("DATABASE_URL present")
	}

	if len(cfg.AllowedOrigins) == 0 {
		warn("ALLOWED_ORIGINS empty; CORS allows every origin.")
	} else {
		ok("ALLOWED_ORIGINS=" + strings.Join(cfg.AllowedOrigins, ","))
	}

	channels := notify.Channels(cfg.NotifyURL, cfg.SlackWebhook, cfg.BrevoAPIKey, cfg.BrevoSender)
	switch {
	case cfg.MinAcceptableMbps == 0:
		warn("THRESHOLD_MBPS is 0; alerts can never fire.")
	case len(channels) == 0:
		fail("THRESHOLD_MBPS is set but no notifier is configured (NOTIFY_URL, SLACK_WEBHOOK or BREVO_API_KEY).")
	case cfg.AlertRecipient == "" && cfg.SlackWebhook == "":
		warn("ALERT_RECIPIENT empty; alerts will be suppressed unless a request names one.")
	default:
		ok(fmt.Sprintf("alerts below %.2f Mbps, at most %d per day, via %d channel(s)", cfg.MinAcceptableMbps, cfg.DailyAlertCap, len(channels)))
	}
	if cfg.DailyAlertCap == 0 && cfg.MinAcceptableMbps > 0 {
		warn("DAILY_ALERT_CAP is 0; every alert will be throttled.")
	}

	if cfg.MonitorInterval > 0 {
		ok(fmt.Sprintf("background monitoring every %s", cfg.MonitorInterval))
	}

	if passed {
		ok("preflight passed")
	}
	return passed
}
