package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/hamed0406/speedmon/internal/domain"
)

// Endpoints used when nothing else is configured.
const (
	DefaultDownloadURL = "https://sample-videos.com/video321/mp4/720/big_buck_bunny_720p_10mb.mp4"
	DefaultWarmupURL   = "https://sample-videos.com/video321/mp4/720/big_buck_bunny_720p_1mb.mp4"
	DefaultUploadURL   = "https://speedio-server-16655e5b4064.herokuapp.com/upload"
	DefaultNotifyURL   = "https://emailio-c9198bebc9fe.herokuapp.com/api/email/send"
)

type Config struct {
	Addr        string // API bind address, e.g. "127.0.0.1:8080" or ":8080" in a container
	LogDir      string
	LogLevel    string
	LogConsole  bool   // also write logs to stderr
	DatabaseURL string // empty means in-memory history

	PublicAPIKeys  []string
	AdminAPIKeys   []string
	AllowedOrigins []string
	PublicRPM      int
	PublicBurst    int
	AdminRPM       int
	AdminBurst     int

	// probes
	DownloadURL     string
	WarmupURL       string
	UploadURL       string
	DownloadTimeout time.Duration
	WarmupTimeout   time.Duration
	UploadTimeout   time.Duration // per chunk request
	Concurrency     int
	ChunkSizeMB     int
	PayloadSizeMB   int

	// alerting
	MinAcceptableMbps float64
	AlertRecipient    string
	DailyAlertCap     int
	NotifyURL         string
	SlackWebhook      string
	BrevoAPIKey       string
	BrevoSender       string

	// background monitoring; zero interval disables it
	MonitorInterval time.Duration
	MonitorKinds    []domain.Kind
	CycleTTL        time.Duration
}

func FromEnv() Config {
	return Config{
		Addr:        str("API_ADDR", "127.0.0.1:8080"),
		LogDir:      str("LOG_DIR", "logs"),
		LogLevel:    str("LOG_LEVEL", "info"),
		LogConsole:  boolean("LOG_CONSOLE", false),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		PublicAPIKeys:  list("PUBLIC_API_KEYS"),
		AdminAPIKeys:   list("ADMIN_API_KEYS"),
		AllowedOrigins: list("ALLOWED_ORIGINS"),
		PublicRPM:      integer("PUBLIC_RPM", 120, 0),
		PublicBurst:    integer("PUBLIC_BURST", 60, 1),
		AdminRPM:       integer("ADMIN_RPM", 60, 0),
		AdminBurst:     integer("ADMIN_BURST", 20, 1),

		DownloadURL:     str("DOWNLOAD_URL", DefaultDownloadURL),
		WarmupURL:       str("WARMUP_URL", DefaultWarmupURL),
		UploadURL:       str("UPLOAD_URL", DefaultUploadURL),
		DownloadTimeout: millis("DOWNLOAD_TIMEOUT_MS", 20*time.Second),
		WarmupTimeout:   millis("WARMUP_TIMEOUT_MS", 10*time.Second),
		UploadTimeout:   millis("UPLOAD_TIMEOUT_MS", 5*time.Minute),
		Concurrency:     integer("UPLOAD_CONCURRENCY", 5, 1),
		ChunkSizeMB:     integer("CHUNK_SIZE_MB", 1, 1),
		PayloadSizeMB:   integer("PAYLOAD_SIZE_MB", 10, 1),

		MinAcceptableMbps: float("THRESHOLD_MBPS", 0),
		AlertRecipient:    os.Getenv("ALERT_RECIPIENT"),
		DailyAlertCap:     integer("DAILY_ALERT_CAP", 3, 0),
		NotifyURL:         str("NOTIFY_URL", DefaultNotifyURL),
		SlackWebhook:      os.Getenv("SLACK_WEBHOOK"),
		BrevoAPIKey:       os.Getenv("BREVO_API_KEY"),
		BrevoSender:       os.Getenv("BREVO_SENDER"),

		MonitorInterval: millis("MONITOR_INTERVAL_MS", 0),
		MonitorKinds:    kinds("MONITOR_KINDS", []domain.Kind{domain.Download}),
		CycleTTL:        millis("CYCLE_TTL_MS", time.Hour),
	}
}

// Validate reports every problem found, not just the first.
func (c Config) Validate() error {
	var errs error
	for name, raw := range map[string]string{
		"DOWNLOAD_URL": c.DownloadURL,
		"UPLOAD_URL":   c.UploadURL,
	} {
		if !isHTTPURL(raw) {
			errs = multierr.Append(errs, fmt.Errorf("%s must be an http(s) URL, got %q", name, raw))
		}
	}
	if c.WarmupURL != "" && !isHTTPURL(c.WarmupURL) {
		errs = multierr.Append(errs, fmt.Errorf("WARMUP_URL must be an http(s) URL, got %q", c.WarmupURL))
	}
	if c.ChunkSizeMB > c.PayloadSizeMB {
		errs = multierr.Append(errs, fmt.Errorf("CHUNK_SIZE_MB (%d) exceeds PAYLOAD_SIZE_MB (%d)", c.ChunkSizeMB, c.PayloadSizeMB))
	}
	if c.MinAcceptableMbps < 0 {
		errs = multierr.Append(errs, fmt.Errorf("THRESHOLD_MBPS must not be negative, got %v", c.MinAcceptableMbps))
	}
	if c.AlertRecipient != "" && !strings.Contains(c.AlertRecipient, "@") && c.SlackWebhook == "" {
		errs = multierr.Append(errs, fmt.Errorf("ALERT_RECIPIENT %q is not an email address", c.AlertRecipient))
	}
	if c.BrevoAPIKey != "" && c.BrevoSender == "" {
		errs = multierr.Append(errs, fmt.Errorf("BREVO_SENDER is required when BREVO_API_KEY is set"))
	}
	if c.MonitorInterval < 0 {
		errs = multierr.Append(errs, fmt.Errorf("MONITOR_INTERVAL_MS must not be negative"))
	}
	return errs
}

// Threshold is the per-cycle config used when a caller supplies none.
func (c Config) Threshold() domain.ThresholdConfig {
	return domain.ThresholdConfig{
		MinAcceptableMbps: c.MinAcceptableMbps,
		AlertRecipient:    c.AlertRecipient,
	}
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func integer(key string, def, floor int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= floor {
			return n
		}
	}
	return def
}

func float(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func boolean(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func millis(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}

// list splits a comma-separated value, dropping blanks.
func list(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func kinds(key string, def []domain.Kind) []domain.Kind {
	raw := list(key)
	if len(raw) == 0 {
		return def
	}
	var out []domain.Kind
	for _, r := range raw {
		if k, err := domain.ParseKind(strings.ToLower(r)); err == nil {
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
