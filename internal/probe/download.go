package probe

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hamed0406/speedmon/internal/domain"
	"github.com/hamed0406/speedmon/internal/metrics"
)

const (
	DefaultDownloadTimeout  = 20 * time.Second
	DefaultWarmupTimeout    = 10 * time.Second
	DefaultProgressInterval = 100 * time.Millisecond
)

// DownloadTarget describes one download measurement.
type DownloadTarget struct {
	URL       string
	WarmupURL string // optional; fetched and discarded before measuring
	Timeout   time.Duration
	// WarmupTimeout bounds the warm-up request on its own.
	WarmupTimeout time.Duration
	// ExpectedBytes is used for progress when the server sends no
	// Content-Length.
	ExpectedBytes int64
}

type DownloadProbe struct {
	Client           *http.Client
	Logger           *zap.Logger
	Metrics          *metrics.Metrics
	ProgressInterval time.Duration

	running atomic.Bool
}

func NewDownloadProbe(client *http.Client, logger *zap.Logger) *DownloadProbe {
	if client == nil {
		client = &http.Client{Transport: NewTransport()}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DownloadProbe{
		Client:           client,
		Logger:           logger,
		ProgressInterval: DefaultProgressInterval,
	}
}

// Run warms the connection up, then times a full GET of target.URL. Progress
// samples are non-decreasing in FractionComplete and the last one is always
// {1.0, final rate}. Measurement failures come back as a zero-rate result;
// the error is reserved for domain.ErrAlreadyRunning.
func (p *DownloadProbe) Run(ctx context.Context, target DownloadTarget, onProgress ProgressFunc) (domain.MeasurementResult, error) {
	if !p.running.CompareAndSwap(false, true) {
		return domain.MeasurementResult{}, domain.ErrAlreadyRunning
	}
	defer p.running.Store(false)

	if target.WarmupURL != "" {
		p.warmUp(ctx, target)
	}
	res := p.measure(ctx, target, onProgress)
	p.Metrics.ObserveProbe(res)
	return res, nil
}

func (p *DownloadProbe) warmUp(ctx context.Context, target DownloadTarget) {
	timeout := target.WarmupTimeout
	if timeout <= 0 {
		timeout = DefaultWarmupTimeout
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	n, err := p.fetch(wctx, target.WarmupURL, nil)
	if err != nil {
		p.Logger.Warn("warmup_failed",
			zap.String("url", target.WarmupURL),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	p.Logger.Debug("warmup_done",
		zap.String("url", target.WarmupURL),
		zap.Int64("bytes", n),
		zap.Duration("elapsed", time.Since(start)),
	)
}

func (p *DownloadProbe) measure(ctx context.Context, target DownloadTarget, onProgress ProgressFunc) domain.MeasurementResult {
	timeout := target.Timeout
	if timeout <= 0 {
		timeout = DefaultDownloadTimeout
	}
	mctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	pr := &progressReader{
		total:    target.ExpectedBytes,
		start:    start,
		interval: p.ProgressInterval,
		emit:     onProgress,
	}
	n, err := p.fetch(mctx, target.URL, pr)
	elapsed := time.Since(start)
	if err != nil {
		ek := classify(mctx, err)
		p.Logger.Warn("download_failed",
			zap.String("url", target.URL),
			zap.String("error_kind", string(ek)),
			zap.Int64("bytes", n),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return domain.Failed(domain.Download, ek, err.Error())
	}

	rate := Mbps(n, elapsed)
	if onProgress != nil {
		onProgress(domain.ProgressSample{FractionComplete: 1, InstantaneousRateMbps: rate})
	}
	p.Logger.Info("download_measured",
		zap.String("url", target.URL),
		zap.Int64("bytes", n),
		zap.Duration("elapsed", elapsed),
		zap.Float64("rate_mbps", rate),
	)
	return domain.MeasurementResult{
		Kind:        domain.Download,
		RateMbps:    rate,
		CompletedAt: time.Now().UTC(),
		Bytes:       n,
		Elapsed:     elapsed,
	}
}

// fetch GETs url and drains the body, through pr when it is non-nil.
func (p *DownloadProbe) fetch(ctx context.Context, url string, pr *progressReader) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, errors.Wrap(err, "build request")
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return 0, errors.Errorf("unexpected status %s", resp.Status)
	}

	var body io.Reader = resp.Body
	if pr != nil {
		if resp.ContentLength > 0 {
			pr.total = resp.ContentLength
		}
		pr.r = resp.Body
		body = pr
	}
	return io.Copy(io.Discard, body)
}

// progressReader counts bytes as they are read and emits rate-limited
// progress samples. It never emits the terminal sample; the probe does that
// once the body is fully drained.
type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	start    time.Time
	last     time.Time
	interval time.Duration
	emit     ProgressFunc
}

func (pr *progressReader) Read(b []byte) (int, error) {
	n, err := pr.r.Read(b)
	if n > 0 {
		pr.read += int64(n)
		pr.maybeEmit()
	}
	return n, err
}

func (pr *progressReader) maybeEmit() {
	if pr.emit == nil {
		return
	}
	if pr.total > 0 && pr.read >= pr.total {
		return
	}
	now := time.Now()
	if !pr.last.IsZero() && now.Sub(pr.last) < pr.interval {
		return
	}
	pr.last = now
	var fraction float64
	if pr.total > 0 {
		fraction = float64(pr.read) / float64(pr.total)
	}
	pr.emit(domain.ProgressSample{
		FractionComplete:      fraction,
		InstantaneousRateMbps: Mbps(pr.read, now.Sub(pr.start)),
	})
}
