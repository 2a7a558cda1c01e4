package probe

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hamed0406/speedmon/internal/domain"
	"github.com/hamed0406/speedmon/internal/metrics"
)

// ContinuationMarker must appear in the server's answer to every chunk but
// the last one.
const ContinuationMarker = "Chunk received, waiting for more chunks"

const (
	DefaultConcurrency    = 5
	DefaultChunkSizeMB    = 1
	DefaultPayloadSizeMB  = 10
	DefaultRequestTimeout = 5 * time.Minute

	mib        = 1 << 20
	maxAckSize = 64 << 10
)

type UploadTarget struct {
	URL            string
	PayloadSizeMB  int
	ChunkSizeMB    int
	Concurrency    int
	RequestTimeout time.Duration // per chunk request
}

func (t UploadTarget) withDefaults() UploadTarget {
	if t.PayloadSizeMB < 1 {
		t.PayloadSizeMB = DefaultPayloadSizeMB
	}
	if t.ChunkSizeMB < 1 {
		t.ChunkSizeMB = DefaultChunkSizeMB
	}
	if t.Concurrency < 1 {
		t.Concurrency = DefaultConcurrency
	}
	if t.RequestTimeout <= 0 {
		t.RequestTimeout = DefaultRequestTimeout
	}
	return t
}

// TotalChunks is ceil(PayloadSizeMB / ChunkSizeMB).
func (t UploadTarget) TotalChunks() int {
	t = t.withDefaults()
	return (t.PayloadSizeMB + t.ChunkSizeMB - 1) / t.ChunkSizeMB
}

// SessionResult is the outcome of one upload worker.
type SessionResult struct {
	SessionID string
	RateMbps  float64
	Error     domain.ErrorKind
	Chunks    int // acknowledged chunks
	Elapsed   time.Duration
}

type UploadProbe struct {
	Client       *http.Client
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	NewSessionID func() string

	running atomic.Bool
}

func NewUploadProbe(client *http.Client, logger *zap.Logger) *UploadProbe {
	if client == nil {
		client = &http.Client{Transport: NewTransport()}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UploadProbe{
		Client:       client,
		Logger:       logger,
		NewSessionID: uuid.NewString,
	}
}

// Run uploads the payload Concurrency times in parallel, one chunked session
// per worker, and reports the mean session rate. Failed sessions count as 0
// in the mean; if every session failed the result is a partial failure.
// A failing session never cancels its siblings.
func (p *UploadProbe) Run(ctx context.Context, target UploadTarget, onProgress ProgressFunc) (domain.MeasurementResult, error) {
	if !p.running.CompareAndSwap(false, true) {
		return domain.MeasurementResult{}, domain.ErrAlreadyRunning
	}
	defer p.running.Store(false)

	target = target.withDefaults()
	start := time.Now()
	sessions := p.runSessions(ctx, target, onProgress)
	elapsed := time.Since(start)

	var res domain.MeasurementResult
	switch {
	case ctx.Err() != nil:
		res = domain.Failed(domain.Upload, classify(ctx, ctx.Err()), ctx.Err().Error())
		p.Logger.Warn("upload_interrupted",
			zap.String("url", target.URL),
			zap.String("error_kind", string(res.Error)),
			zap.Int("sessions_ok", okCount(sessions)),
			zap.Duration("elapsed", elapsed),
		)
	case allZero(sessions):
		res = domain.Failed(domain.Upload, domain.ErrKindPartialFailure, firstError(sessions))
		p.Logger.Warn("upload_all_sessions_failed",
			zap.String("url", target.URL),
			zap.Int("sessions", len(sessions)),
			zap.Duration("elapsed", elapsed),
		)
	default:
		res = domain.MeasurementResult{
			Kind:        domain.Upload,
			RateMbps:    MeanRate(sessions),
			CompletedAt: time.Now().UTC(),
			Bytes:       int64(target.PayloadSizeMB) * mib * int64(okCount(sessions)),
			Elapsed:     elapsed,
		}
		p.Logger.Info("upload_measured",
			zap.String("url", target.URL),
			zap.Int("sessions", len(sessions)),
			zap.Int("sessions_ok", okCount(sessions)),
			zap.Float64("rate_mbps", res.RateMbps),
			zap.Duration("elapsed", elapsed),
		)
	}
	p.Metrics.ObserveProbe(res)
	return res, nil
}

func (p *UploadProbe) runSessions(ctx context.Context, target UploadTarget, onProgress ProgressFunc) []SessionResult {
	// Every chunk is zero-filled, so all workers share one read-only buffer.
	chunk := make([]byte, target.ChunkSizeMB*mib)
	total := target.TotalChunks()

	results := make([]SessionResult, target.Concurrency)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := p.session(ctx, target, chunk, total)
			results[i] = r
			p.Metrics.ObserveUploadSession(r.Error)

			if onProgress == nil {
				return
			}
			mu.Lock()
			done++
			onProgress(domain.ProgressSample{
				FractionComplete:      float64(done) / float64(target.Concurrency),
				InstantaneousRateMbps: r.RateMbps,
			})
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	return results
}

func (p *UploadProbe) session(ctx context.Context, target UploadTarget, chunk []byte, total int) SessionResult {
	id := p.NewSessionID()
	log := p.Logger.With(zap.String("session_id", id))
	payload := int64(target.PayloadSizeMB) * mib

	start := time.Now()
	for n := 1; n <= total; n++ {
		size := int64(len(chunk))
		if rest := payload - int64(n-1)*size; rest < size {
			size = rest
		}
		ack, err := p.sendChunk(ctx, target, id, n, total, chunk[:size])
		if err != nil {
			ek := domain.KindOf(err)
			log.Warn("upload_chunk_failed",
				zap.Int("chunk", n),
				zap.String("error_kind", string(ek)),
				zap.Error(err),
			)
			return SessionResult{SessionID: id, Error: ek, Chunks: n - 1, Elapsed: time.Since(start)}
		}
		if n < total && !strings.Contains(ack, ContinuationMarker) {
			log.Warn("upload_protocol_violation",
				zap.Int("chunk", n),
				zap.String("ack", truncate(ack, 200)),
			)
			return SessionResult{SessionID: id, Error: domain.ErrKindProtocolViolation, Chunks: n - 1, Elapsed: time.Since(start)}
		}
	}
	elapsed := time.Since(start)
	rate := round2(Mbps(payload, elapsed))
	log.Debug("upload_session_done",
		zap.Int("chunks", total),
		zap.Duration("elapsed", elapsed),
		zap.Float64("rate_mbps", rate),
	)
	return SessionResult{SessionID: id, RateMbps: rate, Chunks: total, Elapsed: elapsed}
}

// sendChunk posts one multipart chunk and returns the server's answer. The
// error, when set, wraps the domain sentinel for its kind.
func (p *UploadProbe) sendChunk(ctx context.Context, target UploadTarget, id string, n, total int, data []byte) (string, error) {
	body, contentType, err := encodeChunk(id, n, total, target.PayloadSizeMB, data)
	if err != nil {
		return "", errors.Wrap(err, "encode chunk")
	}

	rctx, cancel := context.WithTimeout(ctx, target.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodPost, target.URL, body)
	if err != nil {
		return "", errors.Wrap(domain.ErrTransport, err.Error())
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", errors.Wrap(classify(rctx, err).Err(), err.Error())
	}
	defer resp.Body.Close()
	ack, err := io.ReadAll(io.LimitReader(resp.Body, maxAckSize))
	if err != nil {
		return "", errors.Wrap(classify(rctx, err).Err(), "read ack: "+err.Error())
	}
	if resp.StatusCode/100 != 2 {
		return "", errors.Wrapf(domain.ErrTransport, "chunk %d: %s", n, resp.Status)
	}
	return string(ack), nil
}

func encodeChunk(id string, n, total, fileSizeMB int, data []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "testfile_chunk_"+strconv.Itoa(n)+".bin")
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, "", err
	}
	fields := [][2]string{
		{"chunkNumber", strconv.Itoa(n)},
		{"totalChunks", strconv.Itoa(total)},
		{"fileSizeMB", strconv.Itoa(fileSizeMB)},
		{"fileId", id},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// MeanRate is the arithmetic mean of all session rates, zeros included.
func MeanRate(sessions []SessionResult) float64 {
	if len(sessions) == 0 {
		return 0
	}
	var sum float64
	for _, s := range sessions {
		sum += s.RateMbps
	}
	return sum / float64(len(sessions))
}

func allZero(sessions []SessionResult) bool {
	return okCount(sessions) == 0
}

func okCount(sessions []SessionResult) int {
	n := 0
	for _, s := range sessions {
		if s.RateMbps > 0 {
			n++
		}
	}
	return n
}

func firstError(sessions []SessionResult) string {
	for _, s := range sessions {
		if s.Error != domain.ErrKindNone {
			return "session " + s.SessionID + ": " + string(s.Error)
		}
	}
	return "no session reported a positive rate"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
