package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/speedmon/internal/domain"
	apimw "github.com/hamed0406/speedmon/internal/httpapi/middleware"
	"github.com/hamed0406/speedmon/internal/monitor"
	"github.com/hamed0406/speedmon/internal/probe"
	"github.com/hamed0406/speedmon/internal/repo/memory"
	"github.com/hamed0406/speedmon/internal/throttle"
)

// ---- test helpers ----

// gateMeasurer holds every measurement until release is closed.
type gateMeasurer struct {
	release chan struct{}
	rate    float64
}

func (g *gateMeasurer) Measure(ctx context.Context, kind domain.Kind, _ probe.ProgressFunc) (domain.MeasurementResult, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return domain.Failed(kind, domain.ErrKindCanceled, ctx.Err().Error()), nil
	}
	return domain.MeasurementResult{Kind: kind, RateMbps: g.rate, CompletedAt: time.Now().UTC()}, nil
}

type fixture struct {
	srv     *Server
	mon     *monitor.Coordinator
	store   *memory.Store
	gate    *gateMeasurer
	handler http.Handler
}

func setupRouter(t *testing.T) *fixture {
	t.Helper()
	log := zap.NewNop()
	store := memory.New()
	gate := &gateMeasurer{release: make(chan struct{}), rate: 42}

	mon := monitor.New(context.Background(), gate, nil, log, monitor.Options{Store: store})
	t.Cleanup(mon.Close)

	srv := NewServer(log, mon, store, throttle.New(3), NewHub(log), domain.ThresholdConfig{MinAcceptableMbps: 10})

	keys := apimw.Keys{
		Public: []string{"pub_test"},
		Admin:  []string{"adm_test"},
	}

	// very high rate limits to avoid flakiness in tests
	h := srv.Router(keys, nil, 10_000, 10_000, 10_000, 10_000)
	return &fixture{srv: srv, mon: mon, store: store, gate: gate, handler: h}
}

func (f *fixture) do(t *testing.T, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v (body %q)", err, rec.Body.String())
	}
	return v
}

// ---- tests ----

func TestStartCycle_AcceptedThenConflict(t *testing.T) {
	f := setupRouter(t)

	rec := f.do(t, http.MethodPost, "/api/cycles", "adm_test", map[string]any{"kind": "download", "min_mbps": 50})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("want 202, got %d: %s", rec.Code, rec.Body.String())
	}
	started := decode[map[string]string](t, rec)
	id := started["id"]
	if id == "" {
		t.Fatal("missing cycle id")
	}
	if loc := rec.Header().Get("Location"); loc != "/api/cycles/"+id {
		t.Fatalf("unexpected Location %q", loc)
	}

	rec = f.do(t, http.MethodPost, "/api/cycles", "adm_test", map[string]any{"kind": "upload"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second start want 409, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/cycles/"+id, "pub_test", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("lookup want 200, got %d", rec.Code)
	}
	if got := decode[domain.CycleRecord](t, rec); got.State != domain.StateRunning || got.Threshold != 50 {
		t.Fatalf("unexpected running record %+v", got)
	}

	cy := f.mon.Current()
	close(f.gate.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cy.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	got := decode[domain.CycleRecord](t, f.do(t, http.MethodGet, "/api/cycles/"+id, "pub_test", nil))
	if got.State != domain.StateCompleted {
		t.Fatalf("want completed, got %s", got.State)
	}
	// 42 is under the requested 50 Mbps but nobody is there to tell.
	if got.Decision != domain.DecisionSuppressed {
		t.Fatalf("want suppressed, got %s", got.Decision)
	}
}

func TestStartCycle_BadPayload(t *testing.T) {
	f := setupRouter(t)
	cases := []struct {
		name string
		body any
	}{
		{"not json", "{"},
		{"unknown kind", map[string]any{"kind": "sideways"}},
		{"missing kind", map[string]any{}},
		{"negative threshold", map[string]any{"kind": "download", "min_mbps": -1}},
	}
	for _, c := range cases {
		rec := f.do(t, http.MethodPost, "/api/cycles", "adm_test", c.body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: want 400, got %d", c.name, rec.Code)
		}
	}
	if f.mon.State() != domain.StateIdle {
		t.Fatal("rejected requests must not start a cycle")
	}
}

func TestStartCycle_RequiresAdmin(t *testing.T) {
	f := setupRouter(t)
	if rec := f.do(t, http.MethodPost, "/api/cycles", "pub_test", map[string]any{"kind": "download"}); rec.Code != http.StatusForbidden {
		t.Fatalf("public key want 403, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/status", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no key want 401, got %d", rec.Code)
	}
}

func TestGetCycle_FallsBackToHistory(t *testing.T) {
	f := setupRouter(t)
	old := &domain.CycleRecord{ID: "old-1", Kind: domain.Upload, State: domain.StateFailed}
	if err := f.store.Append(context.Background(), old); err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodGet, "/api/cycles/old-1", "pub_test", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	if got := decode[domain.CycleRecord](t, rec); got.Kind != domain.Upload {
		t.Fatalf("unexpected record %+v", got)
	}

	if rec := f.do(t, http.MethodGet, "/api/cycles/nope", "pub_test", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", rec.Code)
	}
}

func TestResults_NewestFirstWithLimit(t *testing.T) {
	f := setupRouter(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := f.store.Append(context.Background(), &domain.CycleRecord{ID: id, Kind: domain.Download}); err != nil {
			t.Fatal(err)
		}
	}

	rec := f.do(t, http.MethodGet, "/api/results?limit=2", "pub_test", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	got := decode[[]domain.CycleRecord](t, rec)
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("unexpected history %+v", got)
	}

	if rec := f.do(t, http.MethodGet, "/api/results?limit=abc", "pub_test", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit want 400, got %d", rec.Code)
	}
}

func TestStatus_ReportsStateAndQuota(t *testing.T) {
	f := setupRouter(t)
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	f.srv.Now = func() time.Time { return now }
	f.srv.Throttle.TryAcquire(throttle.DayOf(now))

	rec := f.do(t, http.MethodGet, "/api/status", "pub_test", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	got := decode[statusView](t, rec)
	if got.State != domain.StateIdle || got.AlertsToday != 1 || got.DailyAlertCap != 3 || got.CurrentCycleID != "" {
		t.Fatalf("unexpected status %+v", got)
	}
}
