package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hamed0406/speedmon/internal/domain"
	apimw "github.com/hamed0406/speedmon/internal/httpapi/middleware"
	"github.com/hamed0406/speedmon/internal/monitor"
	"github.com/hamed0406/speedmon/internal/repo"
	"github.com/hamed0406/speedmon/internal/throttle"
)

// Monitor is the part of the coordinator the API drives.
type Monitor interface {
	StartCycle(kind domain.Kind, cfg domain.ThresholdConfig) (*monitor.Cycle, error)
	Lookup(id string) (domain.CycleRecord, bool)
	State() domain.CycleState
	Current() *monitor.Cycle
}

type Server struct {
	Logger   *zap.Logger
	Monitor  Monitor
	Results  repo.CycleStore
	Throttle *throttle.Throttle
	Events   *Hub
	// Defaults fill in whatever a start request leaves out.
	Defaults domain.ThresholdConfig
	Gatherer prometheus.Gatherer
	Now      func() time.Time
}

func NewServer(l *zap.Logger, m Monitor, rs repo.CycleStore, th *throttle.Throttle, hub *Hub, defaults domain.ThresholdConfig) *Server {
	return &Server{
		Logger:   l,
		Monitor:  m,
		Results:  rs,
		Throttle: th,
		Events:   hub,
		Defaults: defaults,
		Now:      time.Now,
	}
}

// Router wires the routes. Reads take a public or admin key, starting a
// cycle takes an admin key. Rates are requests per minute per client IP.
func (s *Server) Router(keys apimw.Keys, allowedOrigins []string, publicRPM, publicBurst, adminRPM, adminBurst int) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(corsHandler(allowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if s.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(publicRPM, publicBurst))
			r.Use(apimw.RequireAny(keys))
			r.Get("/status", s.handleStatus)
			r.Get("/results", s.handleResults)
			r.Get("/cycles/{id}", s.handleGetCycle)
			if s.Events != nil {
				r.Get("/events", s.handleEvents)
			}
		})
		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(adminRPM, adminBurst))
			r.Use(apimw.RequireAdmin(keys))
			r.Post("/cycles", s.handleStartCycle)
		})
	})

	return r
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return cors.AllowAll().Handler
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	})
}

type startPayload struct {
	Kind      string   `json:"kind"`
	MinMbps   *float64 `json:"min_mbps"`
	Recipient string   `json:"recipient"`
}

func (s *Server) handleStartCycle(w http.ResponseWriter, r *http.Request) {
	var p startPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	kind, err := domain.ParseKind(p.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := s.Defaults
	if p.MinMbps != nil {
		if *p.MinMbps < 0 {
			writeError(w, http.StatusBadRequest, "min_mbps must not be negative")
			return
		}
		cfg.MinAcceptableMbps = *p.MinMbps
	}
	if rcpt := strings.TrimSpace(p.Recipient); rcpt != "" {
		cfg.AlertRecipient = rcpt
	}

	cy, err := s.Monitor.StartCycle(kind, cfg)
	if errors.Is(err, domain.ErrAlreadyRunning) {
		writeError(w, http.StatusConflict, "a measurement is already running")
		return
	}
	if err != nil {
		s.Logger.Error("start_cycle_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not start")
		return
	}

	w.Header().Set("Location", "/api/cycles/"+cy.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":    cy.ID,
		"kind":  kind,
		"state": domain.StateRunning,
	})
}

func (s *Server) handleGetCycle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if rec, ok := s.Monitor.Lookup(id); ok {
		writeJSON(w, http.StatusOK, rec)
		return
	}
	if s.Results != nil {
		rec, err := s.Results.Get(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, rec)
			return
		}
		if !errors.Is(err, repo.ErrNotFound) {
			s.Logger.Error("cycle_lookup_failed", zap.String("cycle_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
	}
	writeError(w, http.StatusNotFound, "not found")
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	limit := repo.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if s.Results == nil {
		writeJSON(w, http.StatusOK, []domain.CycleRecord{})
		return
	}
	recs, err := s.Results.Recent(r.Context(), repo.ClampLimit(limit))
	if err != nil {
		s.Logger.Error("results_list_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list")
		return
	}
	if recs == nil {
		recs = []domain.CycleRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

type statusView struct {
	State          domain.CycleState `json:"state"`
	CurrentCycleID string            `json:"current_cycle_id,omitempty"`
	AlertsToday    int               `json:"alerts_today"`
	DailyAlertCap  int               `json:"daily_alert_cap"`
	Subscribers    int               `json:"event_subscribers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	v := statusView{State: s.Monitor.State()}
	if cy := s.Monitor.Current(); cy != nil {
		v.CurrentCycleID = cy.ID
	}
	if s.Throttle != nil {
		v.AlertsToday = s.Throttle.Count(throttle.DayOf(s.Now()))
		v.DailyAlertCap = s.Throttle.Cap()
	}
	if s.Events != nil {
		v.Subscribers = s.Events.Subscribers()
	}
	writeJSON(w, http.StatusOK, v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
