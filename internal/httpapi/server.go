// Package httpapi serves the REST read API and rule management endpoints
// with a chi router, plus the WebSocket push stream.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/shadow-hunter/shadowhunter-go/internal/analytics"
	"github.com/shadow-hunter/shadowhunter-go/internal/contracts"
	"github.com/shadow-hunter/shadowhunter-go/internal/defense"
	"github.com/shadow-hunter/shadowhunter-go/internal/detect"
	"github.com/shadow-hunter/shadowhunter-go/internal/graph"
	"github.com/shadow-hunter/shadowhunter-go/internal/observability"
	"github.com/shadow-hunter/shadowhunter-go/internal/reqcontext"
)

// No handler may run longer than two seconds.
const requestTimeout = 2 * time.Second

// Controller exposes the runtime state the API reads. Implemented by the
// runtime engine; narrowed here so handlers stay testable with fakes.
type Controller interface {
	Mode() string
	Uptime() time.Duration
	Version() string

	Nodes(ctx context.Context) ([]*graph.Node, error)
	Edges(ctx context.Context) ([]*graph.Edge, error)
	Alerts() []contracts.Alert
	Policies() *detect.PolicyStore
	Blocklist() *defense.Manager
}

// Server provides the HTTP API endpoints with a chi router.
type Server struct {
	controller Controller
	hub        *Hub
	metrics    *observability.Metrics
	logger     *zap.SugaredLogger
	router     *chi.Mux
}

// NewServer creates the API server. hub and metrics may be nil.
func NewServer(controller Controller, hub *Hub, metrics *observability.Metrics, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		controller: controller,
		hub:        hub,
		metrics:    metrics,
		logger:     logger,
		router:     chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestIDMiddleware echoes a valid client request ID or mints a fresh one.
func (s *Server) requestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := reqcontext.GetOrGenerateRequestID(r.Header.Get(reqcontext.RequestIDHeader))
			ctx := reqcontext.WithRequestID(r.Context(), id)
			w.Header().Set(reqcontext.RequestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// correlationIDMiddleware injects correlation ID and request source into context
func (s *Server) correlationIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := r.Header.Get("X-Correlation-ID")
			if correlationID == "" {
				correlationID = reqcontext.GenerateCorrelationID()
			}
			ctx := reqcontext.WithCorrelationID(r.Context(), correlationID)
			ctx = reqcontext.WithRequestSource(ctx, reqcontext.SourceRESTAPI)
			w.Header().Set("X-Correlation-ID", correlationID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.correlationIDMiddleware())

	// CORS headers for browser access
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Correlation-ID")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}
	if s.hub != nil {
		s.router.Get("/ws", s.hub.handleWS)
	}

	s.router.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/status", s.handleStatus)

		r.Route("/discovery", func(r chi.Router) {
			r.Get("/nodes", s.handleNodes)
			r.Get("/edges", s.handleEdges)
			r.Get("/risk-scores", s.handleRiskScores)
			r.Get("/traffic-stats", s.handleTrafficStats)
		})

		r.Route("/policy", func(r chi.Router) {
			r.Get("/alerts", s.handleAlerts)
			r.Get("/timeline", s.handleTimeline)
			r.Get("/profiles", s.handleProfiles)
			r.Get("/sessions", s.handleSessions)
			r.Get("/dlp", s.handleDLP)
			r.Get("/killchain", s.handleKillChain)
			r.Get("/compliance", s.handleCompliance)
			r.Get("/briefing", s.handleBriefing)
			r.Get("/report", s.handleReport)

			r.Get("/rules", s.handleListRules)
			r.Post("/rules", s.handleCreateRule)
			r.Put("/rules/{id}/toggle", s.handleToggleRule)
			r.Delete("/rules/{id}", s.handleDeleteRule)

			r.Get("/blocked", s.handleBlocked)
			r.Post("/unblock/{ip}", s.handleUnblock)
		})
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorw("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg, detail string) {
	correlationID := ""
	if status >= http.StatusInternalServerError {
		correlationID = reqcontext.GetCorrelationID(r.Context())
		s.logger.Errorw("request failed", "path", r.URL.Path, "status", status,
			"error", msg, "detail", detail, "correlation_id", correlationID,
			"request_id", reqcontext.GetRequestID(r.Context()))
	}
	s.writeJSON(w, status, contracts.NewErrorResponse(msg, detail, correlationID))
}

// snapshot pulls the graph views a derived-analytics handler needs. An
// error means the store read failed, not an empty graph.
func (s *Server) snapshot(r *http.Request) ([]*graph.Node, []*graph.Edge, error) {
	nodes, err := s.controller.Nodes(r.Context())
	if err != nil {
		return nil, nil, err
	}
	edges, err := s.controller.Edges(r.Context())
	if err != nil {
		return nil, nil, err
	}
	return nodes, edges, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"mode":           s.controller.Mode(),
		"uptime_seconds": int64(s.controller.Uptime().Seconds()),
		"version":        s.controller.Version(),
		"defense":        s.controller.Blocklist().Snapshot(),
	})
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	filter := graph.NodeFilter{Type: graph.NodeType(r.URL.Query().Get("type"))}
	nodes, err := s.controller.Nodes(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "failed to read nodes", err.Error())
		return
	}
	if filter.Type != "" {
		kept := nodes[:0]
		for _, n := range nodes {
			if n.Type == filter.Type {
				kept = append(kept, n)
			}
		}
		nodes = kept
	}
	s.writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleEdges(w http.ResponseWriter, r *http.Request) {
	edges, err := s.controller.Edges(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "failed to read edges", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, edges)
}

// riskScoreEntry is the wire shape of one ranked source.
type riskScoreEntry struct {
	IP          string  `json:"ip"`
	Department  string  `json:"department,omitempty"`
	RiskPct     float64 `json:"risk_pct"`
	TotalAlerts int     `json:"total_alerts"`
	High        int     `json:"high"`
	Medium      int     `json:"medium"`
	Low         int     `json:"low"`
	EdgeCount   int     `json:"edge_count"`
}

func (s *Server) handleRiskScores(w http.ResponseWriter, r *http.Request) {
	nodes, edges, err := s.snapshot(r)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "failed to read graph", err.Error())
		return
	}
	scores := analytics.RiskScores(s.controller.Alerts(), edges, nodes)
	out := make([]riskScoreEntry, len(scores))
	for i, sc := range scores {
		out[i] = riskScoreEntry{
			IP:          sc.IP,
			Department:  sc.Department,
			RiskPct:     sc.Score,
			TotalAlerts: sc.High + sc.Medium + sc.Low,
			High:        sc.High,
			Medium:      sc.Medium,
			Low:         sc.Low,
			EdgeCount:   sc.EdgeCount,
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTrafficStats(w http.ResponseWriter, r *http.Request) {
	nodes, edges, err := s.snapshot(r)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "failed to read graph", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, analytics.Stats(nodes, edges, s.controller.Alerts()))
}

func (s *Server) handleAlerts(w http.ResponseWriter, _ *http.Request) {
	alerts := s.controller.Alerts()
	if alerts == nil {
		alerts = []contracts.Alert{}
	}
	s.writeJSON(w, http.StatusOK, alerts)
}

// timelineBucket is the wire shape of one minute of alert activity.
type timelineBucket struct {
	Time   time.Time `json:"time"`
	High   int       `json:"HIGH"`
	Medium int       `json:"MEDIUM"`
	Low    int       `json:"LOW"`
	Total  int       `json:"total"`
}

func (s *Server) handleTimeline(w http.ResponseWriter, _ *http.Request) {
	alerts := s.controller.Alerts()
	buckets := analytics.Timeline(alerts, time.Now().UTC())

	out := make([]timelineBucket, len(buckets))
	for i, b := range buckets {
		out[i] = timelineBucket{
			Time:   b.Minute,
			High:   b.Counts[string(contracts.SeverityHigh)],
			Medium: b.Counts[string(contracts.SeverityMedium)],
			Low:    b.Counts[string(contracts.SeverityLow)],
			Total:  b.Count,
		}
	}

	protoSet := make(map[string]struct{})
	srcSet := make(map[string]struct{})
	for _, a := range alerts {
		if a.Protocol != "" {
			protoSet[a.Protocol] = struct{}{}
		}
		srcSet[a.SourceIP] = struct{}{}
	}
	protocols := make([]string, 0, len(protoSet))
	for p := range protoSet {
		protocols = append(protocols, p)
	}
	sources := make([]string, 0, len(srcSet))
	for src := range srcSet {
		sources = append(sources, src)
	}
	sort.Strings(protocols)
	sort.Strings(sources)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"buckets": out,
		"filters": map[string]any{"protocols": protocols, "sources": sources},
	})
}

func (s *Server) handleProfiles(w http.ResponseWriter, _ *http.Request) {
	profiles := analytics.Profiles(s.controller.Alerts())
	if profiles == nil {
		profiles = []analytics.Profile{}
	}
	s.writeJSON(w, http.StatusOK, profiles)
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := analytics.Sessions(s.controller.Alerts())
	if sessions == nil {
		sessions = []analytics.Session{}
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleDLP(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, analytics.DLP(s.controller.Alerts()))
}

func (s *Server) handleKillChain(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, analytics.KillChainReport(s.controller.Alerts()))
}

func (s *Server) handleCompliance(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, analytics.Compliance(s.controller.Alerts(), s.controller.Policies().List()))
}

func (s *Server) handleBriefing(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, analytics.BriefingReport(s.controller.Alerts(), time.Now().UTC()))
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	nodes, edges, err := s.snapshot(r)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "failed to read graph", err.Error())
		return
	}
	report := analytics.FullReport(s.controller.Alerts(), nodes, edges,
		s.controller.Policies().List(), time.Now().UTC())
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListRules(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.controller.Policies().List())
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule detect.PolicyRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "malformed rule body", err.Error())
		return
	}
	rule.ID = "" // ids are assigned by the store
	stored, err := s.controller.Policies().Create(rule)
	switch {
	case errors.Is(err, detect.ErrRuleConflict):
		s.writeError(w, r, http.StatusConflict, "rule with same name and service exists", "")
	case errors.Is(err, detect.ErrRuleInvalid):
		s.writeError(w, r, http.StatusBadRequest, "invalid rule", err.Error())
	case err != nil:
		s.writeError(w, r, http.StatusInternalServerError, "failed to store rule", err.Error())
	default:
		s.logger.Infow("policy rule created", "id", stored.ID, "name", stored.Name)
		s.writeJSON(w, http.StatusCreated, stored)
	}
}

func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rule, err := s.controller.Policies().Toggle(id)
	if errors.Is(err, detect.ErrRuleNotFound) {
		s.writeError(w, r, http.StatusNotFound, "rule not found", id)
		return
	}
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "failed to toggle rule", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.controller.Policies().Delete(id)
	if errors.Is(err, detect.ErrRuleNotFound) {
		s.writeError(w, r, http.StatusNotFound, "rule not found", id)
		return
	}
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "failed to delete rule", err.Error())
		return
	}
	s.logger.Infow("policy rule deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBlocked(w http.ResponseWriter, _ *http.Request) {
	entries := s.controller.Blocklist().List()
	sort.Slice(entries, func(i, j int) bool { return entries[i].BlockedAt.After(entries[j].BlockedAt) })
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	err := s.controller.Blocklist().Unblock(ip)
	switch {
	case errors.Is(err, defense.ErrBadAddress):
		s.writeError(w, r, http.StatusBadRequest, "invalid ip address", ip)
	case errors.Is(err, defense.ErrNotBlocked):
		s.writeError(w, r, http.StatusNotFound, "address is not blocked", ip)
	case err != nil:
		s.writeError(w, r, http.StatusInternalServerError, "failed to unblock", err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
