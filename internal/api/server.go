// Package api implements the webhook and dashboard HTTP API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/berenice-ai/berenice/internal/archive"
	"github.com/berenice-ai/berenice/internal/convo"
	"github.com/berenice-ai/berenice/internal/graphiti"
	"github.com/berenice-ai/berenice/internal/hub"
	"github.com/berenice-ai/berenice/internal/pipeline"
	"github.com/berenice-ai/berenice/internal/prompts"
	"github.com/berenice-ai/berenice/internal/zapi"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// FactStore is the slice of the knowledge-graph client the dashboard
// needs: conversation history plus a liveness probe.
type FactStore interface {
	PatientContext(ctx context.Context, phone string, limit int) ([]graphiti.Fact, error)
	Healthy(ctx context.Context) bool
}

// Archive is the local message log the dashboard falls back to when
// the knowledge graph cannot serve history. Optional; nil disables
// the archive routes and fallback.
type Archive interface {
	History(ctx context.Context, phone string, limit int) ([]archive.Entry, error)
	Purge(ctx context.Context, phone string) (int64, error)
}

// Server is the HTTP API server.
type Server struct {
	address   string
	port      int
	pipeline  *pipeline.Processor
	table     *convo.Table
	hub       *hub.Hub
	facts     FactStore
	archive   Archive
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// NewServer creates the API server. arch may be nil.
func NewServer(address string, port int, proc *pipeline.Processor, table *convo.Table, h *hub.Hub, facts FactStore, arch Archive, logger *slog.Logger) *Server {
	return &Server{
		address:   address,
		port:      port,
		pipeline:  proc,
		table:     table,
		hub:       h,
		facts:     facts,
		archive:   arch,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler builds the route table. Split out from Start so tests can
// exercise it with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Provider webhooks
	mux.HandleFunc("POST /webhook/message", s.handleWebhookMessage)
	mux.HandleFunc("POST /webhook/status", s.handleWebhookStatus)

	// Health
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	// Dashboard
	mux.HandleFunc("GET /dashboard/conversations", s.handleConversationList)
	mux.HandleFunc("GET /dashboard/conversation/{phone}", s.handleConversationHistory)
	mux.HandleFunc("DELETE /dashboard/conversation/{phone}", s.handleConversationClear)
	mux.HandleFunc("GET /dashboard/archive/{phone}", s.handleArchiveHistory)
	mux.HandleFunc("GET /dashboard/stats", s.handleStats)
	mux.HandleFunc("POST /dashboard/send-message", s.handleSendMessage)
	mux.HandleFunc("POST /dashboard/quick-message", s.handleQuickMessage)
	mux.HandleFunc("GET /dashboard/ws", s.hub.ServeWS)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket connections stay open
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"success": false,
		"error":   message,
	}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":   "Berenice",
		"status": "ok",
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status":               "healthy",
		"service":              "berenice",
		"active_conversations": s.table.Len(),
		"store_connected":      s.facts.Healthy(ctx),
	}, s.logger)
}

// handleWebhookMessage acknowledges the provider immediately; the
// reply pipeline runs after this handler returns.
func (s *Server) handleWebhookMessage(w http.ResponseWriter, r *http.Request) {
	var msg zapi.WebhookMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		s.logger.Warn("webhook decode failed", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		writeJSON(w, pipeline.Ack{Status: "error", Reason: "invalid_payload"}, s.logger)
		return
	}

	ack := s.pipeline.HandleInbound(&msg)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ack, s.logger)
}

// handleWebhookStatus receives delivery status callbacks. They are
// logged and acknowledged, nothing more.
func (s *Server) handleWebhookStatus(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		MessageID string `json:"messageId"`
		Status    string `json:"status"`
		Phone     string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err == nil {
		s.logger.Debug("message status update",
			"message_id", payload.MessageID,
			"status", payload.Status,
			"phone", payload.Phone,
		)
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "received"}, s.logger)
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	states := s.table.SnapshotAll()

	type summary struct {
		Phone         string    `json:"phone"`
		PatientName   string    `json:"patient_name"`
		StartedAt     time.Time `json:"started_at"`
		MessagesCount int       `json:"messages_count"`
	}

	summaries := make([]summary, len(states))
	for i, st := range states {
		summaries[i] = summary{
			Phone:         st.Phone,
			PatientName:   st.PatientName,
			StartedAt:     st.StartedAt,
			MessagesCount: st.Messages,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"success":       true,
		"conversations": summaries,
		"count":         len(summaries),
	}, s.logger)
}

func (s *Server) handleConversationHistory(w http.ResponseWriter, r *http.Request) {
	phone := r.PathValue("phone")
	limit := parseIntParam(r, "limit", 20)

	facts, err := s.facts.PatientContext(r.Context(), phone, limit)
	if err != nil {
		s.logger.Error("history lookup failed", "phone", phone, "error", err)
		if s.archive != nil {
			s.writeArchiveHistory(w, r, phone, limit)
			return
		}
		s.errorResponse(w, http.StatusBadGateway, "history unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"success": true,
		"phone":   phone,
		"history": facts,
		"count":   len(facts),
	}, s.logger)
}

// handleArchiveHistory serves the raw local message log for a phone.
func (s *Server) handleArchiveHistory(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.errorResponse(w, http.StatusNotFound, "archive not configured")
		return
	}
	phone := r.PathValue("phone")
	limit := parseIntParam(r, "limit", 50)
	s.writeArchiveHistory(w, r, phone, limit)
}

func (s *Server) writeArchiveHistory(w http.ResponseWriter, r *http.Request, phone string, limit int) {
	entries, err := s.archive.History(r.Context(), phone, limit)
	if err != nil {
		s.logger.Error("archive lookup failed", "phone", phone, "error", err)
		s.errorResponse(w, http.StatusBadGateway, "history unavailable")
		return
	}
	if entries == nil {
		entries = []archive.Entry{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"success": true,
		"phone":   phone,
		"history": entries,
		"count":   len(entries),
		"source":  "archive",
	}, s.logger)
}

func (s *Server) handleConversationClear(w http.ResponseWriter, r *http.Request) {
	phone := r.PathValue("phone")

	if !s.pipeline.ClearConversation(phone) {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}

	var purged int64
	if s.archive != nil {
		n, err := s.archive.Purge(r.Context(), phone)
		if err != nil {
			s.logger.Warn("archive purge failed", "phone", phone, "error", err)
		} else {
			purged = n
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"success": true,
		"phone":   phone,
		"purged":  purged,
	}, s.logger)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	storeStatus := "offline"
	if s.facts.Healthy(ctx) {
		storeStatus = "online"
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"success":               true,
		"active_conversations":  s.table.Len(),
		"total_messages":        s.table.TotalMessages(),
		"dashboard_connections": s.hub.Count(),
		"graphiti_status":       storeStatus,
		"timestamp":             time.Now().UTC().Format(time.RFC3339),
	}, s.logger)
}

type sendMessageRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Phone == "" || req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "phone and message are required")
		return
	}

	if err := s.pipeline.SendManual(r.Context(), req.Phone, req.Message); err != nil {
		s.logger.Error("manual send failed", "phone", req.Phone, "error", err)
		s.errorResponse(w, http.StatusBadGateway, "send failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"success": true,
		"phone":   req.Phone,
	}, s.logger)
}

type quickMessageRequest struct {
	Phone    string            `json:"phone"`
	Template string            `json:"template"`
	Args     map[string]string `json:"args"`
}

// handleQuickMessage sends a canned template to a patient. The key is
// resolved against the quick-response set first, then the follow-up
// set.
func (s *Server) handleQuickMessage(w http.ResponseWriter, r *http.Request) {
	var req quickMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Phone == "" || req.Template == "" {
		s.errorResponse(w, http.StatusBadRequest, "phone and template are required")
		return
	}

	text := prompts.QuickResponse(req.Template, req.Args)
	if text == "" {
		text = prompts.FollowUp(req.Template, req.Args)
	}
	if text == "" {
		s.errorResponse(w, http.StatusBadRequest, "unknown template")
		return
	}

	if err := s.pipeline.SendManual(r.Context(), req.Phone, text); err != nil {
		s.logger.Error("quick message send failed", "phone", req.Phone, "error", err)
		s.errorResponse(w, http.StatusBadGateway, "send failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"success": true,
		"phone":   req.Phone,
		"message": text,
	}, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
