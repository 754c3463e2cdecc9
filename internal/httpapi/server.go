package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/jmertens/parley/internal/channel"
	"github.com/jmertens/parley/internal/config"
	"github.com/jmertens/parley/internal/observability"
	"github.com/jmertens/parley/internal/probe"
	"github.com/jmertens/parley/internal/protocol"
	"github.com/jmertens/parley/internal/quota"
	"github.com/jmertens/parley/internal/session"
)

// Orchestrator drives a session over one websocket connection.
type Orchestrator interface {
	Run(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error
}

// ConnectivityProber picks a connection mode before a session starts.
type ConnectivityProber interface {
	Probe(ctx context.Context, agentID string) probe.Result
	VerifyRelay(ctx context.Context, agentID string) error
}

type Server struct {
	cfg          config.Config
	registry     *session.Registry
	orchestrator Orchestrator
	prober       ConnectivityProber
	quota        quota.Gate
	metrics      *observability.Metrics
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, registry *session.Registry, orchestrator Orchestrator, prober ConnectivityProber, gate quota.Gate, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:          cfg,
		registry:     registry,
		orchestrator: orchestrator,
		prober:       prober,
		quota:        gate,
		metrics:      metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections unless explicitly opened
				// up. A foreign page must not be able to drive a session that
				// holds the user's microphone.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Get("/v1/sessions/ws", s.handleSessionWS)
	r.Post("/v1/connectivity/probe", s.handleProbe)
	r.Post("/v1/connectivity/switch", s.handleSwitch)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.registry.ActiveCount(),
	})
}

type createSessionRequest struct {
	UserID     string            `json:"user_id"`
	AgentID    string            `json:"agent_id"`
	ScenarioID string            `json:"scenario_id"`
	Variables  map[string]string `json:"variables"`
	Mode       string            `json:"mode"`
}

type createSessionResponse struct {
	SessionID       string         `json:"session_id"`
	Status          session.Status `json:"status"`
	Mode            channel.Mode   `json:"mode"`
	AgentID         string         `json:"agent_id"`
	ScenarioID      string         `json:"scenario_id"`
	InactivityTTLMS int64          `json:"inactivity_ttl_ms"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}
	if strings.TrimSpace(req.AgentID) == "" {
		req.AgentID = s.cfg.DefaultAgentID
	}
	if strings.TrimSpace(req.AgentID) == "" {
		respondError(w, http.StatusBadRequest, "missing_agent_id", "agent_id is required")
		return
	}
	if strings.TrimSpace(req.ScenarioID) == "" {
		respondError(w, http.StatusBadRequest, "missing_scenario_id", "scenario_id is required")
		return
	}

	// The gate only denies on an explicit zero. When it is unreachable the
	// session proceeds; practice time beats strict accounting.
	if s.quota != nil {
		remaining, err := s.quota.RemainingMinutes(r.Context(), req.UserID)
		if err != nil {
			log.Printf("quota check for %s: %v", req.UserID, err)
		} else if remaining == 0 {
			respondError(w, http.StatusPaymentRequired, "quota_exhausted", "no practice minutes left this period")
			return
		}
	}

	var mode channel.Mode
	if strings.TrimSpace(req.Mode) == "" {
		mode = s.prober.Probe(r.Context(), req.AgentID).Mode
	} else {
		parsed, err := channel.ParseMode(req.Mode)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_mode", err.Error())
			return
		}
		mode = parsed
	}

	sess := s.registry.Create(req.UserID, req.AgentID, channel.ScenarioContext{
		ScenarioID: req.ScenarioID,
		Variables:  req.Variables,
	}, mode)
	s.metrics.ObserveSessionEvent("created")
	s.metrics.SetActiveSessions(s.registry.ActiveCount())

	respondJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:       sess.ID,
		Status:          sess.Status,
		Mode:            sess.Mode,
		AgentID:         sess.AgentID,
		ScenarioID:      sess.Scenario.ScenarioID,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	sess, err := s.registry.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

type probeRequest struct {
	AgentID string `json:"agent_id"`
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	var req probeRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.AgentID) == "" {
		req.AgentID = s.cfg.DefaultAgentID
	}
	respondJSON(w, http.StatusOK, s.prober.Probe(r.Context(), req.AgentID))
}

type switchRequest struct {
	AgentID string `json:"agent_id"`
	Mode    string `json:"mode"`
}

// handleSwitch validates a manual mode change. A switch to relay is only
// honored after the relay answers a verification probe; on failure the
// client keeps its current mode.
func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	mode, err := channel.ParseMode(req.Mode)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_mode", err.Error())
		return
	}
	if strings.TrimSpace(req.AgentID) == "" {
		req.AgentID = s.cfg.DefaultAgentID
	}

	if mode == channel.ModeRelay {
		if err := s.prober.VerifyRelay(r.Context(), req.AgentID); err != nil {
			respondError(w, http.StatusConflict, "relay_unverified", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"mode": mode, "verified": true})
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}

	sess, err := s.registry.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if sess.Status != session.StatusIdle {
		respondError(w, http.StatusConflict, "session_already_started", "session has already been driven")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.ObserveSessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		if err := s.orchestrator.Run(ctx, sess, inbound, outbound); err != nil {
			log.Printf("session %s: %v", sessionID, err)
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.ObserveWSWriteError("write_json")
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.ObserveWSMessage("outbound", string(t))
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
				s.metrics.ObserveOutboundMessage(string(protocol.TypeErrorEvent), "queued")
			default:
				// Keep websocket writes single-threaded; drop if outbound queue is saturated.
				s.metrics.ObserveOutboundMessage(string(protocol.TypeErrorEvent), "drop_full")
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.ObserveSessionEvent("ws_disconnected")
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientAudioChunk:
		return m.Type, true
	case protocol.ClientText:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.SessionState:
		return m.Type, true
	case protocol.TranscriptEntry:
		return m.Type, true
	case protocol.CoachingHint:
		return m.Type, true
	case protocol.ClockTick:
		return m.Type, true
	case protocol.AnalysisProgress:
		return m.Type, true
	case protocol.SessionComplete:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
