package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hundred_prisoners/internal/domain"
)

type handler struct {
	svc     *Service
	baseCtx context.Context
	logger  *slog.Logger
}

// NewHandler exposes the relay over HTTP and WebSocket. Trials started
// through it live as long as baseCtx, not as long as the request that
// started them.
func NewHandler(baseCtx context.Context, svc *Service, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{svc: svc, baseCtx: baseCtx, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/ws", h.handleWS)
	mux.HandleFunc("/sessions", h.handleSessions)
	mux.HandleFunc("/sessions/", h.handleSessionByID)
	mux.HandleFunc("/runs", h.handleRuns)
	mux.HandleFunc("/runs/", h.handleRunByID)
	return loggingMiddleware(logger, mux)
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusCreated, h.svc.CreateSession())
}

func (h *handler) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/sessions/")
	parts := strings.Split(trimmed, "/")
	sessionID := parts[0]
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("session id is required"))
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		info, err := h.svc.Session(sessionID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, info)
		return
	}

	action := parts[1]
	switch action {
	case "start":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.start(w, sessionID)
	case "stop":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.stop(w, sessionID)
	case "actions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Action string `json:"action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
			return
		}
		switch req.Action {
		case "start":
			h.start(w, sessionID)
		case "stop":
			h.stop(w, sessionID)
		default:
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown action: %q", req.Action))
		}
	case "replay":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			RunID string `json:"run_id"`
			Trial int    `json:"trial"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
			return
		}
		if strings.TrimSpace(req.RunID) == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("run_id is required"))
			return
		}
		if err := h.svc.ReplayRun(h.baseCtx, sessionID, req.RunID, req.Trial); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "replaying", "session_id": sessionID, "run_id": req.RunID})
	case "events":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.stream(w, r, sessionID)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown action: %s", action))
	}
}

func (h *handler) start(w http.ResponseWriter, sessionID string) {
	runID, err := h.svc.StartSession(h.baseCtx, sessionID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "started", "session_id": sessionID, "run_id": runID})
}

func (h *handler) stop(w http.ResponseWriter, sessionID string) {
	if err := h.svc.StopSession(sessionID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "stopped", "session_id": sessionID})
}

// stream writes one JSON object per line until the trial ends, the session
// is stopped or the client goes away.
func (h *handler) stream(w http.ResponseWriter, r *http.Request, sessionID string) {
	sub, err := h.svc.Subscribe(sessionID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	defer h.svc.Unsubscribe(sub)

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done:
			return
		case ev := <-sub.Events:
			if err := enc.Encode(ev); err != nil {
				h.logger.Warn("stream write failed", "session", sessionID, "err", err)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			switch ev.Kind {
			case domain.EventKindResult, domain.EventKindStopped, domain.EventKindError:
				return
			}
		}
	}
}

func (h *handler) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	runs, err := h.svc.ListRuns(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *handler) handleRunByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	trimmed := strings.TrimPrefix(r.URL.Path, "/runs/")
	parts := strings.Split(trimmed, "/")
	runID := parts[0]
	if runID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("run id is required"))
		return
	}

	if len(parts) == 1 {
		run, err := h.svc.GetRun(r.Context(), runID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, run)
		return
	}

	if parts[1] != "steps" {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown action: %s", parts[1]))
		return
	}
	steps, err := h.svc.ListSteps(r.Context(), runID, queryInt(r, "trial", 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, steps)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidConfiguration):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}

// queryInt returns def for a missing or malformed value. Zero is accepted so
// trial 0 can be addressed.
func queryInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
