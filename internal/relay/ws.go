package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/net/websocket"

	"hundred_prisoners/internal/domain"
)

// wsAction is a client frame: {"action":"start"} or {"action":"stop"}.
type wsAction struct {
	Action string `json:"action"`
}

type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func (p *wsPeer) send(ev domain.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(ev)
}

func (h *handler) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	websocket.Handler(h.serveWS).ServeHTTP(w, r)
}

// serveWS gives every connection its own session. The first frame names the
// session; after that each session event is one frame. Closing the
// connection stops the session.
func (h *handler) serveWS(conn *websocket.Conn) {
	info := h.svc.CreateSession()
	sub, err := h.svc.Subscribe(info.ID)
	if err != nil {
		h.logger.Error("websocket subscribe failed", "session", info.ID, "err", err)
		_ = conn.Close()
		return
	}
	peer := &wsPeer{encoder: json.NewEncoder(conn)}
	if err := peer.send(domain.SessionEvent{Kind: domain.EventKindSession, Session: info.ID}); err != nil {
		_ = h.svc.StopSession(info.ID)
		_ = conn.Close()
		return
	}
	h.logger.Info("websocket connected", "session", info.ID, "remote", conn.Request().RemoteAddr)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-sub.Done:
				return
			case ev := <-sub.Events:
				if err := peer.send(ev); err != nil {
					h.logger.Warn("websocket write failed", "session", info.ID, "err", err)
					return
				}
			}
		}
	}()
	defer func() {
		_ = h.svc.StopSession(info.ID)
		_ = conn.Close()
		<-writerDone
		h.logger.Info("websocket closed", "session", info.ID)
	}()

	decoder := json.NewDecoder(conn)
	for {
		var msg wsAction
		if err := decoder.Decode(&msg); err != nil {
			if !errors.Is(err, io.EOF) {
				h.logger.Warn("websocket read failed", "session", info.ID, "err", err)
			}
			return
		}
		switch msg.Action {
		case "start":
			if _, err := h.svc.StartSession(h.baseCtx, info.ID); err != nil {
				_ = peer.send(domain.SessionEvent{Kind: domain.EventKindError, Session: info.ID, Error: err.Error()})
			}
		case "stop":
			if err := h.svc.StopTrial(info.ID); err != nil {
				_ = peer.send(domain.SessionEvent{Kind: domain.EventKindError, Session: info.ID, Error: err.Error()})
			}
		default:
			_ = peer.send(domain.SessionEvent{Kind: domain.EventKindError, Session: info.ID, Error: fmt.Sprintf("unknown action: %q", msg.Action)})
		}
	}
}
