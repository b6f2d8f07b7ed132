package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/spectator"
)

// handleEvents upgrades to a websocket and streams events as JSON. The
// optional query parameters "dialogue" (dialogue or replayed session id) and
// "type" (comma separated event types) narrow the stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	types, err := parseTypes(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, err)
		return
	}
	dialogueID := r.URL.Query().Get("dialogue")

	obs := spectator.NewChannelObserver(s.opts.EventBuffer)
	res := s.m.Subscribe(obs, types...)
	if !res.Success {
		writeResult(w, res)
		return
	}
	subID, _ := res.Data.(string)
	defer s.m.Unsubscribe(subID)

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r, s.opts.AllowedOrigins)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e := <-obs.Events():
			if dialogueID != "" && e.DialogueID != dialogueID {
				continue
			}
			if err := conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-obs.Dropped():
			s.logger.Warn("spectator fell behind, closing stream", "subscription_id", subID, "dropped", obs.DropCount())
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "event buffer overflow"),
				time.Now().Add(time.Second))
			return
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func parseTypes(raw string) ([]core.EventType, error) {
	if raw == "" {
		return nil, nil
	}
	known := make(map[core.EventType]struct{}, len(core.AllEventTypes))
	for _, t := range core.AllEventTypes {
		known[t] = struct{}{}
	}
	var out []core.EventType
	for _, part := range strings.Split(raw, ",") {
		t := core.EventType(strings.TrimSpace(part))
		if t == "" {
			continue
		}
		if _, ok := known[t]; !ok {
			return nil, core.NewConfigurationError("type", "unknown event type %q", t)
		}
		out = append(out, t)
	}
	return out, nil
}

func isOriginAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
