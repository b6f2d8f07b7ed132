// Package server exposes a Manager over HTTP. Every JSON response is a
// core.Result; spectators follow live dialogues and replays over a websocket
// at /events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/hupe1980/colloquy"
	"github.com/hupe1980/colloquy/config"
	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/logging"
	"github.com/hupe1980/colloquy/replay"
)

const maxBodyBytes = 1 << 20

// Options configures a Server.
type Options struct {
	// AllowedOrigins lists the origins accepted for websocket upgrades. Empty
	// accepts same-host requests only.
	AllowedOrigins []string
	// EventBuffer is the per-connection event buffer; a connection whose
	// buffer overflows is closed.
	EventBuffer  int
	WriteTimeout time.Duration
	Logger       logging.Logger
}

// Server serves the dialogue API.
type Server struct {
	m      *colloquy.Manager
	opts   Options
	logger logging.Logger
	mux    *http.ServeMux
}

// New creates a Server over m.
func New(m *colloquy.Manager, optFns ...func(o *Options)) *Server {
	opts := Options{
		EventBuffer:  256,
		WriteTimeout: 10 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	s := &Server{
		m:      m,
		opts:   opts,
		logger: logging.OrNoop(opts.Logger),
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /dialogues", s.handleCreateDialogue)
	s.mux.HandleFunc("GET /dialogues", s.handleListDialogues)
	s.mux.HandleFunc("GET /dialogues/{id}", s.handleDialogueState)
	s.mux.HandleFunc("DELETE /dialogues/{id}", s.handleRemoveDialogue)
	s.mux.HandleFunc("POST /dialogues/{id}/{action}", s.handleDialogueAction)
	s.mux.HandleFunc("GET /dialogues/{id}/exchanges", s.handleExchanges)
	s.mux.HandleFunc("GET /dialogues/{id}/interjections", s.handleListInterjections)
	s.mux.HandleFunc("POST /dialogues/{id}/interjections", s.handleAddInterjection)
	s.mux.HandleFunc("PUT /dialogues/{id}/agents/{agent}", s.handleSetAgentActive)
	s.mux.HandleFunc("GET /dialogues/{id}/export", s.handleExport)

	s.mux.HandleFunc("GET /sessions", s.handleListSessions)
	s.mux.HandleFunc("POST /sessions", s.handleImportSession)
	s.mux.HandleFunc("GET /sessions/{id}", s.handleLoadSession)
	s.mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)

	s.mux.HandleFunc("POST /replays", s.handleCreateReplay)
	s.mux.HandleFunc("GET /replays", s.handleListReplays)
	s.mux.HandleFunc("GET /replays/{id}", s.handleReplayStatus)
	s.mux.HandleFunc("DELETE /replays/{id}", s.handleRemoveReplay)
	s.mux.HandleFunc("POST /replays/{id}/{action}", s.handleReplayAction)

	s.mux.HandleFunc("GET /events", s.handleEvents)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	chainMiddlewares(s.mux, withRecover(s.logger), withLogging(s.logger)).ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func statusFor(res core.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Error.Code {
	case core.CodeConfiguration:
		return http.StatusBadRequest
	case core.CodeNotFound:
		return http.StatusNotFound
	case core.CodeConflict:
		return http.StatusConflict
	case core.CodeReplay:
		return http.StatusUnprocessableEntity
	case core.CodeAgentCall:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeResult(w http.ResponseWriter, res core.Result) {
	writeJSON(w, statusFor(res), res)
}

func writeError(w http.ResponseWriter, err error) {
	writeResult(w, core.Fail(err))
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, core.NewConfigurationError("body", "read request: %v", err)
	}
	return data, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	data, err := readBody(w, r)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return core.NewConfigurationError("body", "invalid json: %v", err)
	}
	return nil
}

// handleCreateDialogue accepts a dialogue definition as JSON or YAML.
func (s *Server) handleCreateDialogue(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	cfg, err := config.Parse(data)
	if err != nil {
		writeError(w, err)
		return
	}
	res := s.m.CreateDialogue(r.Context(), *cfg)
	if res.Success {
		writeJSON(w, http.StatusCreated, res)
		return
	}
	writeResult(w, res)
}

func (s *Server) handleListDialogues(w http.ResponseWriter, _ *http.Request) {
	writeResult(w, s.m.ListDialogues())
}

func (s *Server) handleDialogueState(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.m.State(r.PathValue("id")))
}

func (s *Server) handleRemoveDialogue(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.m.RemoveDialogue(r.Context(), r.PathValue("id")))
}

func (s *Server) handleDialogueAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	// Background loops outlive the request.
	ctx := context.WithoutCancel(r.Context())

	var res core.Result
	switch action := r.PathValue("action"); action {
	case "start":
		res = s.m.Start(ctx, id)
	case "step":
		res = s.m.Step(r.Context(), id)
	case "pause":
		res = s.m.Pause(ctx, id)
	case "resume":
		res = s.m.Resume(ctx, id)
	case "stop":
		res = s.m.Stop(ctx, id)
	case "save":
		res = s.m.Save(r.Context(), id)
	default:
		writeError(w, fmt.Errorf("dialogue action %q: %w", action, core.ErrNotFound))
		return
	}
	writeResult(w, res)
}

func (s *Server) handleExchanges(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.m.Exchanges(r.PathValue("id")))
}

func (s *Server) handleListInterjections(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.m.Interjections(r.PathValue("id")))
}

func (s *Server) handleAddInterjection(w http.ResponseWriter, r *http.Request) {
	var in core.Interjection
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	res := s.m.AddInterjection(r.Context(), r.PathValue("id"), in)
	if res.Success {
		writeJSON(w, http.StatusCreated, res)
		return
	}
	writeResult(w, res)
}

type activeRequest struct {
	Active *bool `json:"active"`
}

func (s *Server) handleSetAgentActive(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Active == nil {
		writeError(w, core.NewConfigurationError("active", "is required"))
		return
	}
	writeResult(w, s.m.SetAgentActive(r.Context(), r.PathValue("id"), r.PathValue("agent"), *req.Active))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.m.Export(r.Context(), r.PathValue("id")))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.m.Sessions(r.Context()))
}

func (s *Server) handleImportSession(w http.ResponseWriter, r *http.Request) {
	var snap core.Snapshot
	if err := decodeJSON(w, r, &snap); err != nil {
		writeError(w, &core.ReplayError{Message: "corrupt snapshot", Err: err})
		return
	}
	res := s.m.Import(r.Context(), &snap)
	if res.Success {
		writeJSON(w, http.StatusCreated, res)
		return
	}
	writeResult(w, res)
}

func (s *Server) handleLoadSession(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.m.LoadSession(r.Context(), r.PathValue("id")))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.m.DeleteSession(r.Context(), r.PathValue("id")))
}

type createReplayRequest struct {
	SessionID string        `json:"session_id"`
	Config    replay.Config `json:"config"`
}

// handleCreateReplay decodes the request onto replay.DefaultConfig, so a
// partial config only overrides the fields it names.
func (s *Server) handleCreateReplay(w http.ResponseWriter, r *http.Request) {
	req := createReplayRequest{Config: replay.DefaultConfig()}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.SessionID == "" {
		writeError(w, core.NewConfigurationError("session_id", "is required"))
		return
	}
	res := s.m.CreateReplay(r.Context(), req.SessionID, req.Config)
	if res.Success {
		writeJSON(w, http.StatusCreated, res)
		return
	}
	writeResult(w, res)
}

func (s *Server) handleListReplays(w http.ResponseWriter, _ *http.Request) {
	writeResult(w, s.m.Replays())
}

func (s *Server) handleReplayStatus(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.m.ReplayStatus(r.PathValue("id")))
}

func (s *Server) handleRemoveReplay(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.m.RemoveReplay(r.Context(), r.PathValue("id")))
}

type replayControlRequest struct {
	Index *int         `json:"index,omitempty"`
	Speed replay.Speed `json:"speed,omitempty"`
}

func (s *Server) handleReplayAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := context.WithoutCancel(r.Context())

	var res core.Result
	switch action := r.PathValue("action"); action {
	case "play", "resume":
		res = s.m.PlayReplay(ctx, id)
	case "pause":
		res = s.m.PauseReplay(ctx, id)
	case "stop":
		res = s.m.StopReplay(ctx, id)
	case "jump", "speed":
		var req replayControlRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		if action == "jump" {
			if req.Index == nil {
				writeError(w, core.NewConfigurationError("index", "is required"))
				return
			}
			res = s.m.JumpReplay(id, *req.Index)
		} else {
			res = s.m.SetReplaySpeed(id, req.Speed)
		}
	default:
		writeError(w, fmt.Errorf("replay action %q: %w", action, core.ErrNotFound))
		return
	}
	writeResult(w, res)
}
