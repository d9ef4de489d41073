package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/EchoPBX/energy-bridge/internal/bridge"
	"github.com/EchoPBX/energy-bridge/internal/config"
	"github.com/EchoPBX/energy-bridge/internal/correlate"
	"github.com/EchoPBX/energy-bridge/internal/events"
	"github.com/EchoPBX/energy-bridge/internal/jwt"
	"github.com/EchoPBX/energy-bridge/internal/panel"
	"github.com/EchoPBX/energy-bridge/pkg/sdk"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	writeWait  = 10 * time.Second
)

type Deps struct {
	Bridge *bridge.Bridge
	Panel  *panel.Panel
	Caller *correlate.Caller
	Bus    *events.Bus
}

type Server struct {
	log *zap.Logger
	d   Deps
	r   *chi.Mux
	up  websocket.Upgrader

	mu  sync.RWMutex
	cfg *config.Config
	jwt *jwt.Validator
}

func New(cfg *config.Config, log *zap.Logger, d Deps) (*Server, error) {
	v, err := jwt.NewValidator(cfg.Auth.JWTPublicKeys, cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		return nil, err
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))
	s := &Server{
		cfg: cfg,
		log: log,
		d:   d,
		r:   r,
		jwt: v,
		up:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	s.routes()
	return s, nil
}

func (s *Server) Router() http.Handler { return s.r }

// Reload swaps the config and the token validator. A bad key set keeps the old validator.
func (s *Server) Reload(cfg *config.Config) {
	v, err := jwt.NewValidator(cfg.Auth.JWTPublicKeys, cfg.Auth.Issuer, cfg.Auth.Audience)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if err != nil {
		s.log.Warn("keeping previous jwt keys", zap.Error(err))
		return
	}
	s.jwt = v
}

func (s *Server) validator() *jwt.Validator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jwt
}

func (s *Server) requestTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Panel.RequestTimeout
}

func (s *Server) routes() {
	s.r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.r.Route("/v1", func(r chi.Router) {
		r.Get("/events", s.events)

		r.Group(func(r chi.Router) {
			r.Use(s.auth)
			r.Get("/info", s.info)
			r.Get("/panel", s.panel)
			r.Post("/analysis", s.requestAnalysis)
			r.Post("/hotspots/{id}/fix", s.fixHotspot)
			r.Post("/open", s.openFile)
			r.Put("/mode", s.setMode)
		})
	})
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        "energy-bridge",
		"time":        time.Now().UTC(),
		"hostPresent": s.d.Bridge.HostPresent(),
	})
}

func (s *Server) panel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.d.Panel.Snapshot())
}

func (s *Server) requestAnalysis(w http.ResponseWriter, r *http.Request) {
	var req sdk.AnalysisRequest
	if !decode(w, r, &req) {
		return
	}
	if !wantsWait(r) {
		if err := s.d.Panel.RequestAnalysis(r.Context(), req.Mode); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "requested"})
		return
	}

	if req.Mode == "" {
		req.Mode = s.d.Panel.Snapshot().Mode
	}
	if _, err := sdk.ParseAnalysisMode(string(req.Mode)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout())
	defer cancel()
	res, err := correlate.Call(ctx, s.d.Caller, sdk.RequestAnalysis, sdk.AnalysisResultsTopic, req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) fixHotspot(w http.ResponseWriter, r *http.Request) {
	if err := s.d.Panel.FixHotspot(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "requested"})
}

func (s *Server) openFile(w http.ResponseWriter, r *http.Request) {
	var req sdk.OpenFileRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.d.Panel.OpenFile(r.Context(), req.FileName, req.LineNumber); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "requested"})
}

func (s *Server) setMode(w http.ResponseWriter, r *http.Request) {
	var req sdk.ModeChange
	if !decode(w, r, &req) {
		return
	}
	if err := s.d.Panel.SetMode(r.Context(), req.Mode); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// events streams every inbound host envelope to the websocket client.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	if v := s.validator(); v.Enabled() {
		if _, err := v.Verify(r.URL.Query().Get("access_token")); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	conn, err := s.up.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	ch := s.d.Bus.Subscribe()
	go func() {
		ping := time.NewTicker(pingPeriod)
		defer func() {
			ping.Stop()
			s.d.Bus.Unsubscribe(ch)
			_ = conn.Close()
		}()
		for {
			select {
			case env, ok := <-ch:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(env); err != nil {
					s.log.Debug("ws write error", zap.Error(err))
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	// read side only watches for the client going away
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.d.Bus.Unsubscribe(ch)
			return
		}
	}
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := s.validator()
		if !v.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		tok := r.Header.Get("Authorization")
		if tok == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		tok = strings.TrimPrefix(tok, "Bearer ")
		if _, err := v.Verify(tok); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, panel.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, correlate.ErrNoHost):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "host did not answer in time")
	default:
		s.log.Warn("host request failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func wantsWait(r *http.Request) bool {
	switch r.URL.Query().Get("wait") {
	case "1", "true", "yes":
		return true
	}
	return false
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
