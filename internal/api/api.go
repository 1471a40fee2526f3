// Package api HTTP JSON интерфейс оператора и поток состояния по WebSocket.
// Обработчики только переводят единицы и вызывают контекст управления.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shiwa/balancer/internal/control"
	"github.com/shiwa/balancer/internal/fixed"
	"github.com/shiwa/balancer/internal/logger"
)

// Server обработчики API.
type Server struct {
	ctl      *control.Context
	interval time.Duration
	mux      *http.ServeMux
	upgrader websocket.Upgrader
}

// New создаёт сервер; interval период сообщений потока состояния.
func New(ctl *control.Context, interval time.Duration) *Server {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	s := &Server{
		ctl:      ctl,
		interval: interval,
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/balance", s.handleBalance)
	s.mux.HandleFunc("/api/move", s.handleMove)
	s.mux.HandleFunc("/api/velocity", s.handleVelocity)
	s.mux.HandleFunc("/api/gains/", s.handleGains)
	s.mux.HandleFunc("/api/heading", s.handleHeading)
	s.mux.HandleFunc("/api/heading/observation", s.handleObservation)
	s.mux.HandleFunc("/api/tilt", s.handleTilt)
	s.mux.HandleFunc("/api/calibrate", s.handleCalibrate)
	s.mux.HandleFunc("/api/gyro/neutral", s.handleNeutral)
	s.mux.HandleFunc("/api/stream", s.handleStream)
	return s
}

// Handler корневой обработчик.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe слушает addr до отмены ctx.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info("api: listening on %s", addr)
	select {
	case err := <-errc:
		return fmt.Errorf("api listen %s: %w", addr, err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("api: encode response: %v", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorBody{Error: err.Error()})
}

// commandError код ответа для ошибки команды.
func commandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, control.ErrEmergency), errors.Is(err, control.ErrCalibrating):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return false
	}
	return true
}

func allow(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	return false
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, NewStatus(s.ctl))
}

// command разбирает тело запроса и применяет команду.
func command[T interface{ Apply(*control.Context) error }](s *Server, w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req T
	if !decode(w, r, &req) {
		return
	}
	if err := req.Apply(s.ctl); err != nil {
		commandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewStatus(s.ctl))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	command[BalanceRequest](s, w, r)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	command[MoveRequest](s, w, r)
}

func (s *Server) handleVelocity(w http.ResponseWriter, r *http.Request) {
	command[VelocityRequest](s, w, r)
}

func (s *Server) handleGains(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	loop := strings.TrimPrefix(r.URL.Path, "/api/gains/")
	if r.Method == http.MethodPut {
		var g Gains
		if !decode(w, r, &g) {
			return
		}
		if err := SetGains(s.ctl, loop, g); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
	}
	g, err := GetGains(s.ctl, loop)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleHeading(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	if r.Method == http.MethodPut {
		var req HeadingRequest
		if !decode(w, r, &req) {
			return
		}
		if err := req.Apply(s.ctl); err != nil {
			commandError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, NewHeading(s.ctl))
}

func (s *Server) handleObservation(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var obs Observation
	if !decode(w, r, &obs) {
		return
	}
	v := s.ctl.ObserveHeading(obs.Angle)
	writeJSON(w, http.StatusOK, ObservationResult{Verdict: v.String()})
}

func (s *Server) handleTilt(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, NewTilt(s.ctl))
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	x, z, err := s.ctl.Calibrate(r.Context())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		commandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Neutral{X: x.Float(), Z: z.Float()})
}

func (s *Server) handleNeutral(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	if r.Method == http.MethodPut {
		var n Neutral
		if !decode(w, r, &n) {
			return
		}
		s.ctl.SetGyroNeutral(fixed.FromFloat(n.X), fixed.FromFloat(n.Z))
	}
	x, z := s.ctl.GyroNeutral()
	writeJSON(w, http.StatusOK, Neutral{X: x.Float(), Z: z.Float()})
}
