// Package statusserver exposes a minimal, read-only HTTP surface for
// operators: a liveness check and a JSON snapshot of the current round's
// worksets (SPEC_FULL.md §6 component H). It never influences scheduling.
// Routing uses gorilla/mux; /status is gated by HMAC-signed JWT bearer
// tokens verified against a single shared operator secret.
package statusserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/gorilla/mux"

	"github.com/outblock/link-checker/internal/scheduler"
)

// SchedulerSource exposes the checker's in-flight round scheduler, or nil
// between rounds.
type SchedulerSource interface {
	CurrentScheduler() *scheduler.Scheduler
}

// Server is the status/health HTTP surface.
type Server struct {
	source    SchedulerSource
	authSecret []byte
	router    *mux.Router
	startedAt time.Time
}

// New builds a Server backed by source. An empty authSecret disables bearer
// validation on /status (useful for local development), matching the
// teacher's pattern of treating an empty secret as "auth disabled" in tests.
func New(source SchedulerSource, authSecret string) *Server {
	s := &Server{source: source, authSecret: []byte(authSecret), startedAt: time.Now()}
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router = r
	return s
}

// Handler returns the router for use with http.Server / httptest.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startedAt).String(),
	})
}

type ownerStatus struct {
	OwnerID   string `json:"owner_id"`
	Total     int    `json:"total"`
	NextIndex int    `json:"next_index"`
	IsLocked  bool   `json:"is_locked"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if len(s.authSecret) > 0 {
		if err := s.checkBearer(r); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
	}

	sched := s.source.CurrentScheduler()
	if sched == nil {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"round_active": false})
		return
	}

	snaps := sched.Snapshot()
	out := make([]ownerStatus, len(snaps))
	for i, snap := range snaps {
		out[i] = ownerStatus{OwnerID: snap.OwnerID, Total: snap.Total, NextIndex: snap.NextIndex, IsLocked: snap.IsLocked}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"round_active": true,
		"owners":       out,
	})
}

func (s *Server) checkBearer(r *http.Request) error {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return fmt.Errorf("missing Authorization header")
	}
	tokenStr := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

	token, err := jwtlib.Parse(tokenStr, func(token *jwtlib.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.authSecret, nil
	})
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}
