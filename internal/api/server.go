// Package api exposes the matchmaker over HTTP. Handlers stay thin: they
// resolve the caller, decode the form and translate errors to status codes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/adlib/coffee-chat/internal/matching"
	"github.com/adlib/coffee-chat/internal/matchmaker"
	"github.com/adlib/coffee-chat/internal/metrics"
	"github.com/adlib/coffee-chat/internal/ratelimit"
	"github.com/adlib/coffee-chat/internal/store"
	"github.com/adlib/coffee-chat/pkg/logger"
)

// Matchmaker is the part of the matchmaker service the handlers call.
type Matchmaker interface {
	Join(ctx context.Context, req matchmaker.Request) (*matchmaker.Outcome, error)
	Leave(ctx context.Context, username string) error
	Status(ctx context.Context, username string) (*matchmaker.Outcome, error)
	Match(ctx context.Context, username, id string) (*matching.Match, error)
	Profile(ctx context.Context, username string) (*store.User, error)
}

// Server holds the HTTP handlers.
type Server struct {
	svc      Matchmaker
	limiter  ratelimit.Allower
	joinRule ratelimit.Rule
	origins  []string
	log      logger.Logger

	trustUserHeader bool
}

// Option configures a Server.
type Option func(*Server)

// WithRateLimit throttles joins per user.
func WithRateLimit(l ratelimit.Allower, rule ratelimit.Rule) Option {
	return func(s *Server) {
		s.limiter = l
		s.joinRule = rule
	}
}

// WithCORSOrigins restricts cross-origin callers. Empty allows all origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithTrustUserHeader accepts X-User-Email as the caller's identity when the
// proxy header is absent. Only enable it where no untrusted client can reach
// the server.
func WithTrustUserHeader(trust bool) Option {
	return func(s *Server) { s.trustUserHeader = trust }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

func NewServer(svc Matchmaker, opts ...Option) *Server {
	s := &Server{svc: svc, joinRule: ratelimit.RuleJoin, log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/participants", s.handleJoin).Methods(http.MethodPost)
	v1.HandleFunc("/participants/me", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/participants/me", s.handleLeave).Methods(http.MethodDelete)
	v1.HandleFunc("/matches/{id}", s.handleGetMatch).Methods(http.MethodGet)
	v1.HandleFunc("/users/me", s.handleProfile).Methods(http.MethodGet)

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	headers := []string{"Content-Type"}
	if s.trustUserHeader {
		headers = append(headers, headerUserEmail)
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: headers,
		ExposedHeaders: []string{headerRateLimitRemaining},
	}).Handler(r)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError maps matchmaker errors onto HTTP status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, matchmaker.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", unwrapMessage(err))
	case errors.Is(err, matchmaker.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", nil)
	case errors.Is(err, matchmaker.ErrClaimConflict):
		writeError(w, http.StatusConflict, "claim_conflict", errors.New("the pool is busy, please try again"))
	default:
		s.log.Error(r.Context(), "request failed",
			logger.String("path", r.URL.Path), logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", nil)
	}
}

// unwrapMessage drops the sentinel prefix so that clients see only the
// human message, e.g. "Invalid duration.".
func unwrapMessage(err error) error {
	prefix := matchmaker.ErrInvalidRequest.Error() + ": "
	msg := err.Error()
	if i := strings.LastIndex(msg, prefix); i >= 0 {
		return errors.New(msg[i+len(prefix):])
	}
	return err
}
