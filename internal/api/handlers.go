package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/adlib/coffee-chat/internal/matching"
	"github.com/adlib/coffee-chat/internal/matchmaker"
	"github.com/adlib/coffee-chat/internal/store"
	"github.com/adlib/coffee-chat/pkg/logger"
)

const (
	maxBodyBytes = 64 << 10

	headerRateLimitRemaining = "X-RateLimit-Remaining"
)

// formDetails is the sign-up form submitted by the front end.
type formDetails struct {
	EndTimeAvailable int64    `json:"endTimeAvailable"` // unix ms
	Duration         int      `json:"duration"`         // minutes
	Role             string   `json:"role"`
	ProductArea      string   `json:"productArea"`
	Interests        []string `json:"interests"`
	SavePreference   bool     `json:"savePreference"`
	MatchPreference  string   `json:"matchPreference"`
}

type joinRequest struct {
	FormDetails formDetails `json:"formDetails"`
}

type participantResponse struct {
	Username         string   `json:"username"`
	Duration         int      `json:"duration"`
	EndTimeAvailable int64    `json:"endTimeAvailable"`
	Role             string   `json:"role"`
	ProductArea      string   `json:"productArea"`
	Interests        []string `json:"interests,omitempty"`
	MatchPreference  string   `json:"matchPreference"`
	MatchID          string   `json:"matchId,omitempty"`
	Status           string   `json:"status"`
	Timestamp        int64    `json:"timestamp"`
}

type matchResponse struct {
	ID              string `json:"id"`
	FirstUsername   string `json:"firstParticipant"`
	SecondUsername  string `json:"secondParticipant"`
	Partner         string `json:"partner,omitempty"`
	Duration        int    `json:"duration"`
	MatchPreference string `json:"matchPreference"`
	SameFields      int    `json:"sameFields"`
	Timestamp       int64  `json:"timestamp"`
}

type outcomeResponse struct {
	Matched     bool                `json:"matched"`
	Match       *matchResponse      `json:"match,omitempty"`
	Participant participantResponse `json:"participant"`
}

type profileResponse struct {
	Username        string   `json:"username"`
	Role            string   `json:"role"`
	ProductArea     string   `json:"productArea"`
	Interests       []string `json:"interests"`
	MatchPreference string   `json:"matchPreference"`
	UpdatedAt       int64    `json:"updatedAt"`
}

func toParticipantResponse(p matching.Participant) participantResponse {
	return participantResponse{
		Username:         p.Username,
		Duration:         int(p.Duration / time.Minute),
		EndTimeAvailable: p.AvailableUntil.UnixMilli(),
		Role:             p.Role,
		ProductArea:      p.ProductArea,
		Interests:        p.Interests,
		MatchPreference:  p.Preference.String(),
		MatchID:          p.MatchID,
		Status:           string(p.Status),
		Timestamp:        p.JoinedAt.UnixMilli(),
	}
}

func toMatchResponse(m *matching.Match, viewer string) *matchResponse {
	if m == nil {
		return nil
	}
	return &matchResponse{
		ID:              m.ID,
		FirstUsername:   m.FirstUsername,
		SecondUsername:  m.SecondUsername,
		Partner:         m.Partner(viewer),
		Duration:        int(m.Duration / time.Minute),
		MatchPreference: m.Preference.String(),
		SameFields:      m.SameFields,
		Timestamp:       m.CreatedAt.UnixMilli(),
	}
}

func toOutcomeResponse(out *matchmaker.Outcome, viewer string) outcomeResponse {
	return outcomeResponse{
		Matched:     out.Matched(),
		Match:       toMatchResponse(out.Match, viewer),
		Participant: toParticipantResponse(out.Participant),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	username, err := s.username(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", err)
		return
	}

	if s.limiter != nil {
		ok, err := s.limiter.Allow(r.Context(), username, s.joinRule)
		if err != nil {
			s.log.Warn(r.Context(), "rate limiter error", logger.String("username", username), logger.Error(err))
		}
		if n, err := s.limiter.Remaining(r.Context(), username, s.joinRule); err == nil {
			w.Header().Set(headerRateLimitRemaining, strconv.Itoa(n))
		}
		if !ok {
			writeError(w, http.StatusTooManyRequests, "rate_limited", errors.New("too many requests, slow down"))
			return
		}
	}

	var body joinRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", errors.New("Invalid input(s)."))
		return
	}
	form := body.FormDetails
	if form.EndTimeAvailable <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", errors.New("Invalid input(s)."))
		return
	}
	if form.Duration <= 0 || form.Duration > int(matchmaker.MaxDuration/time.Minute) {
		writeError(w, http.StatusBadRequest, "invalid_request", errors.New("Invalid duration."))
		return
	}

	out, err := s.svc.Join(r.Context(), matchmaker.Request{
		Username:       username,
		Duration:       time.Duration(form.Duration) * time.Minute,
		AvailableUntil: time.UnixMilli(form.EndTimeAvailable),
		Role:           form.Role,
		ProductArea:    form.ProductArea,
		Interests:      form.Interests,
		Preference:     form.MatchPreference,
		SavePreference: form.SavePreference,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeResponse(out, username))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	username, err := s.username(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", err)
		return
	}
	out, err := s.svc.Status(r.Context(), username)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeResponse(out, username))
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	username, err := s.username(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", err)
		return
	}
	if err := s.svc.Leave(r.Context(), username); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	username, err := s.username(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", err)
		return
	}
	id := mux.Vars(r)["id"]
	m, err := s.svc.Match(r.Context(), username, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMatchResponse(m, username))
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	username, err := s.username(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", err)
		return
	}
	u, err := s.svc.Profile(r.Context(), username)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(u))
}

func toProfileResponse(u *store.User) profileResponse {
	return profileResponse{
		Username:        u.Username,
		Role:            u.Role,
		ProductArea:     u.ProductArea,
		Interests:       u.Interests,
		MatchPreference: u.Preference.String(),
		UpdatedAt:       u.UpdatedAt.UnixMilli(),
	}
}
