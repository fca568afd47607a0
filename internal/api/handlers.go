package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/terra-clan/focus-engine/internal/award"
	"github.com/terra-clan/focus-engine/internal/health"
	"github.com/terra-clan/focus-engine/internal/models"
)

const (
	maxBodyBytes      = 1 << 16
	defaultAwardLimit = 20
	maxAwardLimit     = 100
)

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, models.ErrorResponse{Error: message})
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	results := s.health.CheckAll(ctx)
	checks := make(map[string]string, len(results))
	for name, err := range results {
		if err != nil {
			slog.Warn("dependency not ready", "dependency", name, "error", err)
			checks[name] = "unavailable"
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !health.Healthy(results) {
		status, code = "not_ready", http.StatusServiceUnavailable
	}

	respondJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// Award handlers

func (s *Server) handleAwardXP(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req models.AwardRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionDurationMinutes == nil {
		respondError(w, http.StatusBadRequest, "sessionDurationMinutes is required")
		return
	}

	res, err := s.awards.Award(r.Context(), userID, award.Input{
		DurationMinutes: *req.SessionDurationMinutes,
		Mode:            award.ParseMode(req.FocusMode),
	})
	if err != nil {
		switch {
		case errors.Is(err, award.ErrDurationTooLong):
			respondError(w, http.StatusBadRequest, fmt.Sprintf("sessionDurationMinutes must not exceed %d", award.MaxSessionMinutes))
		case errors.Is(err, award.ErrInvalidInput):
			respondError(w, http.StatusBadRequest, "sessionDurationMinutes must be a positive number")
		case errors.Is(err, award.ErrUnauthenticated):
			respondError(w, http.StatusUnauthorized, "unauthorized")
		case errors.Is(err, award.ErrProfileNotFound):
			respondError(w, http.StatusInternalServerError, "profile not found")
		default:
			respondError(w, http.StatusInternalServerError, "failed to award xp")
		}
		return
	}

	resp := models.AwardResponse{
		Success:        true,
		XPEarned:       res.Outcome.XPEarned,
		LevelChanged:   res.Outcome.LevelChanged,
		UpdatedProfile: res.Profile.Snapshot(),
	}
	if res.Outcome.StreakApplied && res.Profile.LastSessionTimestamp != nil {
		resp.StreakInfo = &models.StreakInfo{
			CurrentStreak:        res.Profile.Streak,
			LongestStreak:        res.Profile.LongestStreak,
			LastSessionTimestamp: *res.Profile.LastSessionTimestamp,
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// Profile handlers

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id := IdentityFromContext(r.Context())
	if id == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	p, err := s.awards.Profile(r.Context(), id.UserID)
	if err != nil {
		if errors.Is(err, award.ErrProfileNotFound) {
			respondError(w, http.StatusNotFound, "profile not found")
			return
		}
		slog.Error("failed to get profile", "error", err, "user", id.MaskedUserID())
		respondError(w, http.StatusInternalServerError, "failed to get profile")
		return
	}

	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleListAwards(w http.ResponseWriter, r *http.Request) {
	id := IdentityFromContext(r.Context())
	if id == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := defaultAwardLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxAwardLimit)
	}

	awards, err := s.awards.Awards(r.Context(), id.UserID, limit)
	if err != nil {
		slog.Error("failed to list awards", "error", err, "user", id.MaskedUserID())
		respondError(w, http.StatusInternalServerError, "failed to list awards")
		return
	}
	if awards == nil {
		awards = []*models.AwardRecord{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"awards": awards,
		"total":  len(awards),
	})
}

// Level handlers

func (s *Server) handleLevels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"version": s.levels.Version(),
		"levels":  s.levels.All(),
	})
}
