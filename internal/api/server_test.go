package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/focus-engine/internal/auth"
	"github.com/terra-clan/focus-engine/internal/award"
	"github.com/terra-clan/focus-engine/internal/config"
	"github.com/terra-clan/focus-engine/internal/health"
	"github.com/terra-clan/focus-engine/internal/levels"
	"github.com/terra-clan/focus-engine/internal/models"
	"github.com/terra-clan/focus-engine/internal/storage"
	"github.com/terra-clan/focus-engine/internal/stream"
)

var fixedNow = time.Date(2026, 10, 19, 15, 0, 0, 0, time.UTC)

type testEnv struct {
	repo   *storage.MemoryRepository
	hub    *stream.Hub
	health *health.Registry
	server *Server
}

func newTestEnv(t *testing.T, provision bool) *testEnv {
	t.Helper()
	repo := storage.NewMemoryRepository()
	hub := stream.NewHub()
	reg := health.NewRegistry()
	reg.Register("database", health.CheckerFunc(repo.Ping))

	svc := award.NewService(repo, award.NewEngine(levels.Default()),
		award.WithPublisher(hub),
		award.WithClock(func() time.Time { return fixedNow }),
	)

	deps := Deps{
		Awards:   svc,
		Verifier: auth.StaticVerifier{},
		Health:   reg,
		Hub:      hub,
	}
	if provision {
		deps.Provisioner = repo
	}

	return &testEnv{
		repo:   repo,
		hub:    hub,
		health: reg,
		server: NewServer(config.ServerConfig{RequestTimeout: 5 * time.Second}, deps),
	}
}

func (e *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestAwardXP(t *testing.T) {
	for _, path := range []string{"/functions/v1/award-xp", "/api/v1/award-xp"} {
		t.Run(path, func(t *testing.T) {
			env := newTestEnv(t, false)
			env.repo.Put(&models.Profile{ID: "user-1", XP: 480, Level: 4})

			rec := env.do(http.MethodPost, path, "user-1", `{"sessionDurationMinutes": 25, "focusMode": "easy"}`)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var resp models.AwardResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.True(t, resp.Success)
			assert.Equal(t, 10, resp.XPEarned)
			assert.True(t, resp.LevelChanged)
			assert.Equal(t, 490, resp.UpdatedProfile.XP)
			assert.Equal(t, 5, resp.UpdatedProfile.Level)
			assert.Equal(t, 1, resp.UpdatedProfile.Streak)
			require.NotNil(t, resp.StreakInfo)
			assert.Equal(t, 1, resp.StreakInfo.CurrentStreak)
			assert.True(t, fixedNow.Equal(resp.StreakInfo.LastSessionTimestamp))
		})
	}
}

func TestAwardXPResponseKeys(t *testing.T) {
	env := newTestEnv(t, false)
	env.repo.Put(&models.Profile{ID: "user-1", Level: 1})

	rec := env.do(http.MethodPost, "/api/v1/award-xp", "user-1", `{"sessionDurationMinutes": 10}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Contains(t, raw, "success")
	assert.Contains(t, raw, "xpEarned")
	assert.Contains(t, raw, "levelChanged")
	assert.Contains(t, raw, "updatedProfile")
	assert.NotContains(t, raw, "streakInfo", "short sessions do not touch the streak")

	var profile map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw["updatedProfile"], &profile))
	for _, key := range []string{"xp", "level", "streak", "longest_streak", "last_session_timestamp"} {
		assert.Contains(t, profile, key)
	}
}

func TestAwardXPHardMode(t *testing.T) {
	env := newTestEnv(t, false)
	env.repo.Put(&models.Profile{ID: "user-1", Level: 1})

	rec := env.do(http.MethodPost, "/api/v1/award-xp", "user-1", `{"sessionDurationMinutes": 25, "focusMode": "hard"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.AwardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 20, resp.XPEarned)
}

func TestAwardXPErrors(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		body    string
		status  int
		message string
	}{
		{"no token", "", `{"sessionDurationMinutes": 25}`, http.StatusUnauthorized, "unauthorized"},
		{"missing duration", "user-1", `{}`, http.StatusBadRequest, "sessionDurationMinutes is required"},
		{"string duration", "user-1", `{"sessionDurationMinutes": "25"}`, http.StatusBadRequest, "invalid JSON body"},
		{"zero duration", "user-1", `{"sessionDurationMinutes": 0}`, http.StatusBadRequest, "sessionDurationMinutes must be a positive number"},
		{"negative duration", "user-1", `{"sessionDurationMinutes": -3}`, http.StatusBadRequest, "sessionDurationMinutes must be a positive number"},
		{"malformed json", "user-1", `{"sessionDuration`, http.StatusBadRequest, "invalid JSON body"},
		{"duration over a day", "user-1", `{"sessionDurationMinutes": 1441}`, http.StatusBadRequest, "sessionDurationMinutes must not exceed 1440"},
		{"overflowing duration", "user-1", `{"sessionDurationMinutes": 2e19, "focusMode": "hard"}`, http.StatusBadRequest, "sessionDurationMinutes must not exceed 1440"},
		{"missing profile", "ghost", `{"sessionDurationMinutes": 25}`, http.StatusInternalServerError, "profile not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, false)
			env.repo.Put(&models.Profile{ID: "user-1", XP: 50, Level: 1})

			rec := env.do(http.MethodPost, "/api/v1/award-xp", tt.token, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.message, decodeError(t, rec))

			p, _ := env.repo.GetProfile(context.Background(), "user-1")
			assert.Equal(t, 50, p.XP, "failed requests must not change the profile")
		})
	}
}

func TestAwardXPPersistenceFailure(t *testing.T) {
	env := newTestEnv(t, false)
	env.repo.Put(&models.Profile{ID: "user-1", XP: 50, Level: 1})
	env.repo.FailNextWrite(errors.New("connection reset by peer"))

	rec := env.do(http.MethodPost, "/api/v1/award-xp", "user-1", `{"sessionDurationMinutes": 25}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	msg := decodeError(t, rec)
	assert.Equal(t, "failed to award xp", msg)
	assert.NotContains(t, msg, "connection reset")
}

func TestAwardXPProvisionsProfile(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(http.MethodPost, "/api/v1/award-xp", "new-user", `{"sessionDurationMinutes": 30}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp models.AwardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 12, resp.UpdatedProfile.XP)
	assert.Equal(t, 1, resp.UpdatedProfile.Streak)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, false)

	req := httptest.NewRequest(http.MethodOptions, "/functions/v1/award-xp", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "authorization, content-type")
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)

	assert.Less(t, rec.Code, 300)
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers")), "authorization")
}

func TestProfileEndpoints(t *testing.T) {
	env := newTestEnv(t, false)
	env.repo.Put(&models.Profile{ID: "user-1", XP: 10, Level: 1})

	rec := env.do(http.MethodGet, "/api/v1/profile", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var p models.Profile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, 10, p.XP)

	rec = env.do(http.MethodGet, "/api/v1/profile", "ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	for i := 0; i < 3; i++ {
		rec = env.do(http.MethodPost, "/api/v1/award-xp", "user-1", `{"sessionDurationMinutes": 5}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec = env.do(http.MethodGet, "/api/v1/profile/awards?limit=2", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Awards []models.AwardRecord `json:"awards"`
		Total  int                  `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Total)

	rec = env.do(http.MethodGet, "/api/v1/profile/awards?limit=abc", "user-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLevelsEndpoint(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(http.MethodGet, "/api/v1/levels", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Version int                `json:"version"`
		Levels  []levels.Threshold `json:"levels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Version)
	require.Len(t, body.Levels, 100)
	assert.Equal(t, 489, body.Levels[4].XPRequired)
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	env.health.Register("redis", health.CheckerFunc(func(ctx context.Context) error {
		return errors.New("dial tcp: connection refused")
	}))
	rec = env.do(http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "focus_")
}

func TestProfileStream(t *testing.T) {
	env := newTestEnv(t, false)
	env.repo.Put(&models.Profile{ID: "user-1", XP: 0, Level: 1})

	srv := httptest.NewServer(env.server.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/profile/stream?access_token=user-1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var initial StreamMessage
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Equal(t, "profile", initial.Type)
	require.NotNil(t, initial.Profile)
	assert.Equal(t, 0, initial.Profile.XP)

	rec := env.do(http.MethodPost, "/api/v1/award-xp", "user-1", `{"sessionDurationMinutes": 25}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var update StreamMessage
	require.NoError(t, conn.ReadJSON(&update))
	require.NotNil(t, update.Profile)
	assert.Equal(t, 10, update.Profile.XP)
}

func TestProfileStreamRequiresToken(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(http.MethodGet, "/api/v1/profile/stream", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
