package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peaceseal.io/herald/internal/api/middleware"
	"peaceseal.io/herald/internal/domain"
	"peaceseal.io/herald/internal/notification"
	apperrors "peaceseal.io/herald/internal/pkg/errors"
	"peaceseal.io/herald/internal/pkg/logger"
	"peaceseal.io/herald/internal/pkg/worker"
	"peaceseal.io/herald/internal/stream"
)

const testInternalToken = "internal-token-0123456789abcdef0123456789"

func init() {
	gin.SetMode(gin.TestMode)
	_ = logger.Init("error", "json")
}

type testEnv struct {
	router *gin.Engine
	srv    *Server
	store  *notification.MemoryStore
	dir    *notification.MemoryDirectory
	prefs  *notification.MemoryPreferenceStore
	jwtCfg middleware.JWTConfig
}

func newTestEnv(t *testing.T, mutate ...func(*ServerDeps)) *testEnv {
	t.Helper()

	store := notification.NewMemoryStore()
	dir := notification.NewMemoryDirectory(
		notification.User{ID: "u-1", Role: notification.RoleUser, Email: "u1@example.org"},
		notification.User{ID: "u-2", Role: notification.RoleUser},
		notification.User{ID: "mod-1", Role: notification.RoleModerator},
		notification.User{ID: "mod-2", Role: notification.RoleModerator},
		notification.User{ID: "admin-1", Role: notification.RoleAdmin},
	)
	prefs := notification.NewMemoryPreferenceStore()
	writer := notification.NewWriter(store)
	dispatcher := notification.NewDispatcher(writer, dir, nil)
	events := domain.NewEventDispatcher()
	notification.NewTriggers(writer, dispatcher).Register(events)

	jwtCfg := middleware.JWTConfig{
		SigningKey: []byte("handler-test-signing-key-0123456789"),
		ExpiresIn:  time.Hour,
	}
	streamCfg := stream.DefaultConfig()
	streamCfg.CallBudget = 1

	deps := ServerDeps{
		Store:       store,
		ReadTracker: notification.NewReadTracker(store, dir),
		Writer:      writer,
		Dispatcher:  dispatcher,
		Preferences: prefs,
		Events:      events,
		JWTCfg:      jwtCfg,
		StreamCfg:   streamCfg,
	}
	for _, m := range mutate {
		m(&deps)
	}
	srv := NewServer(deps)

	router := gin.New()
	router.Use(middleware.RequestID(), middleware.ErrorHandler())
	srv.RegisterRoutes(router.Group("/api/v1"), RouteMiddleware{
		User:     []gin.HandlerFunc{middleware.JWTAuth(jwtCfg)},
		Internal: []gin.HandlerFunc{middleware.InternalAuth(testInternalToken)},
	})

	return &testEnv{router: router, srv: srv, store: store, dir: dir, prefs: prefs, jwtCfg: jwtCfg}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, _, err := middleware.GenerateToken(e.jwtCfg, userID, notification.RoleUser)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seed(t *testing.T, userID, id string, at time.Time) {
	t.Helper()
	require.NoError(t, e.store.Insert(context.Background(), &notification.Record{
		ID:        id,
		UserID:    userID,
		Type:      notification.TypeLike,
		Title:     "title " + id,
		Priority:  notification.PriorityNormal,
		Channel:   notification.ChannelInApp,
		CreatedAt: at,
	}))
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body=%s", w.Body.String())
	return out
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestListNotifications_UserScopedNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "u-1", "n-1", base)
	env.seed(t, "u-1", "n-2", base.Add(time.Minute))
	env.seed(t, "u-2", "n-3", base.Add(2*time.Minute))

	w := env.do(t, http.MethodGet, "/api/v1/notifications", env.token(t, "u-1"), nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[NotificationList](t, w)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "n-2", resp.Items[0].ID)
	assert.Equal(t, "n-1", resp.Items[1].ID)
}

func TestListNotifications_Cursors(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		env.seed(t, "u-1", "n-"+strconv.Itoa(i), base.Add(time.Duration(i)*time.Minute))
	}
	tok := env.token(t, "u-1")

	afterMs := strconv.FormatInt(base.Add(time.Minute).UnixMilli(), 10)
	w := env.do(t, http.MethodGet, "/api/v1/notifications?after="+afterMs, tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[NotificationList](t, w).Items, 3)

	before := base.Add(3 * time.Minute).Format(time.RFC3339)
	w = env.do(t, http.MethodGet, "/api/v1/notifications?limit=2&before="+before, tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	items := decode[NotificationList](t, w).Items
	require.Len(t, items, 2)
	assert.Equal(t, "n-2", items[0].ID)
	assert.Equal(t, "n-1", items[1].ID)

	w = env.do(t, http.MethodGet, "/api/v1/notifications?after=yesterday", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperrors.CodeInvalidCursor, decode[map[string]any](t, w)["code"])

	w = env.do(t, http.MethodGet, "/api/v1/notifications?limit=ten", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListNotifications_EmptyIsArray(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/notifications", env.token(t, "u-1"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items":[]}`, w.Body.String())
}

func TestUserRoutes_RequireToken(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/v1/notifications", "/api/v1/notifications/unread-count", "/api/v1/notifications/preferences"} {
		w := env.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestReadState_Endpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "u-1", "n-1", base)
	env.seed(t, "u-1", "n-2", base.Add(time.Second))
	env.seed(t, "u-2", "n-other", base)
	tok := env.token(t, "u-1")

	count := func() int {
		w := env.do(t, http.MethodGet, "/api/v1/notifications/unread-count", tok, nil)
		require.Equal(t, http.StatusOK, w.Code)
		return decode[UnreadCount](t, w).Count
	}
	assert.Equal(t, 2, count())

	w := env.do(t, http.MethodPost, "/api/v1/notifications/n-1/read", tok, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, http.MethodPost, "/api/v1/notifications/n-1/read", tok, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, count())

	// A foreign id is acknowledged but leaves the owner's record untouched.
	w = env.do(t, http.MethodPost, "/api/v1/notifications/n-other/read", tok, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	otherCount, err := env.store.CountUnread(context.Background(), "u-2")
	require.NoError(t, err)
	assert.Equal(t, 1, otherCount)

	w = env.do(t, http.MethodPost, "/api/v1/notifications/read-all", tok, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, count())
}

func TestMarkSeen_StampsDirectory(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "u-1", "n-1", base)

	w := env.do(t, http.MethodPost, "/api/v1/notifications/seen", env.token(t, "u-1"), nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	u, ok := env.dir.Get("u-1")
	require.True(t, ok)
	assert.NotNil(t, u.LastSeenAt)
	n, err := env.store.CountUnread(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPreferences_GetAndPatch(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "u-1")

	w := env.do(t, http.MethodGet, "/api/v1/notifications/preferences", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, notification.DefaultPreferences(), decode[notification.Preferences](t, w))

	w = env.do(t, http.MethodPost, "/api/v1/notifications/preferences", tok, map[string]bool{"emailEnabled": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, notification.Preferences{InAppEnabled: true, EmailEnabled: false}, decode[notification.Preferences](t, w))

	stored, err := env.prefs.Get(context.Background(), "u-1")
	require.NoError(t, err)
	assert.False(t, stored.EmailEnabled)
}

func TestCreateNotification_SingleUser(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/notifications", testInternalToken, map[string]any{
		"userId": "u-1",
		"type":   notification.TypeComment,
		"title":  "New comment",
		"meta":   map[string]any{"slug": "peace-now", "solutionId": "42"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[CreateNotificationResponse](t, w)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.ID)
	assert.Nil(t, resp.Delivered)

	recs, err := env.store.ListByUser(context.Background(), "u-1", notification.ListOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "/campaigns/peace-now?solutionId=42", recs[0].Href)
}

func TestCreateNotification_BroadcastToModerators(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/notifications", testInternalToken, map[string]any{
		"broadcastRole": notification.RoleModerator,
		"type":          notification.TypeModeration,
		"title":         "Report awaiting review",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[CreateNotificationResponse](t, w)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Delivered)
	assert.Equal(t, 3, *resp.Delivered)

	seen := map[string]bool{}
	for _, uid := range []string{"mod-1", "mod-2", "admin-1"} {
		recs, err := env.store.ListByUser(context.Background(), uid, notification.ListOptions{})
		require.NoError(t, err)
		require.Len(t, recs, 1, uid)
		assert.False(t, seen[recs[0].ID])
		seen[recs[0].ID] = true
	}
}

func TestCreateNotification_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		bearer string
		body   any
		status int
		code   string
	}{
		{"wrong secret", "nope", map[string]any{"userId": "u-1", "type": "like", "title": "x"}, http.StatusUnauthorized, ""},
		{"end-user token", env.token(t, "u-1"), map[string]any{"userId": "u-1", "type": "like", "title": "x"}, http.StatusUnauthorized, ""},
		{"no recipient", testInternalToken, map[string]any{"type": "like", "title": "x"}, http.StatusBadRequest, apperrors.CodeRecipientRequired},
		{"missing title", testInternalToken, map[string]any{"userId": "u-1", "type": "like"}, http.StatusBadRequest, apperrors.CodeValidationFailed},
		{"malformed body", testInternalToken, "not an object", http.StatusBadRequest, apperrors.CodeValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/notifications", tt.bearer, tt.body)
			assert.Equal(t, tt.status, w.Code)
			if tt.code != "" {
				assert.Equal(t, tt.code, decode[map[string]any](t, w)["code"])
			}
		})
	}
}

type failingStore struct {
	*notification.MemoryStore
}

func (failingStore) Insert(context.Context, *notification.Record) error {
	return errors.New("connection refused")
}

func (failingStore) ListByUser(context.Context, string, notification.ListOptions) ([]notification.Record, error) {
	return nil, errors.New("connection refused")
}

func TestCreateNotification_StoreFailureIsRetryable(t *testing.T) {
	env := newTestEnv(t, func(d *ServerDeps) {
		d.Writer = notification.NewWriter(failingStore{notification.NewMemoryStore()})
	})

	w := env.do(t, http.MethodPost, "/api/v1/notifications", testInternalToken, map[string]any{
		"userId": "u-1", "type": "like", "title": "x",
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperrors.CodeNotificationWriteFailed, decode[map[string]any](t, w)["code"])
}

func TestListNotifications_StoreOutageIs500(t *testing.T) {
	env := newTestEnv(t, func(d *ServerDeps) {
		d.Store = failingStore{notification.NewMemoryStore()}
	})

	w := env.do(t, http.MethodGet, "/api/v1/notifications", env.token(t, "u-1"), nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperrors.CodeInternal, decode[map[string]any](t, w)["code"])
}

func TestPublishEvent_RunsTriggers(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/events", testInternalToken, map[string]any{
		"type":        string(domain.EventSolutionLiked),
		"aggregateId": "sol-9",
		"payload": domain.SolutionLikedPayload{
			SolutionID:       "sol-9",
			SolutionAuthorID: "u-1",
			CampaignSlug:     "peace-now",
			LikerID:          "u-2",
			LikerName:        "Sam",
		},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.NotEmpty(t, decode[PublishEventResponse](t, w).EventID)

	recs, err := env.store.ListByUser(context.Background(), "u-1", notification.ListOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, notification.TypeLike, recs[0].Type)
}

func TestPublishEvent_Rejects(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/events", testInternalToken, map[string]any{
		"type": "VM_CREATED", "aggregateId": "x", "payload": map[string]any{},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/events", testInternalToken, map[string]any{
		"type": string(domain.EventCommentPosted), "aggregateId": "x",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/events", "", map[string]any{
		"type": string(domain.EventCommentPosted), "aggregateId": "x", "payload": map[string]any{},
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPublishEvent_ClosedPoolIsUnavailable(t *testing.T) {
	pools, err := worker.NewPools(context.Background(), worker.PoolConfig{GeneralPoolSize: 1, FanoutPoolSize: 1})
	require.NoError(t, err)
	pools.Shutdown()

	env := newTestEnv(t, func(d *ServerDeps) { d.Pools = pools })

	w := env.do(t, http.MethodPost, "/api/v1/events", testInternalToken, map[string]any{
		"type":        string(domain.EventSolutionLiked),
		"aggregateId": "sol-9",
		"payload": domain.SolutionLikedPayload{
			SolutionID:       "sol-9",
			SolutionAuthorID: "u-1",
			CampaignSlug:     "peace-now",
			LikerID:          "u-2",
			LikerName:        "Sam",
		},
	})
	require.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
	body := decode[map[string]any](t, w)
	assert.Equal(t, apperrors.CodeUnavailable, body["code"])
	assert.Equal(t, map[string]any{"pool": "general"}, body["params"])

	recs, err := env.store.ListByUser(context.Background(), "u-1", notification.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStreamNotifications_RejectsBadTokenBeforeStreaming(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/notifications/stream?token=garbage", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotContains(t, w.Header().Get("Content-Type"), "text/event-stream")
	assert.Equal(t, apperrors.CodeUnauthorized, decode[map[string]any](t, w)["code"])
}

func TestStreamNotifications_HydratesViaQueryToken(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "u-1", "n-1", base)
	env.seed(t, "u-1", "n-2", base.Add(time.Second))
	env.seed(t, "u-2", "n-other", base)

	w := env.do(t, http.MethodGet, "/api/v1/notifications/stream?token="+env.token(t, "u-1"), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream;charset=utf-8", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, "event:hydrate\n"), body)
	assert.Contains(t, body, "event:hydrated\n")
	first := strings.Index(body, "id:"+stream.EventID(base)+"\n")
	second := strings.Index(body, "id:"+stream.EventID(base.Add(time.Second))+"\n")
	require.NotEqual(t, -1, first)
	require.NotEqual(t, -1, second)
	assert.Less(t, first, second)
	assert.NotContains(t, body, "n-other")
}

func TestStreamNotifications_ResumesFromLastEventID(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "u-1", "n-1", base)
	env.seed(t, "u-1", "n-2", base.Add(time.Second))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications/stream", nil)
	req.Header.Set("Authorization", "Bearer "+env.token(t, "u-1"))
	req.Header.Set(lastEventIDHeader, stream.EventID(base))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.NotContains(t, body, `"id":"n-1"`)
	assert.Contains(t, body, `"id":"n-2"`)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health/live", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, healthStatusOK, decode[HealthResponse](t, w).Status)

	w = env.do(t, http.MethodGet, "/api/v1/health/ready", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	env.srv.checks = []healthCheck{
		{name: "database", ping: func(context.Context) error { return nil }},
		{name: "redis", ping: func(context.Context) error { return errors.New("dial tcp: refused") }},
	}
	w = env.do(t, http.MethodGet, "/api/v1/health/ready", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, healthStatusDegraded, resp.Status)
	assert.Equal(t, map[string]string{"database": "ok", "redis": "error"}, resp.Checks)
}

func TestHealth_ReadinessReportsPools(t *testing.T) {
	pools, err := worker.NewPools(context.Background(), worker.PoolConfig{GeneralPoolSize: 4, FanoutPoolSize: 2})
	require.NoError(t, err)
	t.Cleanup(pools.Shutdown)

	env := newTestEnv(t, func(d *ServerDeps) { d.Pools = pools })

	w := env.do(t, http.MethodGet, "/api/v1/health/ready", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResponse](t, w)
	require.Contains(t, resp.Pools, "general")
	require.Contains(t, resp.Pools, "fanout")
	general, ok := resp.Pools["general"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 4, general["cap"])

	w = env.do(t, http.MethodGet, "/api/v1/health/live", "", nil)
	assert.Empty(t, decode[HealthResponse](t, w).Pools)
}
