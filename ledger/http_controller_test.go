package ledger_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	sitegate "github.com/goliatone/go-sitegate"
	"github.com/goliatone/go-sitegate/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const callerHeader = "X-Test-Caller"

// callerFromHeader stands in for the request gate
func callerFromHeader(c *fiber.Ctx) error {
	raw := c.Get(callerHeader)
	var caller sitegate.Caller = sitegate.GuestCaller{}
	switch {
	case raw == "admin":
		caller = sitegate.AdminCaller{Claims: &sitegate.TokenClaims{
			Payload: map[string]any{sitegate.ClaimRole: sitegate.RoleAdmin},
		}}
	case strings.HasPrefix(raw, "guest:"):
		caller = sitegate.GuestCaller{Key: strings.TrimPrefix(raw, "guest:")}
	case strings.HasPrefix(raw, "user:"):
		caller = sitegate.UserCaller{Identity: sitegate.UserIdentity{ID: strings.TrimPrefix(raw, "user:")}}
	}
	c.SetUserContext(sitegate.WithCaller(c.UserContext(), caller))
	return c.Next()
}

type apiFixture struct {
	app    *fiber.App
	ledger *ledger.Ledger
	store  ledger.Store
}

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()

	mgr := setupManager(t)
	c := setupCache(t)

	l := ledger.New(mgr.Ledger()).WithCache(c).WithLogger(nopLogger{})
	b := ledger.NewBookmarkManager(mgr.Bookmarks()).WithCache(c).WithLogger(nopLogger{})

	app := fiber.New()
	app.Use(callerFromHeader)
	ledger.RegisterRoutes(app, l, b, ledger.WithControllerLogger(nopLogger{}))

	return &apiFixture{app: app, ledger: l, store: mgr.Ledger()}
}

func (f *apiFixture) call(t *testing.T, method, path, caller, body string) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if caller != "" {
		req.Header.Set(callerHeader, caller)
	}

	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func aggregateField(t *testing.T, body map[string]any, field string) float64 {
	t.Helper()
	state, ok := body["state"].(map[string]any)
	if !ok {
		state = body
	}
	agg, ok := state["aggregate"].(map[string]any)
	require.True(t, ok, "response has no aggregate: %v", body)
	return agg[field].(float64)
}

func TestAPIGuestViews(t *testing.T) {
	f := setupAPI(t)

	for i := 0; i < 3; i++ {
		status, _ := f.call(t, http.MethodPost, "/api/posts/p1/interactions", "guest:g1", `{"type":"view"}`)
		require.Equal(t, http.StatusCreated, status)
	}

	status, body := f.call(t, http.MethodGet, "/api/posts/p1/state", "guest:g1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(3), aggregateField(t, body, "view_count"))
	assert.Equal(t, float64(0), aggregateField(t, body, "like_count"))
	assert.Equal(t, false, body["liked"])
}

func TestAPILikeToggle(t *testing.T) {
	f := setupAPI(t)

	status, body := f.call(t, http.MethodPost, "/api/notes/n1/like", "user:u1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["like_changed"])
	assert.Equal(t, true, body["state"].(map[string]any)["liked"])
	assert.Equal(t, float64(1), aggregateField(t, body, "like_count"))

	status, body = f.call(t, http.MethodPost, "/api/notes/n1/like", "user:u1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["state"].(map[string]any)["liked"])
	assert.Equal(t, float64(0), aggregateField(t, body, "like_count"))

	status, body = f.call(t, http.MethodPost, "/api/notes/n1/like", "user:u1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), aggregateField(t, body, "like_count"))

	events, err := f.store.QueryInteractions(context.Background(), ledger.InteractionFilter{
		Subject: n1,
		Actor:   sitegate.UserActor("u1"),
	})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, ledger.Like, events[0].Type)
	assert.Equal(t, ledger.Unlike, events[1].Type)
	assert.Equal(t, ledger.Like, events[2].Type)
}

func TestAPIStateWithoutActor(t *testing.T) {
	f := setupAPI(t)

	status, body := f.call(t, http.MethodGet, "/api/posts/p1/state", "", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["liked"])
}

func TestAPIRejectsBadInput(t *testing.T) {
	f := setupAPI(t)

	cases := []struct {
		name   string
		path   string
		caller string
		body   string
		rule   string
	}{
		{"missing actor", "/api/posts/p1/interactions", "", `{"type":"VIEW"}`, "actor.key"},
		{"unknown kind", "/api/videos/v1/interactions", "guest:g1", `{"type":"VIEW"}`, "subject.kind"},
		{"unknown type", "/api/posts/p1/interactions", "guest:g1", `{"type":"CLAP"}`, "type"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := f.call(t, http.MethodPost, tc.path, tc.caller, tc.body)
			assert.Equal(t, http.StatusBadRequest, status)

			errBody := body["error"].(map[string]any)
			assert.Equal(t, sitegate.TextCodeValidation, errBody["text_code"])
			assert.Contains(t, errBody["violations"], tc.rule)
		})
	}
}

func TestAPIBookmarks(t *testing.T) {
	f := setupAPI(t)

	status, created := f.call(t, http.MethodPost, "/api/bookmarks", "guest:g1", `{"kind":"post","id":"p1"}`)
	require.Equal(t, http.StatusCreated, status)
	id := created["id"].(string)
	require.NotEmpty(t, id)

	status, body := f.call(t, http.MethodPost, "/api/bookmarks", "guest:g1", `{"kind":"posts","id":"p1"}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, sitegate.TextCodeAlreadyExists, body["error"].(map[string]any)["text_code"])

	status, body = f.call(t, http.MethodGet, "/api/bookmarks", "guest:g1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["bookmarks"], 1)

	// another actor cannot remove it
	status, _ = f.call(t, http.MethodDelete, "/api/bookmarks/"+id, "guest:g2", "")
	assert.Equal(t, http.StatusNoContent, status)
	_, body = f.call(t, http.MethodGet, "/api/bookmarks", "guest:g1", "")
	assert.Len(t, body["bookmarks"], 1)

	for i := 0; i < 2; i++ {
		status, _ = f.call(t, http.MethodDelete, "/api/bookmarks/"+id, "guest:g1", "")
		assert.Equal(t, http.StatusNoContent, status)
	}

	_, body = f.call(t, http.MethodGet, "/api/bookmarks", "guest:g1", "")
	assert.Len(t, body["bookmarks"], 0)
}

func TestAPIReconcileRequiresAdmin(t *testing.T) {
	f := setupAPI(t)

	status, _ := f.call(t, http.MethodPost, "/admin/ledger/reconcile", "user:u1", "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAPIReconcile(t *testing.T) {
	f := setupAPI(t)
	ctx := context.Background()

	_, err := f.ledger.Record(ctx, ledger.View, p1, sitegate.GuestActor("g1"))
	require.NoError(t, err)
	require.NoError(t, f.store.IncrementCounter(ctx, p1, ledger.CounterViews, 4))

	status, body := f.call(t, http.MethodPost, "/admin/ledger/reconcile", "admin", `{"kind":"post","id":"p1"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["drifted"])

	status, body = f.call(t, http.MethodGet, "/api/posts/p1/state", "", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), aggregateField(t, body, "view_count"))

	status, body = f.call(t, http.MethodPost, "/admin/ledger/reconcile", "admin", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), body["drifted"])
}
