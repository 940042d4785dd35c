package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdcaflow/internal/app"
	"pdcaflow/internal/config"
	"pdcaflow/internal/domain"
	"pdcaflow/internal/engine"
	"pdcaflow/internal/engine/auth"
)

const (
	testSecret = "test-secret"
	testToday  = "2024-03-13"
)

type testServer struct {
	URL    string
	Addr   string
	WS     *app.Workspace
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func (s *testServer) token(t *testing.T, uid string, role domain.Role) map[string]string {
	t.Helper()
	tok, err := SignToken(testSecret, uid, role, time.Hour, time.Now())
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + tok}
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	cfg := config.Default()
	cfg.Timezone = "UTC"
	cfg.Auth.JWTSecret = testSecret
	cfg.Auth.DevLogin = true
	logger := log.New(io.Discard)
	ws, err := app.Open(context.Background(), app.Options{
		Dir:    t.TempDir(),
		Config: cfg,
		Logger: logger,
		Now:    func() time.Time { return time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	handler, err := New(Config{
		Engine:   ws.Engine,
		Store:    ws.Store,
		Catalog:  ws.Registry,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, DevLogin: true},
		Logger:   logger,
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Addr:   ln.Addr().String(),
		WS:     ws,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			ws.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func createProject(t *testing.T, srv *testServer, headers map[string]string) domain.Project {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"title":                "Reduce scrap",
		"assigned_users":       []string{"owner", "member"},
		"assigned_departments": []string{"calidad"},
	}, headers)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	return decode[domain.Project](t, data)
}

func TestHealthAndAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", decode[errorEnvelope](t, data).Error.Code)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", decode[errorEnvelope](t, data).Error.Code)
}

func TestDevLoginAndMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{"uid": "ana"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	login := decode[DevLoginResponse](t, data)
	require.NotEmpty(t, login.Token)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	me := decode[MeResponse](t, data)
	assert.Equal(t, "ana", me.UID)
	assert.Equal(t, domain.RoleUser, me.Role)

	// The stored profile wins over the token's role claim.
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, srv.token(t, "admin", domain.RoleUser))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, domain.RoleAdmin, decode[MeResponse](t, data).Role)
}

func TestActionLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	owner := srv.token(t, "owner", domain.RoleUser)
	p := createProject(t, srv, owner)
	base := srv.URL + "/v1/projects/" + p.ID + "/actions"

	res, data := doJSON(t, srv.Client(), http.MethodPost, base, map[string]any{"action": "Calibrate gauges", "assigned_users": []string{"member"}}, owner)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	created := decode[CreatedAction](t, data)
	assert.Equal(t, 1, created.SeqID)
	assert.Equal(t, "pendiente", created.Action.Status)
	assert.Empty(t, created.Action.StartDate)

	res, data = doJSON(t, srv.Client(), http.MethodPut, base+"/"+created.ID+"/status", map[string]any{"status": "en_curso"}, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, testToday, decode[domain.Action](t, data).StartDate)

	res, data = doJSON(t, srv.Client(), http.MethodPatch, base+"/"+created.ID, map[string]any{
		"status":          "finalizado",
		"actual_end_date": "2024-03-01",
		"priority":        true,
	}, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	updated := decode[domain.Action](t, data)
	assert.Equal(t, "2024-03-01", updated.ActualEndDate)
	assert.True(t, updated.Priority)
	assert.Equal(t, []string{"member"}, updated.AssignedUsers)

	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/"+created.ID+"/subactions", map[string]any{"title": "Order weights"}, owner)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	withSub := decode[domain.Action](t, data)
	require.Len(t, withSub.Subactions, 1)
	subURL := base + "/" + created.ID + "/subactions/" + withSub.Subactions[0].ID
	res, data = doJSON(t, srv.Client(), http.MethodPatch, subURL, map[string]any{"status": "en_curso"}, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, testToday, decode[domain.Action](t, data).Subactions[0].StartDate)
	res, data = doJSON(t, srv.Client(), http.MethodDelete, subURL, nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Empty(t, decode[domain.Action](t, data).Subactions)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/actions?statuses=finalizado,en_curso&users=member", nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Len(t, decode[ListResponse[domain.Action]](t, data).Items, 1)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects/"+p.ID+"/progress", nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, 100, decode[engine.ProjectProgressView](t, data).Progress)

	res, data = doJSON(t, srv.Client(), http.MethodPost, base, map[string]any{"action": "   "}, owner)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "bad_request", decode[errorEnvelope](t, data).Error.Code)

	res, data = doJSON(t, srv.Client(), http.MethodPut, base+"/"+created.ID+"/status", map[string]any{"status": "nope"}, owner)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	stranger := srv.token(t, "stranger", domain.RoleUser)
	res, data = doJSON(t, srv.Client(), http.MethodGet, base+"/"+created.ID, nil, stranger)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "forbidden", decode[errorEnvelope](t, data).Error.Code)

	res, _ = doJSON(t, srv.Client(), http.MethodDelete, base+"/"+created.ID, nil, owner)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res, data = doJSON(t, srv.Client(), http.MethodPost, base, map[string]any{"action": "Next"}, owner)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	assert.Equal(t, 2, decode[CreatedAction](t, data).SeqID)
}

func TestProjectArchiveAndDelete(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	owner := srv.token(t, "owner", domain.RoleUser)
	p := createProject(t, srv, owner)
	projectURL := srv.URL + "/v1/projects/" + p.ID

	res, data := doJSON(t, srv.Client(), http.MethodPost, projectURL+"/archive", nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.True(t, decode[domain.Project](t, data).Archived)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects", nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, decode[ListResponse[domain.Project]](t, data).Items)
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects?archived=only", nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, decode[ListResponse[domain.Project]](t, data).Items, 1)

	res, _ = doJSON(t, srv.Client(), http.MethodPost, projectURL+"/restore", nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, _ = doJSON(t, srv.Client(), http.MethodDelete, projectURL, nil, srv.token(t, "member", domain.RoleUser))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	res, _ = doJSON(t, srv.Client(), http.MethodDelete, projectURL, nil, owner)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res, data = doJSON(t, srv.Client(), http.MethodGet, projectURL, nil, owner)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", decode[errorEnvelope](t, data).Error.Code)
}

func TestCatalogAdminGate(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	list := map[string]any{"statuses": []map[string]any{
		{"id": "abierta", "label": "Abierta", "color": "#ff0000", "type": "none"},
		{"id": "cerrada", "label": "Cerrada", "color": "#00ff00", "type": "end"},
	}}

	res, _ := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/statuses", list, srv.token(t, "owner", domain.RoleUser))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	admin := srv.token(t, "admin", domain.RoleAdmin)
	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/statuses", list, admin)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Len(t, decode[ListResponse[domain.StatusDef]](t, data).Items, 2)

	res, _ = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/statuses", map[string]any{"statuses": []map[string]any{}}, admin)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/users/owner", map[string]any{"display_name": "Olga", "role": "admin"}, srv.token(t, "owner", domain.RoleUser))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, domain.RoleUser, decode[domain.UserProfile](t, data).Role)
}

func TestPreferencesAndCalendar(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	owner := srv.token(t, "owner", domain.RoleUser)
	p := createProject(t, srv, owner)
	for _, body := range []map[string]any{
		{"action": "mine", "assigned_users": []string{"owner"}, "start_date": "2024-03-05"},
		{"action": "theirs", "assigned_users": []string{"member"}, "start_date": "2024-03-05"},
	} {
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects/"+p.ID+"/actions", body, owner)
		require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/preferences/calendar", nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	pref := decode[preferenceResponse](t, data)
	assert.False(t, pref.Saved)
	assert.Equal(t, []string{"owner"}, pref.Criteria.Users)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/views/calendar?year=2024&month=3", nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Len(t, decode[engine.CalendarView](t, data).Calendar.Day("2024-03-05"), 1)

	res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/preferences/calendar", map[string]any{
		"filters": map[string]any{"statuses": []string{"pendiente"}},
	}, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/views/calendar?year=2024&month=3", nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Len(t, decode[engine.CalendarView](t, data).Calendar.Day("2024-03-05"), 2)

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/preferences/bogus", nil, owner)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	owner := srv.token(t, "owner", domain.RoleUser)
	p := createProject(t, srv, owner)
	doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects/"+p.ID+"/actions", map[string]any{"action": "one"}, owner)

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/events", nil, owner)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/events?project_id="+p.ID+"&limit=1", nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	page := decode[paginatedEvents](t, data)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "action.created", page.Items[0].Type)
	require.NotEmpty(t, page.NextCursor)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/events?project_id="+p.ID+"&limit=1&cursor="+page.NextCursor, nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	page = decode[paginatedEvents](t, data)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "project.created", page.Items[0].Type)
}

func TestSubscribeStreamsSnapshots(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	owner := srv.token(t, "owner", domain.RoleUser)
	p := createProject(t, srv, owner)
	doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects/"+p.ID+"/actions", map[string]any{"action": "one"}, owner)

	tok, err := SignToken(testSecret, "owner", domain.RoleUser, time.Hour, time.Now())
	require.NoError(t, err)
	q := url.Values{"kind": {"actions"}, "scope": {p.ID}, "access_token": {tok}}
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr+"/v1/subscribe?"+q.Encode(), nil)
	require.NoError(t, err)
	defer conn.Close()

	type frame struct {
		State string          `json:"state"`
		Items []domain.Action `json:"items"`
	}
	read := func() frame {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		return f
	}
	first := read()
	assert.Equal(t, "loading", first.State)
	assert.Empty(t, first.Items)
	second := read()
	assert.Equal(t, "ready", second.State)
	assert.Len(t, second.Items, 1)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects/"+p.ID+"/actions", map[string]any{"action": "two"}, owner)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	for {
		f := read()
		assert.Equal(t, "ready", f.State)
		if len(f.Items) == 2 {
			break
		}
	}

	stranger, err := SignToken(testSecret, "stranger", domain.RoleUser, time.Hour, time.Now())
	require.NoError(t, err)
	q.Set("access_token", stranger)
	_, resp, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr+"/v1/subscribe?"+q.Encode(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebhookDispatcherDeliversNewEvents(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	var (
		mu    sync.Mutex
		got   []string
		heads []http.Header
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		got = append(got, evt.Type)
		heads = append(heads, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	ctx := context.Background()
	owner := auth.Principal{UID: "owner", Role: domain.RoleUser}
	e := srv.WS.Engine
	_, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
		Title: "old", AssignedUsers: []string{"owner"}, AssignedDepartments: []string{"calidad"}, Actor: owner,
	})
	require.NoError(t, err)

	d := NewWebhookDispatcher(srv.WS.Repo, []config.WebhookConfig{{URL: hook.URL, Secret: "s3", Events: []string{"action.*"}}}, log.New(io.Discard))
	d.DispatchAll(ctx)
	mu.Lock()
	assert.Empty(t, got, "history before the first dispatch is skipped")
	mu.Unlock()

	p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
		Title: "new", AssignedUsers: []string{"owner"}, AssignedDepartments: []string{"calidad"}, Actor: owner,
	})
	require.NoError(t, err)
	_, err = e.CreateAction(ctx, engine.ActionCreateOptions{ProjectID: p.ID, Action: "a", Actor: owner})
	require.NoError(t, err)
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"action.created"}, got)
	require.Len(t, heads, 1)
	assert.Equal(t, "s3", heads[0].Get("X-Pdca-Secret"))
	assert.NotEmpty(t, heads[0].Get("X-Pdca-Delivery"))
}

func TestEventFilterFamilies(t *testing.T) {
	f := newEventFilter([]string{"action.*", "project.deleted"})
	assert.True(t, f.match("action.status_changed"))
	assert.True(t, f.match("project.deleted"))
	assert.False(t, f.match("project.created"))
	assert.True(t, newEventFilter(nil).match("anything"))
}
