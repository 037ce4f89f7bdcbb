package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	mp "github.com/dukex/mixpanel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analytical/internal/analytics"
	"analytical/internal/audit"
	"analytical/internal/auth"
	"analytical/internal/metrics"
	"analytical/internal/mixpanel"
)

type providerCall struct {
	op    string
	name  string
	props analytics.Properties
	extra any
}

type recordingProvider struct {
	mu    sync.Mutex
	calls []providerCall
}

func (p *recordingProvider) add(c providerCall) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, c)
}

func (p *recordingProvider) only(t *testing.T) providerCall {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.calls, 1)
	return p.calls[0]
}

func (p *recordingProvider) Name() string { return "recording" }

func (p *recordingProvider) Setup(_ context.Context, c analytics.Properties) {
	p.add(providerCall{op: "setup", props: c})
}

func (p *recordingProvider) Flush(context.Context) { p.add(providerCall{op: "flush"}) }
func (p *recordingProvider) Reset(context.Context) { p.add(providerCall{op: "reset"}) }

func (p *recordingProvider) Event(_ context.Context, name string, props analytics.Properties) {
	p.add(providerCall{op: "event", name: name, props: props})
}

func (p *recordingProvider) Screen(_ context.Context, name string, props analytics.Properties) {
	p.add(providerCall{op: "screen", name: name, props: props})
}

func (p *recordingProvider) Time(_ context.Context, name string, props analytics.Properties) {
	p.add(providerCall{op: "time", name: name, props: props})
}

func (p *recordingProvider) Finish(_ context.Context, name string, props analytics.Properties) {
	p.add(providerCall{op: "finish", name: name, props: props})
}

func (p *recordingProvider) Identify(_ context.Context, userID string, props analytics.Properties) {
	p.add(providerCall{op: "identify", name: userID, props: props})
}

func (p *recordingProvider) Alias(_ context.Context, userID string, forID string) {
	p.add(providerCall{op: "alias", name: userID, extra: forID})
}

func (p *recordingProvider) Set(_ context.Context, props analytics.Properties) {
	p.add(providerCall{op: "set", props: props})
}

func (p *recordingProvider) Increment(_ context.Context, property string, by float64) {
	p.add(providerCall{op: "increment", name: property, extra: by})
}

func (p *recordingProvider) Global(_ context.Context, props analytics.Properties, overwrite bool) {
	p.add(providerCall{op: "global", props: props, extra: overwrite})
}

func (p *recordingProvider) Purchase(_ context.Context, amount float64, props analytics.Properties) {
	p.add(providerCall{op: "purchase", props: props, extra: amount})
}

func (p *recordingProvider) AddDevice(_ context.Context, token []byte) {
	p.add(providerCall{op: "add_device", extra: token})
}

func (p *recordingProvider) Push(_ context.Context, payload map[string]any, event string) {
	p.add(providerCall{op: "push", name: event, props: payload})
}

type memoryAudit struct {
	mu     sync.Mutex
	events []audit.Event
	err    error
}

func (a *memoryAudit) Record(_ context.Context, event audit.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.events = append(a.events, event)
	return nil
}

func (a *memoryAudit) ListByUser(_ context.Context, userID string, _ int) ([]audit.EventRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []audit.EventRecord
	for _, e := range a.events {
		if e.UserID == userID || e.ForID == userID {
			out = append(out, audit.EventRecord{Action: e.Action, UserID: e.UserID, ForID: e.ForID, Providers: e.Providers})
		}
	}
	return out, nil
}

const (
	testDistinctID = "anon-1"
	testAdminToken = "admin-secret"
)

type testServer struct {
	handler  http.Handler
	sessions *analytics.Sessions
	audit    *memoryAudit
	metrics  *metrics.Recorder

	mu        sync.Mutex
	providers map[string]*recordingProvider
}

func newTestServer(t *testing.T, opts ...ServerOption) *testServer {
	t.Helper()

	ts := &testServer{
		audit:     &memoryAudit{},
		metrics:   metrics.New(),
		providers: map[string]*recordingProvider{},
	}
	sessions, err := analytics.NewSessions("recording", 0, func(sessionID string) analytics.Provider {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		p := &recordingProvider{}
		ts.providers[sessionID] = p
		return p
	})
	require.NoError(t, err)
	ts.sessions = sessions

	opts = append([]ServerOption{
		WithAudit(ts.audit),
		WithMetrics(ts.metrics),
		WithAdminAuth(auth.NewStaticToken(testAdminToken)),
	}, opts...)
	ts.handler = NewServer("analytical-relay", "test", "v0", sessions, opts...).Handler()
	return ts
}

// provider returns the provider of the default test session, creating it if needed.
func (ts *testServer) provider() *recordingProvider {
	return ts.providerFor(testDistinctID)
}

func (ts *testServer) providerFor(distinctID string) *recordingProvider {
	ts.sessions.Get(context.Background(), distinctID)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.providers[distinctID]
}

// do sends a request as the default session with the admin token.
func (ts *testServer) do(method string, path string, body string) *httptest.ResponseRecorder {
	return ts.doWith(method, path, body, map[string]string{
		DistinctIDHeader: testDistinctID,
		"Authorization":  "Bearer " + testAdminToken,
	})
}

func (ts *testServer) doWith(method string, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestOperationsAreForwarded(t *testing.T) {
	cases := []struct {
		path string
		body string
		want providerCall
	}{
		{
			path: "/api/v1/event",
			body: `{"name":"signup","properties":{"seats":3,"ratio":0.5,"tags":["a"],"nested":{"n":1}}}`,
			want: providerCall{op: "event", name: "signup", props: analytics.Properties{
				"seats":  int64(3),
				"ratio":  0.5,
				"tags":   []any{"a"},
				"nested": map[string]any{"n": int64(1)},
			}},
		},
		{
			path: "/api/v1/screen",
			body: `{"name":"home"}`,
			want: providerCall{op: "screen", name: "home"},
		},
		{
			path: "/api/v1/time",
			body: `{"name":"upload","properties":{"size":1}}`,
			want: providerCall{op: "time", name: "upload", props: analytics.Properties{"size": int64(1)}},
		},
		{
			path: "/api/v1/finish",
			body: `{"name":"upload"}`,
			want: providerCall{op: "finish", name: "upload"},
		},
		{
			path: "/api/v1/set",
			body: `{"properties":{"email":"a@b.c"}}`,
			want: providerCall{op: "set", props: analytics.Properties{"email": "a@b.c"}},
		},
		{
			path: "/api/v1/global",
			body: `{"properties":{"plan":"pro"},"overwrite":true}`,
			want: providerCall{op: "global", props: analytics.Properties{"plan": "pro"}, extra: true},
		},
		{
			path: "/api/v1/increment",
			body: `{"property":"logins"}`,
			want: providerCall{op: "increment", name: "logins", extra: 1.0},
		},
		{
			path: "/api/v1/increment",
			body: `{"property":"credits","by":-2.5}`,
			want: providerCall{op: "increment", name: "credits", extra: -2.5},
		},
		{
			path: "/api/v1/purchase",
			body: `{"amount":9.99,"properties":{"sku":"pro"}}`,
			want: providerCall{op: "purchase", props: analytics.Properties{"sku": "pro"}, extra: 9.99},
		},
		{
			path: "/api/v1/devices",
			body: `{"token":"deadbeef"}`,
			want: providerCall{op: "add_device", extra: []byte{0xde, 0xad, 0xbe, 0xef}},
		},
		{
			path: "/api/v1/push",
			body: `{"payload":{"mp":{"c":1,"m":2}}}`,
			want: providerCall{op: "push", props: analytics.Properties{"mp": map[string]any{"c": int64(1), "m": int64(2)}}},
		},
		{
			path: "/api/v1/push",
			body: `{"payload":{},"event":"$app_open"}`,
			want: providerCall{op: "push", name: "$app_open", props: analytics.Properties{}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			ts := newTestServer(t)
			rec := ts.do(http.MethodPost, tc.path, tc.body)

			assert.Equal(t, http.StatusAccepted, rec.Code)
			assert.Equal(t, map[string]any{"status": "accepted"}, decode(t, rec))
			assert.Equal(t, tc.want, ts.provider().only(t))
		})
	}
}

func TestIdentityOperationsAreAudited(t *testing.T) {
	ts := newTestServer(t)

	require.Equal(t, http.StatusAccepted, ts.do(http.MethodPost, "/api/v1/identify", `{"user_id":"anon-1"}`).Code)
	require.Equal(t, http.StatusAccepted, ts.do(http.MethodPost, "/api/v1/alias", `{"user_id":"anon-1","for_id":"user-1"}`).Code)
	require.Equal(t, http.StatusAccepted, ts.do(http.MethodPost, "/api/v1/reset", "").Code)

	assert.Equal(t, []providerCall{
		{op: "identify", name: "anon-1"},
		{op: "alias", name: "anon-1", extra: "user-1"},
		{op: "reset"},
	}, ts.provider().calls)

	require.Len(t, ts.audit.events, 3)
	assert.Equal(t, audit.ActionIdentify, ts.audit.events[0].Action)
	assert.Equal(t, audit.ActionAlias, ts.audit.events[1].Action)
	assert.Equal(t, "user-1", ts.audit.events[1].ForID)
	assert.Equal(t, "recording", ts.audit.events[1].Providers)
	assert.Equal(t, testDistinctID, ts.audit.events[1].Data["distinct_id"])
	assert.Equal(t, audit.ActionReset, ts.audit.events[2].Action)
	assert.Equal(t, testDistinctID, ts.audit.events[2].UserID)

	rec := ts.do(http.MethodGet, "/api/v1/audit/events?user_id=user-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	events := decode(t, rec)["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "alias", events[0].(map[string]any)["action"])
}

func TestIdentifyWithProperties(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPost, "/api/v1/identify", `{"user_id":"u","properties":{"name":"Ada"}}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, providerCall{op: "identify", name: "u", props: analytics.Properties{"name": "Ada"}}, ts.provider().only(t))
}

func TestAuditFailureDoesNotFailTheCall(t *testing.T) {
	ts := newTestServer(t)
	ts.audit.err = errors.New("db down")

	rec := ts.do(http.MethodPost, "/api/v1/alias", `{"user_id":"a","for_id":"b"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, ts.provider().calls, 1)
}

func TestInvalidRequests(t *testing.T) {
	cases := []struct {
		path string
		body string
		code string
	}{
		{"/api/v1/event", `{`, "invalid_request_body"},
		{"/api/v1/event", ``, "invalid_request_body"},
		{"/api/v1/event", `{"properties":{}}`, "missing_name"},
		{"/api/v1/screen", `{"name":"  "}`, "missing_name"},
		{"/api/v1/time", `[]`, "invalid_request_body"},
		{"/api/v1/finish", `{"name":1}`, "invalid_request_body"},
		{"/api/v1/identify", `{}`, "missing_user_id"},
		{"/api/v1/alias", `{"user_id":"a"}`, "missing_user_id"},
		{"/api/v1/set", `{}`, "missing_properties"},
		{"/api/v1/global", `{"overwrite":true}`, "missing_properties"},
		{"/api/v1/increment", `{"by":1}`, "missing_property"},
		{"/api/v1/purchase", `{"properties":{}}`, "missing_amount"},
		{"/api/v1/devices", `{"token":"xyz"}`, "invalid_device_token"},
		{"/api/v1/devices", `{}`, "invalid_device_token"},
		{"/api/v1/push", `{"event":"x"}`, "missing_payload"},
		{"/api/v1/setup", `"tok"`, "invalid_request_body"},
	}

	for _, tc := range cases {
		t.Run(tc.path+" "+tc.body, func(t *testing.T) {
			ts := newTestServer(t)
			rec := ts.do(http.MethodPost, tc.path, tc.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, map[string]any{"error": tc.code}, decode(t, rec))
			assert.Empty(t, ts.provider().calls)
			assert.Empty(t, ts.audit.events)
		})
	}
}

func TestAcceptedCallsAreCounted(t *testing.T) {
	ts := newTestServer(t)
	ts.do(http.MethodPost, "/api/v1/event", `{"name":"a"}`)
	ts.do(http.MethodPost, "/api/v1/event", `{"name":"b"}`)
	ts.do(http.MethodPost, "/api/v1/event", `{}`)

	rec := ts.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `analytical_calls_total{operation="event",provider="recording"} 2`)
}

func TestHealthAndReadiness(t *testing.T) {
	t.Run("healthz", func(t *testing.T) {
		rec := newTestServer(t).do(http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, map[string]any{"status": "ok"}, decode(t, rec))
	})

	t.Run("ready without checks", func(t *testing.T) {
		rec := newTestServer(t).do(http.MethodGet, "/readyz", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("failing check", func(t *testing.T) {
		ts := newTestServer(t,
			WithReadinessCheck("redis", func(context.Context) error { return nil }),
			WithReadinessCheck("postgres", func(context.Context) error { return errors.New("down") }),
		)
		rec := ts.do(http.MethodGet, "/readyz", "")

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, map[string]any{"status": "not_ready", "reason": "postgres_unreachable"}, decode(t, rec))
	})

	t.Run("meta names the providers", func(t *testing.T) {
		rec := newTestServer(t).do(http.MethodGet, "/api/v1/meta", "")
		body := decode(t, rec)

		assert.Equal(t, "analytical-relay", body["app"])
		assert.Equal(t, "recording", body["providers"])
	})
}

func TestAuditEventsRequiresReader(t *testing.T) {
	handler := NewServer("analytical-relay", "test", "v0", nil, WithAdminAuth(auth.NewStaticToken(testAdminToken))).Handler()

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+testAdminToken)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusServiceUnavailable, get("/api/v1/audit/events?user_id=u").Code)
	assert.Equal(t, http.StatusBadRequest, get("/api/v1/audit/events").Code)
}

func TestAdministrativeRoutes(t *testing.T) {
	routes := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPost, "/api/v1/setup", `{"configuration":{"ApiToken":"other-project"}}`},
		{http.MethodPost, "/api/v1/flush", ""},
		{http.MethodGet, "/api/v1/audit/events?user_id=anon-1", ""},
	}

	for _, route := range routes {
		t.Run(route.path, func(t *testing.T) {
			ts := newTestServer(t)
			live := ts.provider()

			rec := ts.doWith(route.method, route.path, route.body, nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, map[string]any{"error": "missing_or_invalid_token"}, decode(t, rec))

			rec = ts.doWith(route.method, route.path, route.body, map[string]string{"Authorization": "Bearer wrong"})
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, map[string]any{"error": "authentication_failed"}, decode(t, rec))

			assert.Empty(t, live.calls)
		})
	}

	t.Run("not configured", func(t *testing.T) {
		handler := NewServer("analytical-relay", "test", "v0", nil).Handler()
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/setup", strings.NewReader(`{}`))
		req.Header.Set("Authorization", "Bearer "+testAdminToken)
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, map[string]any{"error": "auth_not_configured"}, decode(t, rec))
	})

	t.Run("setup and flush reach every session", func(t *testing.T) {
		ts := newTestServer(t)
		alice := ts.providerFor("alice")

		require.Equal(t, http.StatusAccepted, ts.do(http.MethodPost, "/api/v1/setup", `{"configuration":{"ApiToken":"tok"}}`).Code)
		require.Equal(t, http.StatusAccepted, ts.do(http.MethodPost, "/api/v1/flush", "").Code)

		assert.Equal(t, []providerCall{
			{op: "flush"},
			{op: "setup", props: analytics.Properties{"ApiToken": "tok"}},
			{op: "flush"},
		}, alice.calls)

		bob := ts.providerFor("bob")
		assert.Equal(t, []providerCall{{op: "setup", props: analytics.Properties{"ApiToken": "tok"}}}, bob.calls)
	})
}

func TestSessionIsRequired(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.doWith(http.MethodPost, "/api/v1/event", `{"name":"a"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"error": "missing_distinct_id"}, decode(t, rec))

	rec = ts.doWith(http.MethodPost, "/api/v1/event", `{"name":"a"}`, map[string]string{
		DistinctIDHeader: strings.Repeat("x", maxDistinctIDLength+1),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"error": "invalid_distinct_id"}, decode(t, rec))

	assert.Equal(t, 0, ts.sessions.Len())
}

type sentTrack struct {
	distinctID string
	event      string
}

type trackingSender struct {
	mu     sync.Mutex
	tracks []sentTrack
}

func (s *trackingSender) Track(distinctID string, eventName string, _ *mp.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, sentTrack{distinctID: distinctID, event: eventName})
	return nil
}

func (s *trackingSender) Update(string, *mp.Update) error { return nil }
func (s *trackingSender) Alias(string, string) error      { return nil }

func TestInterleavedCallersKeepTheirIdentity(t *testing.T) {
	sender := &trackingSender{}
	store := mixpanel.NewMemoryStore()
	sessions, err := analytics.NewSessions("mixpanel", 0, func(sessionID string) analytics.Provider {
		return analytics.NewMixpanel("tok", analytics.WithMixpanelClientOptions(
			mixpanel.WithSender(sender),
			mixpanel.WithStore(store),
			mixpanel.WithSession(sessionID),
		))
	})
	require.NoError(t, err)
	handler := NewServer("analytical-relay", "test", "v0", sessions).Handler()

	call := func(device string, path string, body string) {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set(DistinctIDHeader, device)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	call("device-a", "/api/v1/identify", `{"user_id":"alice"}`)
	call("device-b", "/api/v1/identify", `{"user_id":"bob"}`)
	call("device-a", "/api/v1/event", `{"name":"alice_checkout"}`)
	call("device-c", "/api/v1/event", `{"name":"anonymous_visit"}`)
	call("device-b", "/api/v1/event", `{"name":"bob_checkout"}`)

	assert.Equal(t, []sentTrack{
		{distinctID: "alice", event: "alice_checkout"},
		{distinctID: "device-c", event: "anonymous_visit"},
		{distinctID: "bob", event: "bob_checkout"},
	}, sender.tracks)
}

func TestCORSPreflight(t *testing.T) {
	rec := newTestServer(t).do(http.MethodOptions, "/api/v1/event", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestNormalize(t *testing.T) {
	got := normalize(map[string]any{
		"int":   json.Number("12"),
		"float": json.Number("1.25"),
		"big":   json.Number("1e400"),
		"list":  []any{json.Number("1"), "x"},
	})

	assert.Equal(t, int64(12), got["int"])
	assert.Equal(t, 1.25, got["float"])
	assert.Equal(t, "1e400", got["big"])
	assert.Equal(t, []any{int64(1), "x"}, got["list"])
	assert.Nil(t, normalize(nil))
}
