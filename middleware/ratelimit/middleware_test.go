package ratelimit

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"middleware-guard/middleware/ratelimit/application"
	"middleware-guard/middleware/ratelimit/domain"
	"middleware-guard/middleware/ratelimit/identity"
	"middleware-guard/middleware/ratelimit/infra"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	store  *infra.MemoryStore
	hasher *identity.Hasher
	stats  *infra.MemoryStatsStore
	now    time.Time
	opts   Options
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:  infra.NewMemoryStore(),
		hasher: identity.NewHasher(identity.WithSalt("test-salt"), identity.WithRotation(false)),
		stats:  infra.NewMemoryStatsStore(),
		now:    t0,
	}
	clock := func() time.Time { return env.now }

	svc := application.NewService(env.store)
	svc.Now = clock

	policies := application.DefaultPolicies()
	policies.Endpoints[domain.EndpointLogin] = domain.Policy{Limit: 2, Window: time.Minute}

	env.opts = Options{
		Service:  svc,
		Policies: policies,
		Hasher:   env.hasher,
		Stats:    env.stats,
		Now:      clock,
	}
	return env
}

func okHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
}

func doRequest(h http.Handler, method, ip string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, "http://example/login", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	if ip != "" {
		r.Header.Set("X-Forwarded-For", ip)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestMiddleware_AllowsThenRejectsSameKey(t *testing.T) {
	env := newTestEnv()
	calls := 0
	h := Middleware(env.opts, Route{Endpoint: domain.EndpointLogin})(okHandler(&calls))

	w1 := doRequest(h, http.MethodPost, "203.0.113.7")
	if w1.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w1.Code)
	}
	if got := w1.Header().Get(HeaderRateLimit); got != "2" {
		t.Fatalf("expected X-RateLimit-Limit=2, got %q", got)
	}
	if got := w1.Header().Get(HeaderRateRemaining); got != "1" {
		t.Fatalf("expected X-RateLimit-Remaining=1, got %q", got)
	}
	if got := w1.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected hardening headers, got X-Frame-Options=%q", got)
	}

	_ = doRequest(h, http.MethodPost, "203.0.113.7")

	w3 := doRequest(h, http.MethodPost, "203.0.113.7")
	if w3.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w3.Code)
	}
	if got := w3.Header().Get(HeaderRetryAfter); got != "60" {
		t.Fatalf("expected Retry-After=60, got %q", got)
	}
	if got := w3.Header().Get(HeaderRateReset); got != "2026-03-01T12:01:00.000Z" {
		t.Fatalf("unexpected X-RateLimit-Reset %q", got)
	}
	if got := w3.Header().Get(HeaderRateReason); got != "" {
		t.Fatalf("expected no reason header for plain denial, got %q", got)
	}
	body := decodeError(t, w3)
	if body.Error != CodeRateLimitExceeded || body.RetryAfter == nil || *body.RetryAfter != 60 {
		t.Fatalf("unexpected 429 body: %+v", body)
	}

	if calls != 2 {
		t.Fatalf("expected next handler to be called twice, got %d", calls)
	}

	total := env.stats.Total()
	if total.Allowed != 2 || total.Denied != 1 {
		t.Fatalf("unexpected stats: %+v", total)
	}
}

func TestMiddleware_WindowSlidesWithClock(t *testing.T) {
	env := newTestEnv()
	calls := 0
	h := Middleware(env.opts, Route{Endpoint: domain.EndpointLogin})(okHandler(&calls))

	_ = doRequest(h, http.MethodPost, "203.0.113.7")
	_ = doRequest(h, http.MethodPost, "203.0.113.7")
	if w := doRequest(h, http.MethodPost, "203.0.113.7"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}

	env.now = t0.Add(time.Minute)
	if w := doRequest(h, http.MethodPost, "203.0.113.7"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 after window, got %d", w.Code)
	}
}

func TestMiddleware_MethodNotAllowedSkipsRateLimit(t *testing.T) {
	env := newTestEnv()
	calls := 0
	h := Middleware(env.opts, Route{Endpoint: domain.EndpointLogin, Methods: []string{"post"}})(okHandler(&calls))

	w := doRequest(h, http.MethodGet, "203.0.113.7")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
	if got := w.Header().Get("Allow"); got != "POST" {
		t.Fatalf("expected Allow=POST, got %q", got)
	}
	if got := w.Header().Get(HeaderRateLimit); got != "" {
		t.Fatalf("expected no rate headers on 405, got %q", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected hardening headers on 405, got %q", got)
	}
	if body := decodeError(t, w); body.Error != CodeMethodNotAllowed {
		t.Fatalf("unexpected body: %+v", body)
	}

	w = doRequest(h, http.MethodPost, "203.0.113.7")
	if got := w.Header().Get(HeaderRateRemaining); got != "1" {
		t.Fatalf("405 must not consume quota, remaining=%q", got)
	}
	if calls != 1 {
		t.Fatalf("expected one handler call, got %d", calls)
	}
}

func TestMiddleware_RequireAuth(t *testing.T) {
	env := newTestEnv()
	env.opts.Auth = func(r *http.Request) bool { return r.Header.Get("Authorization") != "" }
	calls := 0
	h := Middleware(env.opts, Route{Endpoint: domain.EndpointUpload, RequireAuth: true})(okHandler(&calls))

	w := doRequest(h, http.MethodPost, "203.0.113.7")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if got := w.Header().Get(HeaderRateRemaining); got != "9" {
		t.Fatalf("expected rate headers on 401, remaining=%q", got)
	}
	if body := decodeError(t, w); body.Error != CodeUnauthorized {
		t.Fatalf("unexpected body: %+v", body)
	}

	r := httptest.NewRequest(http.MethodPost, "http://example/upload", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7")
	r.Header.Set("Authorization", "Bearer x")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with auth, got %d", w.Code)
	}
	if calls != 1 {
		t.Fatalf("expected one handler call, got %d", calls)
	}
}

func TestMiddleware_RequireAuthWithoutAuthFuncDenies(t *testing.T) {
	env := newTestEnv()
	calls := 0
	h := Middleware(env.opts, Route{RequireAuth: true})(okHandler(&calls))

	if w := doRequest(h, http.MethodGet, "203.0.113.7"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if calls != 0 {
		t.Fatalf("handler must not run, got %d calls", calls)
	}
}

func TestMiddleware_PanicBecomes500WithIncidentID(t *testing.T) {
	env := newTestEnv()
	core, logs := observer.New(zap.ErrorLevel)
	env.opts.Logger = zap.New(core)

	h := Middleware(env.opts, Route{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := doRequest(h, http.MethodGet, "203.0.113.7")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	id := w.Header().Get(HeaderRequestID)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("expected uuid incident id, got %q", id)
	}
	if body := decodeError(t, w); body.Error != CodeInternal {
		t.Fatalf("unexpected body: %+v", body)
	}

	entries := logs.FilterMessage("handler panic").All()
	if len(entries) != 1 {
		t.Fatalf("expected one panic log, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["incident"]; got != id {
		t.Fatalf("expected incident %q in log, got %v", id, got)
	}
}

func TestMiddleware_AbortHandlerPanicPropagates(t *testing.T) {
	env := newTestEnv()
	h := Middleware(env.opts, Route{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if p := recover(); p != http.ErrAbortHandler {
			t.Fatalf("expected ErrAbortHandler to propagate, got %v", p)
		}
	}()
	_ = doRequest(h, http.MethodGet, "203.0.113.7")
}

func TestMiddleware_RateHeadersSurviveHandlerOverride(t *testing.T) {
	env := newTestEnv()
	h := Middleware(env.opts, Route{Endpoint: domain.EndpointLogin})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderRateRemaining, "999")
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "ok")
	}))

	w := doRequest(h, http.MethodPost, "203.0.113.7")
	if got := w.Header().Get(HeaderRateRemaining); got != "1" {
		t.Fatalf("expected injected remaining=1, got %q", got)
	}
	if got := w.Header().Get("Content-Type"); got != "text/plain" {
		t.Fatalf("handler headers must be kept, got %q", got)
	}
}

func TestMiddleware_KeyByHeader(t *testing.T) {
	env := newTestEnv()
	env.opts.KeyHeader = "X-Api-Key"
	env.opts.Policies.Endpoints[domain.EndpointLogin] = domain.Policy{Limit: 1, Window: time.Minute}
	calls := 0
	h := Middleware(env.opts, Route{Endpoint: domain.EndpointLogin})(okHandler(&calls))

	// duas chaves diferentes => ambas devem passar (cada chave tem seu próprio histórico)
	for _, k := range []string{"k1", "k2"} {
		r := httptest.NewRequest(http.MethodPost, "http://example/login", nil)
		r.Header.Set("X-Api-Key", k)
		r.Header.Set("X-Forwarded-For", "203.0.113.7")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 for key %s, got %d", k, w.Code)
		}
	}
}

func TestMiddleware_UnknownClientsShareBucket(t *testing.T) {
	env := newTestEnv()
	calls := 0
	h := Middleware(env.opts, Route{Endpoint: domain.EndpointLogin})(okHandler(&calls))

	_ = doRequest(h, http.MethodPost, "")
	_ = doRequest(h, http.MethodPost, "")
	if w := doRequest(h, http.MethodPost, ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected clients without headers to share a bucket, got %d", w.Code)
	}
}

func TestMiddleware_HistoryIsPerEndpoint(t *testing.T) {
	env := newTestEnv()
	calls := 0
	login := Middleware(env.opts, Route{Endpoint: domain.EndpointLogin})(okHandler(&calls))
	generic := Middleware(env.opts, Route{})(okHandler(&calls))

	_ = doRequest(login, http.MethodPost, "203.0.113.7")
	_ = doRequest(login, http.MethodPost, "203.0.113.7")
	if w := doRequest(login, http.MethodPost, "203.0.113.7"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected login 429, got %d", w.Code)
	}
	if w := doRequest(generic, http.MethodGet, "203.0.113.7"); w.Code != http.StatusOK {
		t.Fatalf("generic route must keep its own quota, got %d", w.Code)
	}
}

func TestMiddleware_FlaggedKeyDeniedWithReason(t *testing.T) {
	env := newTestEnv()
	key := env.hasher.KeyAt("203.0.113.7", t0)
	env.store.Flag(key, domain.SuspiciousRecord{DetectedAt: t0.Add(-time.Hour), Reason: domain.ReasonBotLikePattern})

	calls := 0
	h := Middleware(env.opts, Route{})(okHandler(&calls))

	// GET 100/min escalado para 10: 9 passam, a 10ª é negada
	for i := 0; i < 9; i++ {
		if w := doRequest(h, http.MethodGet, "203.0.113.7"); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}
	w := doRequest(h, http.MethodGet, "203.0.113.7")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get(HeaderRateReason); got != string(domain.ReasonPreviouslyFlagged) {
		t.Fatalf("expected reason header, got %q", got)
	}
	if got := env.stats.Total().Suspicious; got == 0 {
		t.Fatalf("expected suspicious decisions in stats")
	}
}

func TestMiddleware_DenialLogsAreThrottled(t *testing.T) {
	env := newTestEnv()
	core, logs := observer.New(zap.WarnLevel)
	env.opts.Logger = zap.New(core)
	env.opts.DenyLogEvery = time.Hour
	env.opts.DenyLogBurst = 1
	calls := 0
	h := Middleware(env.opts, Route{Endpoint: domain.EndpointLogin})(okHandler(&calls))

	for i := 0; i < 6; i++ {
		_ = doRequest(h, http.MethodPost, "203.0.113.7")
	}

	if got := logs.FilterMessage("rate limit exceeded").Len(); got != 1 {
		t.Fatalf("expected 1 denial log, got %d", got)
	}
}

func TestMiddleware_NilStoreFailsOpen(t *testing.T) {
	calls := 0
	h := Middleware(Options{}, Route{Endpoint: domain.EndpointLogin})(okHandler(&calls))

	for i := 0; i < 10; i++ {
		if w := doRequest(h, http.MethodPost, "203.0.113.7"); w.Code != http.StatusOK {
			t.Fatalf("expected fail-open 200, got %d", w.Code)
		}
	}
}
