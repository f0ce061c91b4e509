package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/foodbridge/internal/config"
	"github.com/iliyamo/foodbridge/internal/model"
	"github.com/iliyamo/foodbridge/internal/utils"
)

const secret = "test-secret"

func token(t *testing.T, id string, role model.Role) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, id, string(role), 5)
	if err != nil {
		t.Fatalf("NewAccessToken: %v", err)
	}
	return tok.Token
}

// serve runs a request through mws and reports the status and the caller the
// final handler saw.
func serve(t *testing.T, req *http.Request, mws ...echo.MiddlewareFunc) (int, model.Caller) {
	t.Helper()
	e := echo.New()
	var seen model.Caller
	e.GET("/x", func(c echo.Context) error {
		seen, _ = CallerFrom(c)
		return c.NoContent(http.StatusOK)
	}, mws...)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec.Code, seen
}

func TestJWTAuthSources(t *testing.T) {
	fromCookie := httptest.NewRequest(http.MethodGet, "/x", nil)
	fromCookie.AddCookie(&http.Cookie{Name: AccessCookie, Value: token(t, "u1", model.RoleDonor)})
	fromHeader := httptest.NewRequest(http.MethodGet, "/x", nil)
	fromHeader.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, "u2", model.RoleVolunteer))

	cases := []struct {
		name string
		req  *http.Request
		want model.Caller
	}{
		{"cookie", fromCookie, model.Caller{ID: "u1", Role: model.RoleDonor}},
		{"bearer", fromHeader, model.Caller{ID: "u2", Role: model.RoleVolunteer}},
	}
	for _, tc := range cases {
		code, got := serve(t, tc.req, JWTAuth(secret))
		if code != http.StatusOK || got != tc.want {
			t.Fatalf("%s: got=%d %+v want=200 %+v", tc.name, code, got, tc.want)
		}
	}
}

func TestJWTAuthRejects(t *testing.T) {
	missing := httptest.NewRequest(http.MethodGet, "/x", nil)
	forged := httptest.NewRequest(http.MethodGet, "/x", nil)
	forged.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, "u1", "SUPERUSER"))
	wrongKey := httptest.NewRequest(http.MethodGet, "/x", nil)
	tok, _ := utils.NewAccessToken("other", "u1", "DONOR", 5)
	wrongKey.Header.Set(echo.HeaderAuthorization, "Bearer "+tok.Token)

	for name, req := range map[string]*http.Request{"missing": missing, "unknown role": forged, "wrong key": wrongKey} {
		if code, _ := serve(t, req, JWTAuth(secret)); code != http.StatusUnauthorized {
			t.Fatalf("%s: got=%d want=%d", name, code, http.StatusUnauthorized)
		}
	}
}

func TestRequireRole(t *testing.T) {
	req := func(role model.Role) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/x", nil)
		r.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, "u1", role))
		return r
	}
	mws := []echo.MiddlewareFunc{JWTAuth(secret), RequireRole(model.RoleVolunteer, model.RoleAdmin)}
	if code, _ := serve(t, req(model.RoleAdmin), mws...); code != http.StatusOK {
		t.Fatalf("admin: got=%d want=200", code)
	}
	if code, _ := serve(t, req(model.RoleDonor), mws...); code != http.StatusForbidden {
		t.Fatalf("donor: got=%d want=403", code)
	}
	if code, _ := serve(t, httptest.NewRequest(http.MethodGet, "/x", nil), RequireRole(model.RoleAdmin)); code != http.StatusUnauthorized {
		t.Fatalf("no caller: got=%d want=401", code)
	}
}

func newContext(target string, caller *model.Caller) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.1")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/donation/")
	if caller != nil {
		c.Set(CallerKey, *caller)
	}
	return c
}

func TestBuildRateKey(t *testing.T) {
	cfg := config.RateLimitConfig{Prefix: "fb:rl", KeyStrategy: "ip_user_route"}
	c := newContext("/donation/", &model.Caller{ID: "u1", Role: model.RoleDonor})
	if got, want := buildRateKey(cfg, c), "fb:rl:ip:10.0.0.1:user:u1:route:GET /donation/"; got != want {
		t.Fatalf("rate key: got=%q want=%q", got, want)
	}
	cfg.KeyStrategy = "user"
	if got := buildRateKey(cfg, newContext("/donation/", nil)); got != "fb:rl:user:anon" {
		t.Fatalf("anonymous rate key: got=%q", got)
	}
}

func TestCacheKeyGenerations(t *testing.T) {
	cfg := config.CacheConfig{Prefix: "fb:cache", KeyStrategy: "caller_route_query"}
	alice := &model.Caller{ID: "alice", Role: model.RoleVolunteer}
	bob := &model.Caller{ID: "bob", Role: model.RoleVolunteer}

	k1 := cacheKeyFrom(cfg, newContext("/donation/?status=AVAILABLE", alice), 1)
	if !strings.HasPrefix(k1, "fb:cache:1:") {
		t.Fatalf("key prefix: got=%q", k1)
	}
	if k1 != cacheKeyFrom(cfg, newContext("/donation/?status=AVAILABLE", alice), 1) {
		t.Fatalf("key not stable")
	}
	others := []string{
		cacheKeyFrom(cfg, newContext("/donation/?status=AVAILABLE", alice), 2),
		cacheKeyFrom(cfg, newContext("/donation/?status=AVAILABLE", bob), 1),
		cacheKeyFrom(cfg, newContext("/donation/?status=RESERVED", alice), 1),
	}
	for _, k := range others {
		if k == k1 {
			t.Fatalf("distinct requests share key %q", k)
		}
	}
}

func TestPayloadCodec(t *testing.T) {
	hdr := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"success":true}`))
	if err != nil {
		t.Fatalf("encodePayload: %v", err)
	}
	status, got, body, ok := decodePayload(bs)
	if !ok || status != http.StatusOK || got.Get("Content-Type") != "application/json" || string(body) != `{"success":true}` {
		t.Fatalf("decode: ok=%v status=%d hdr=%v body=%q", ok, status, got, body)
	}
	if _, _, _, ok := decodePayload(bs[:6]); ok {
		t.Fatalf("truncated payload decoded")
	}
}

func TestWithoutRedisPassesThrough(t *testing.T) {
	mws := []echo.MiddlewareFunc{
		NewTokenBucket(config.RateLimitConfig{Enabled: true}, nil, nil),
		NewRedisCache(config.CacheConfig{Enabled: true}, nil, nil),
	}
	if code, _ := serve(t, httptest.NewRequest(http.MethodGet, "/x", nil), mws...); code != http.StatusOK {
		t.Fatalf("got=%d want=200", code)
	}
	if err := NewCacheBuster(config.CacheConfig{Prefix: "fb:cache"}, nil).Invalidate(context.Background()); err != nil {
		t.Fatalf("Invalidate without redis: %v", err)
	}
}

func TestCaptureWriterLimit(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := &captureWriter{ResponseWriter: rec, status: http.StatusOK, limit: 4}
	_, _ = cw.Write([]byte("abc"))
	_, _ = cw.Write([]byte("defg"))
	if cw.buf.String() != "abcd" || cw.size != 7 || rec.Body.String() != "abcdefg" {
		t.Fatalf("capture: buf=%q size=%d forwarded=%q", cw.buf.String(), cw.size, rec.Body.String())
	}
}
