package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"klips/internal/api/handlers"
	"klips/internal/api/middleware"
	"klips/internal/engine/domains"
	"klips/internal/engine/events"
	"klips/internal/engine/links"
	"klips/internal/engine/redirect"
	"klips/internal/engine/webhooks"
	"klips/internal/platform/audit"
	"klips/internal/platform/auth"
	"klips/internal/platform/config"
	"klips/internal/platform/database/testdb"
	"klips/internal/platform/repositories"
)

type syncRecorder struct {
	mu    sync.Mutex
	names []events.Name
}

func (r *syncRecorder) Publish(_ context.Context, evt events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, evt.Name)
	return nil
}

func (r *syncRecorder) has(name events.Name) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.names {
		if n == name {
			return true
		}
	}
	return false
}

type staticTXT map[string][]string

func (s staticTXT) LookupTXT(_ context.Context, name string) ([]string, error) {
	return s[name], nil
}

type testServer struct {
	handler   http.Handler
	published *syncRecorder
	clicks    *redirect.ClickRecorder
	txt       staticTXT
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db := testdb.New(t)
	published := &syncRecorder{}
	txt := staticTXT{}

	box, err := webhooks.NewSecretBox("test-master-key")
	if err != nil {
		t.Fatalf("NewSecretBox() error = %v", err)
	}
	webhookRepo := webhooks.NewRepository(db, box)
	policy := webhooks.DefaultRetryPolicy()
	policy.AttemptTimeout = 2 * time.Second
	executor := webhooks.NewExecutor(webhookRepo, webhooks.ExecutorOptions{
		Policy:           policy,
		FailureThreshold: 10,
		Breaker:          config.BreakerConfig{FailureThreshold: 5, OpenTimeout: time.Second, HalfOpenRequests: 1},
		Logger:           zerolog.Nop(),
	})

	cache := redirect.NewMemoryCache(time.Minute, 100)
	linkRepo := links.NewRepository(db)
	orgRepo := repositories.NewOrganizationRepository(db)
	keyRepo := repositories.NewAPIKeyRepository(db)
	auditLogger := audit.NewLogger(db)
	tokens := auth.NewTokenService(config.JWTConfig{Secret: "test-secret", AccessTokenTTL: time.Hour})
	clicks := redirect.NewClickRecorder(linkRepo, published, zerolog.Nop())

	limiter := middleware.NewRateLimiter(config.RateLimitConfig{RedirectPerMinute: 1000, APIReadPerMinute: 1000, APIWritePerMinute: 1000})
	t.Cleanup(limiter.Close)

	router := NewRouter(&Dependencies{
		OrgHandler:       handlers.NewOrgHandler(orgRepo, keyRepo, tokens, auditLogger),
		APIKeyHandler:    handlers.NewAPIKeyHandler(keyRepo, auditLogger),
		WebhookHandler:   handlers.NewWebhookHandler(webhooks.NewRegistry(webhookRepo, executor), auditLogger),
		LinkHandler:      handlers.NewLinkHandler(links.NewService(linkRepo, published, cache), "klips.test"),
		DomainHandler:    handlers.NewDomainHandler(domains.NewService(domains.NewRepository(db), txt, published, "_klips-verify"), auditLogger),
		AuditHandler:     handlers.NewAuditHandler(auditLogger),
		RedirectHandler:  handlers.NewRedirectHandler(redirect.NewResolver(linkRepo, cache, zerolog.Nop()), clicks),
		HealthHandler:    handlers.NewHealthHandler(db, nil),
		MetricsHandler:   handlers.NewMetricsHandler(),
		AuthMiddleware:   middleware.NewAuthMiddleware(tokens, keyRepo),
		TenantMiddleware: middleware.NewTenantMiddleware(orgRepo),
		RateLimiter:      limiter,
	})

	return &testServer{handler: router, published: published, clicks: clicks, txt: txt}
}

func (s *testServer) do(t *testing.T, method, path, apiKey string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

type bootstrap struct {
	Organization struct {
		ID string `json:"id"`
	} `json:"organization"`
	AccessToken string `json:"access_token"`
	APIKey      struct {
		Key string `json:"key"`
	} `json:"api_key"`
}

func (s *testServer) bootstrap(t *testing.T, slug string) bootstrap {
	t.Helper()

	rr := s.do(t, "POST", "/api/v1/organizations", "", map[string]string{"name": "Org " + slug, "slug": slug})
	if rr.Code != http.StatusCreated {
		t.Fatalf("bootstrap %s = %d: %s", slug, rr.Code, rr.Body.String())
	}
	var b bootstrap
	decode(t, rr, &b)
	if b.APIKey.Key == "" || b.AccessToken == "" {
		t.Fatalf("bootstrap response missing credentials: %s", rr.Body.String())
	}
	return b
}

type errorBody struct {
	Code    string            `json:"code"`
	Details map[string]string `json:"details"`
}

func TestOrganizationBootstrap(t *testing.T) {
	s := newTestServer(t)
	org := s.bootstrap(t, "acme")

	rr := s.do(t, "GET", "/api/v1/organizations/current", org.APIKey.Key, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("current org = %d: %s", rr.Code, rr.Body.String())
	}

	req := httptest.NewRequest("GET", "/api/v1/organizations/current", nil)
	req.Header.Set("Authorization", "Bearer "+org.AccessToken)
	rr = httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("current org with bearer token = %d", rr.Code)
	}

	if rr := s.do(t, "POST", "/api/v1/organizations", "", map[string]string{"name": "Again", "slug": "acme"}); rr.Code != http.StatusConflict {
		t.Errorf("duplicate slug = %d, want 409", rr.Code)
	}

	rr = s.do(t, "POST", "/api/v1/organizations", "", map[string]string{"name": "Bad", "slug": "Not A Slug"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid slug = %d, want 400", rr.Code)
	}
	var eb errorBody
	decode(t, rr, &eb)
	if eb.Details["field"] != "slug" {
		t.Errorf("details = %v, want field slug", eb.Details)
	}
}

func TestWebhookLifecycle(t *testing.T) {
	s := newTestServer(t)
	org := s.bootstrap(t, "acme")
	key := org.APIKey.Key

	rr := s.do(t, "POST", "/api/v1/webhooks", key, map[string]interface{}{
		"name":   "orders",
		"url":    "https://example.com/hooks",
		"events": []string{"link.created", "link.click"},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rr.Code, rr.Body.String())
	}
	var created struct {
		ID     string `json:"id"`
		Secret string `json:"secret"`
		Active bool   `json:"active"`
	}
	decode(t, rr, &created)
	if !strings.HasPrefix(created.Secret, "whsec_") || !created.Active {
		t.Fatalf("created = %+v", created)
	}

	// Secrets never reappear.
	for _, path := range []string{"/api/v1/webhooks", "/api/v1/webhooks/" + created.ID} {
		rr := s.do(t, "GET", path, key, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("GET %s = %d", path, rr.Code)
		}
		if strings.Contains(rr.Body.String(), created.Secret) || strings.Contains(rr.Body.String(), `"secret"`) {
			t.Errorf("GET %s leaked the secret: %s", path, rr.Body.String())
		}
	}

	rr = s.do(t, "PATCH", "/api/v1/webhooks/"+created.ID, key, map[string]interface{}{"url": "not a url"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid patch = %d, want 400", rr.Code)
	}
	var eb errorBody
	decode(t, rr, &eb)
	if eb.Code != "INVALID_INPUT" || eb.Details["field"] != "url" {
		t.Errorf("error body = %+v", eb)
	}

	rr = s.do(t, "PATCH", "/api/v1/webhooks/"+created.ID, key, map[string]interface{}{"events": []string{"link.exploded"}})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown event = %d, want 400", rr.Code)
	}

	rr = s.do(t, "PATCH", "/api/v1/webhooks/"+created.ID, key, map[string]interface{}{"active": false})
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"active":false`) {
		t.Errorf("deactivate = %d: %s", rr.Code, rr.Body.String())
	}

	rr = s.do(t, "POST", "/api/v1/webhooks/"+created.ID+"/rotate-secret", key, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("rotate = %d", rr.Code)
	}
	var rotated struct {
		Secret string `json:"secret"`
	}
	decode(t, rr, &rotated)
	if rotated.Secret == "" || rotated.Secret == created.Secret {
		t.Errorf("rotated secret = %q", rotated.Secret)
	}

	rr = s.do(t, "GET", "/api/v1/webhooks/"+created.ID+"/deliveries?limit=abc", key, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", rr.Code)
	}
	rr = s.do(t, "GET", "/api/v1/webhooks/"+created.ID+"/deliveries", key, nil)
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("deliveries = %d: %s", rr.Code, rr.Body.String())
	}

	if rr := s.do(t, "DELETE", "/api/v1/webhooks/"+created.ID, key, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", rr.Code)
	}
	if rr := s.do(t, "GET", "/api/v1/webhooks/"+created.ID, key, nil); rr.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", rr.Code)
	}

	rr = s.do(t, "GET", "/api/v1/audit-logs", key, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("audit logs = %d", rr.Code)
	}
	for _, action := range []string{audit.ActionWebhookCreate, audit.ActionWebhookUpdate, audit.ActionWebhookRotate, audit.ActionWebhookDelete} {
		if !strings.Contains(rr.Body.String(), action) {
			t.Errorf("audit log missing %s", action)
		}
	}
}

func TestWebhookTenantIsolation(t *testing.T) {
	s := newTestServer(t)
	a := s.bootstrap(t, "alpha")
	b := s.bootstrap(t, "bravo")

	rr := s.do(t, "POST", "/api/v1/webhooks", a.APIKey.Key, map[string]interface{}{
		"name": "a", "url": "https://example.com/a", "events": []string{"link.click"},
	})
	var created struct {
		ID string `json:"id"`
	}
	decode(t, rr, &created)

	missing := s.do(t, "GET", "/api/v1/webhooks/wh_does_not_exist", b.APIKey.Key, nil)
	for _, tc := range []struct{ method, path string }{
		{"GET", "/api/v1/webhooks/" + created.ID},
		{"PATCH", "/api/v1/webhooks/" + created.ID},
		{"DELETE", "/api/v1/webhooks/" + created.ID},
		{"POST", "/api/v1/webhooks/" + created.ID + "/test"},
		{"POST", "/api/v1/webhooks/" + created.ID + "/rotate-secret"},
		{"GET", "/api/v1/webhooks/" + created.ID + "/deliveries"},
	} {
		rr := s.do(t, tc.method, tc.path, b.APIKey.Key, map[string]interface{}{})
		if rr.Code != http.StatusNotFound {
			t.Errorf("%s %s from other tenant = %d, want 404", tc.method, tc.path, rr.Code)
		}
		if rr.Body.String() != missing.Body.String() {
			t.Errorf("%s %s body differs from a missing webhook: %s", tc.method, tc.path, rr.Body.String())
		}
	}

	rr = s.do(t, "GET", "/api/v1/webhooks", b.APIKey.Key, nil)
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("other tenant list = %s, want []", rr.Body.String())
	}
}

func TestWebhookTestEndpoint(t *testing.T) {
	var calls int
	var mu sync.Mutex
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer receiver.Close()

	s := newTestServer(t)
	key := s.bootstrap(t, "acme").APIKey.Key

	rr := s.do(t, "POST", "/api/v1/webhooks", key, map[string]interface{}{
		"name": "t", "url": receiver.URL, "events": []string{"link.click"},
	})
	var created struct {
		ID string `json:"id"`
	}
	decode(t, rr, &created)

	rr = s.do(t, "POST", "/api/v1/webhooks/"+created.ID+"/test", key, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("test = %d: %s", rr.Code, rr.Body.String())
	}
	var result struct {
		Success         bool   `json:"success"`
		StatusCode      *int   `json:"status_code"`
		ResponseSnippet string `json:"response_snippet"`
	}
	decode(t, rr, &result)
	if result.Success || result.StatusCode == nil || *result.StatusCode != 500 || result.ResponseSnippet != "boom" {
		t.Errorf("result = %+v", result)
	}

	mu.Lock()
	if calls != 1 {
		t.Errorf("receiver calls = %d, want exactly 1", calls)
	}
	mu.Unlock()

	rr = s.do(t, "GET", "/api/v1/webhooks/"+created.ID+"/deliveries", key, nil)
	if !strings.Contains(rr.Body.String(), `"test":true`) {
		t.Errorf("deliveries missing test record: %s", rr.Body.String())
	}
}

func TestAuthAndRoles(t *testing.T) {
	s := newTestServer(t)
	owner := s.bootstrap(t, "acme").APIKey.Key

	if rr := s.do(t, "GET", "/api/v1/webhooks", "", nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("no credentials = %d, want 401", rr.Code)
	}

	rr := s.do(t, "POST", "/api/v1/api-keys", owner, map[string]interface{}{"name": "ci", "role": "member"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create member key = %d: %s", rr.Code, rr.Body.String())
	}
	var memberKey struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	decode(t, rr, &memberKey)

	if rr := s.do(t, "GET", "/api/v1/webhooks", memberKey.Key, nil); rr.Code != http.StatusOK {
		t.Errorf("member list = %d, want 200", rr.Code)
	}
	rr = s.do(t, "POST", "/api/v1/webhooks", memberKey.Key, map[string]interface{}{
		"name": "x", "url": "https://example.com", "events": []string{"link.click"},
	})
	if rr.Code != http.StatusForbidden {
		t.Errorf("member create webhook = %d, want 403", rr.Code)
	}

	rr = s.do(t, "GET", "/api/v1/api-keys", owner, nil)
	if strings.Contains(rr.Body.String(), memberKey.Key) {
		t.Error("key list exposes raw key")
	}

	if rr := s.do(t, "DELETE", "/api/v1/api-keys/"+memberKey.ID, owner, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("revoke = %d", rr.Code)
	}
	if rr := s.do(t, "GET", "/api/v1/webhooks", memberKey.Key, nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("revoked key = %d, want 401", rr.Code)
	}
}

func TestLinksAndRedirect(t *testing.T) {
	s := newTestServer(t)
	key := s.bootstrap(t, "acme").APIKey.Key

	rr := s.do(t, "POST", "/api/v1/links", key, map[string]interface{}{
		"destination_url": "https://example.com/landing",
		"short_code":      "promo1",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create link = %d: %s", rr.Code, rr.Body.String())
	}
	var link struct {
		ID string `json:"id"`
	}
	decode(t, rr, &link)

	if rr := s.do(t, "POST", "/api/v1/links", key, map[string]interface{}{
		"destination_url": "https://example.com/other", "short_code": "promo1",
	}); rr.Code != http.StatusConflict {
		t.Errorf("duplicate code = %d, want 409", rr.Code)
	}

	rr = s.do(t, "GET", "/promo1?src=qr", "", nil)
	if rr.Code != http.StatusFound {
		t.Fatalf("redirect = %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "https://example.com/landing" {
		t.Errorf("Location = %q", loc)
	}
	s.clicks.Wait()
	for _, name := range []events.Name{events.LinkCreated, events.LinkClick, events.QRScanned} {
		if !s.published.has(name) {
			t.Errorf("event %s not published", name)
		}
	}

	if rr := s.do(t, "GET", "/nope99", "", nil); rr.Code != http.StatusNotFound {
		t.Errorf("unknown code = %d, want 404", rr.Code)
	}

	if rr := s.do(t, "DELETE", "/api/v1/links/"+link.ID, key, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("archive = %d", rr.Code)
	}
	if rr := s.do(t, "GET", "/promo1", "", nil); rr.Code != http.StatusGone {
		t.Errorf("archived redirect = %d, want 410", rr.Code)
	}

	rr = s.do(t, "GET", "/api/v1/links/"+link.ID+"/qr?size=256", key, nil)
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "image/png" {
		t.Errorf("qr = %d %s", rr.Code, rr.Header().Get("Content-Type"))
	}
	if rr := s.do(t, "GET", "/api/v1/links/"+link.ID+"/qr?size=5", key, nil); rr.Code != http.StatusBadRequest {
		t.Errorf("tiny qr = %d, want 400", rr.Code)
	}
}

func TestDomainVerification(t *testing.T) {
	s := newTestServer(t)
	key := s.bootstrap(t, "acme").APIKey.Key

	rr := s.do(t, "POST", "/api/v1/domains", key, map[string]string{"hostname": "Go.Example.com"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("add domain = %d: %s", rr.Code, rr.Body.String())
	}
	var d struct {
		ID                string `json:"id"`
		Hostname          string `json:"hostname"`
		RecordName        string `json:"record_name"`
		VerificationToken string `json:"verification_token"`
	}
	decode(t, rr, &d)
	if d.Hostname != "go.example.com" {
		t.Errorf("hostname = %q", d.Hostname)
	}

	if rr := s.do(t, "POST", "/api/v1/domains/"+d.ID+"/verify", key, nil); rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("verify without record = %d, want 422", rr.Code)
	}

	s.txt[d.RecordName] = []string{d.VerificationToken}
	if rr := s.do(t, "POST", "/api/v1/domains/"+d.ID+"/verify", key, nil); rr.Code != http.StatusOK {
		t.Fatalf("verify = %d: %s", rr.Code, rr.Body.String())
	}
	if !s.published.has(events.DomainVerified) {
		t.Error("domain.verified not published")
	}

	if rr := s.do(t, "POST", "/api/v1/domains", key, map[string]string{"hostname": "go.example.com"}); rr.Code != http.StatusConflict {
		t.Errorf("duplicate hostname = %d, want 409", rr.Code)
	}
}

func TestHealthAndUnknownRoutes(t *testing.T) {
	s := newTestServer(t)

	if rr := s.do(t, "GET", "/health", "", nil); rr.Code != http.StatusOK {
		t.Errorf("health = %d", rr.Code)
	}
	if rr := s.do(t, "GET", "/metrics", "", nil); rr.Code != http.StatusOK {
		t.Errorf("metrics = %d", rr.Code)
	}
	if rr := s.do(t, "GET", "/a/b", "", nil); rr.Code != http.StatusNotFound {
		t.Errorf("nested path = %d, want 404", rr.Code)
	}
}
