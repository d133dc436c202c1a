package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/starford/toolvault/internal/apperr"
	"github.com/starford/toolvault/internal/enrich"
	"github.com/starford/toolvault/internal/identity"
	"github.com/starford/toolvault/internal/models"
	"github.com/starford/toolvault/internal/store"
)

// stubEnricher returns canned fields, or a fixed error.
type stubEnricher struct {
	fields models.EnrichedFields
	err    error
}

func (s *stubEnricher) Enrich(_ context.Context, _ string, _ []string) (*models.EnrichedFields, error) {
	if s.err != nil {
		return nil, s.err
	}
	f := s.fields
	return &f, nil
}

var testCallers = map[string]Caller{
	"secret-token": {ID: "u1", Verified: true},
	"guest-token":  {ID: "g1", Verified: false},
}

// testEnv sets up a temp SQLite store, service, and router.
// authEnabled=false means disabled mode.
func testEnv(t *testing.T, authEnabled bool, ai *stubEnricher, opts store.Options) (*store.SQLite, http.Handler) {
	t.Helper()

	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "vault.db"), opts)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if ai == nil {
		ai = &stubEnricher{fields: models.EnrichedFields{
			Name:          "Zapier",
			Summary:       "Workflow automation",
			Category:      "Automation",
			PricingBucket: models.PricingFreemium,
			WebsiteURL:    "https://zapier.com",
		}}
	}
	svc := enrich.NewService(db, db, ai, enrich.Config{})
	return db, NewRouter(svc, authEnabled, testCallers, nil)
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestEnrichAndGetTool(t *testing.T) {
	_, router := testEnv(t, false, nil, store.Options{})

	w := doJSON(t, router, http.MethodPost, "/enrich", "", EnrichRequest{Input: "https://www.zapier.com/?utm_source=x"})
	if w.Code != http.StatusOK {
		t.Fatalf("enrich status = %d, body = %s", w.Code, w.Body.String())
	}
	var tool GlobalTool
	_ = json.Unmarshal(w.Body.Bytes(), &tool)
	if tool.ToolID != identity.ToolIDFromDomain("zapier.com") {
		t.Errorf("tool id = %q", tool.ToolID)
	}
	if tool.CanonicalURL != "https://zapier.com" {
		t.Errorf("canonical = %q", tool.CanonicalURL)
	}
	if tool.Name != "Zapier" {
		t.Errorf("name = %q", tool.Name)
	}

	// Fetch the cached record by id.
	w = doJSON(t, router, http.MethodGet, "/tools/"+tool.ToolID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get tool status = %d", w.Code)
	}
	var got GlobalTool
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.Status != models.StatusReady {
		t.Errorf("status = %q, want ready", got.Status)
	}
}

func TestEnrichInvalidBody(t *testing.T) {
	_, router := testEnv(t, false, nil, store.Options{})

	req := httptest.NewRequest(http.MethodPost, "/enrich", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestEnrichEmptyInput(t *testing.T) {
	_, router := testEnv(t, false, nil, store.Options{})

	w := doJSON(t, router, http.MethodPost, "/enrich", "", EnrichRequest{Input: "   "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetTool_NotFound(t *testing.T) {
	_, router := testEnv(t, false, nil, store.Options{})

	w := doJSON(t, router, http.MethodGet, "/tools/deadbeef", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestCategoriesEndpoint(t *testing.T) {
	_, router := testEnv(t, false, nil, store.Options{})

	w := doJSON(t, router, http.MethodGet, "/categories", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp CategoriesResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Categories) != len(models.DefaultCategories) {
		t.Errorf("categories = %v", resp.Categories)
	}
}

func TestEnrichConflict(t *testing.T) {
	db, router := testEnv(t, false, nil, store.Options{})

	// Simulate another worker holding the lock.
	id := identity.ToolIDFromDomain("zapier.com")
	acquired, err := db.TryAcquireLock(context.Background(), id)
	if err != nil || !acquired {
		t.Fatalf("TryAcquireLock = %v, %v", acquired, err)
	}

	w := doJSON(t, router, http.MethodPost, "/enrich", "", EnrichRequest{Input: "zapier.com"})
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409, body = %s", w.Code, w.Body.String())
	}
}

func TestEnrichRateLimited(t *testing.T) {
	ai := &stubEnricher{fields: models.EnrichedFields{
		Name: "X", Summary: "y", WebsiteURL: "https://x.io",
	}}
	_, router := testEnv(t, false, ai, store.Options{MinuteLimit: 1})

	w := doJSON(t, router, http.MethodPost, "/enrich", "", EnrichRequest{Input: "https://first.io"})
	if w.Code != http.StatusOK {
		t.Fatalf("first enrich = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodPost, "/enrich", "", EnrichRequest{Input: "https://second.io"})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second enrich = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}
	var resp struct {
		Scope             string `json:"scope"`
		RetryAfterSeconds int    `json:"retry_after_seconds"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Scope != "minute" {
		t.Errorf("scope = %q, want minute", resp.Scope)
	}
	if resp.RetryAfterSeconds != 60 {
		t.Errorf("retry_after_seconds = %d", resp.RetryAfterSeconds)
	}
}

func TestEnrichUnresolvedIdentity(t *testing.T) {
	// Provider replies without a website, so a name-only input cannot be
	// resolved to a domain identity.
	ai := &stubEnricher{fields: models.EnrichedFields{Name: "Mystery", Summary: "?"}}
	_, router := testEnv(t, false, ai, store.Options{})

	w := doJSON(t, router, http.MethodPost, "/enrich", "", EnrichRequest{Input: "Mystery Tool"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422, body = %s", w.Code, w.Body.String())
	}
}

func TestEnrichProviderFailure(t *testing.T) {
	ai := &stubEnricher{err: apperr.ErrProvider}
	_, router := testEnv(t, false, ai, store.Options{})

	w := doJSON(t, router, http.MethodPost, "/enrich", "", EnrichRequest{Input: "https://flaky.io"})
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, true, nil, store.Options{})

	w := doJSON(t, router, http.MethodPost, "/enrich", "secret-token", EnrichRequest{Input: "https://zapier.com"})
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, true, nil, store.Options{})

	w := doJSON(t, router, http.MethodGet, "/categories", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, true, nil, store.Options{})

	w := doJSON(t, router, http.MethodGet, "/categories", "bogus", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestUnverifiedCaller(t *testing.T) {
	_, router := testEnv(t, true, nil, store.Options{})

	// Cache miss from an unverified caller is rejected.
	w := doJSON(t, router, http.MethodPost, "/enrich", "guest-token", EnrichRequest{Input: "https://zapier.com"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("miss status = %d, want 401", w.Code)
	}

	// A verified caller populates the cache, then the guest can read it.
	w = doJSON(t, router, http.MethodPost, "/enrich", "secret-token", EnrichRequest{Input: "https://zapier.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("verified enrich = %d", w.Code)
	}
	w = doJSON(t, router, http.MethodPost, "/enrich", "guest-token", EnrichRequest{Input: "https://zapier.com"})
	if w.Code != http.StatusOK {
		t.Errorf("hit status = %d, want 200", w.Code)
	}
}
