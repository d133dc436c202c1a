package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/toolvault/internal/apperr"
	"github.com/starford/toolvault/internal/models"
)

// geminiStub serves a canned generateContent response, capturing the
// request for inspection.
func geminiStub(t *testing.T, payload string, status int) (*httptest.Server, *generateRequest) {
	t.Helper()
	var captured generateRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") == "" {
			t.Error("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(status)
		resp := generateResponse{}
		resp.Candidates = []struct {
			Content content `json:"content"`
		}{{Content: content{Parts: []part{{Text: payload}}}}}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func testClient(srv *httptest.Server) *Gemini {
	return NewGemini(GeminiConfig{
		APIKey:   "test-key",
		Endpoint: srv.URL,
		Timeout:  2 * time.Second,
	})
}

func TestGeminiEnrich(t *testing.T) {
	payload := `{
		"name": "Zapier",
		"summary": "Workflow automation between apps.",
		"bestUseCases": ["automations", "integrations"],
		"category": "Automation",
		"tags": ["no-code"],
		"integrations": ["Slack", "Gmail"],
		"pricingBucket": "Freemium",
		"pricingNotes": "Free tier with task limits.",
		"whatItDoes": "Connects web apps with triggers and actions.",
		"websiteUrl": "https://zapier.com"
	}`
	srv, captured := geminiStub(t, payload, http.StatusOK)

	fields, err := testClient(srv).Enrich(context.Background(), "Zapier", []string{"Automation", "Other"})
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if fields.Name != "Zapier" || fields.PricingBucket != models.PricingFreemium {
		t.Errorf("fields = %+v", fields)
	}
	if fields.WebsiteURL != "https://zapier.com" {
		t.Errorf("websiteUrl = %q", fields.WebsiteURL)
	}

	// The prompt must carry the closed category list and the input.
	prompt := captured.Contents[0].Parts[0].Text
	if !strings.Contains(prompt, "[Automation, Other]") {
		t.Errorf("prompt missing category list: %s", prompt)
	}
	if !strings.Contains(prompt, "Zapier") {
		t.Errorf("prompt missing input: %s", prompt)
	}
	if captured.GenerationConfig.ResponseMIMEType != "application/json" {
		t.Error("response mime type not constrained to json")
	}
}

func TestGeminiEnrichUnknownPricing(t *testing.T) {
	payload := `{"name":"X","summary":"Y","bestUseCases":[],"category":"Other","tags":[],"pricingBucket":"Cheap"}`
	srv, _ := geminiStub(t, payload, http.StatusOK)

	fields, err := testClient(srv).Enrich(context.Background(), "x.com", nil)
	if err != nil {
		t.Fatal(err)
	}
	if fields.PricingBucket != models.PricingUnknown {
		t.Errorf("pricing bucket = %q, want Unknown", fields.PricingBucket)
	}
}

func TestGeminiEnrichErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		status  int
	}{
		{"upstream error", `{}`, http.StatusInternalServerError},
		{"unparseable payload", `not json at all`, http.StatusOK},
		{"missing required fields", `{"name":"","summary":""}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := geminiStub(t, tt.payload, tt.status)
			_, err := testClient(srv).Enrich(context.Background(), "x.com", nil)
			if !errors.Is(err, apperr.ErrProvider) {
				t.Errorf("err = %v, want ErrProvider", err)
			}
		})
	}
}

func TestGeminiMissingAPIKey(t *testing.T) {
	g := NewGemini(GeminiConfig{})
	if _, err := g.Enrich(context.Background(), "x.com", nil); !errors.Is(err, apperr.ErrProvider) {
		t.Errorf("err = %v, want ErrProvider", err)
	}
}
