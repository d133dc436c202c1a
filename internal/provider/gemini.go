package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/starford/toolvault/internal/apperr"
	"github.com/starford/toolvault/internal/models"
)

const (
	defaultEndpoint = "https://generativelanguage.googleapis.com"
	defaultModel    = "gemini-2.5-flash"
	defaultTimeout  = 12 * time.Second
)

// GeminiConfig configures the Gemini enrichment client.
type GeminiConfig struct {
	APIKey string
	// Model is the Gemini model name. Defaults to gemini-2.5-flash.
	Model string
	// Endpoint overrides the API base URL, for tests.
	Endpoint string
	// Timeout bounds the whole generateContent round trip.
	Timeout time.Duration
}

// Gemini calls the Generative Language API with a schema-constrained
// response so the orchestrator never has to trust free-form text.
type Gemini struct {
	cfg  GeminiConfig
	http *http.Client
}

var _ Enricher = (*Gemini)(nil)

// NewGemini creates a Gemini client.
func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Gemini{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// generateContent request/response wire types (REST v1beta).

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseMIMEType string       `json:"responseMimeType"`
	ResponseSchema   schemaObject `json:"responseSchema"`
}

type schemaObject struct {
	Type       string                  `json:"type"`
	Properties map[string]schemaObject `json:"properties,omitempty"`
	Items      *schemaObject           `json:"items,omitempty"`
	Enum       []string                `json:"enum,omitempty"`
	Required   []string                `json:"required,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// enrichmentSchema mirrors the fields of models.EnrichedFields with a
// closed pricingBucket enum and typed arrays.
var enrichmentSchema = schemaObject{
	Type: "OBJECT",
	Properties: map[string]schemaObject{
		"name":         {Type: "STRING"},
		"summary":      {Type: "STRING"},
		"bestUseCases": {Type: "ARRAY", Items: &schemaObject{Type: "STRING"}},
		"category":     {Type: "STRING"},
		"tags":         {Type: "ARRAY", Items: &schemaObject{Type: "STRING"}},
		"integrations": {Type: "ARRAY", Items: &schemaObject{Type: "STRING"}},
		"pricingBucket": {
			Type: "STRING",
			Enum: []string{"Free", "Freemium", "Paid", "Enterprise", "Unknown"},
		},
		"pricingNotes": {Type: "STRING"},
		"whatItDoes":   {Type: "STRING"},
		"logoUrl":      {Type: "STRING"},
		"websiteUrl":   {Type: "STRING"},
	},
	Required: []string{"name", "summary", "bestUseCases", "category", "tags", "pricingBucket"},
}

// Enrich calls generateContent and validates the structured response.
func (g *Gemini) Enrich(ctx context.Context, input string, categories []string) (*models.EnrichedFields, error) {
	if g.cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini api key is not configured", apperr.ErrProvider)
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: buildPrompt(input, categories)}}}},
		GenerationConfig: generationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   enrichmentSchema,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", apperr.ErrProvider, err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.cfg.Endpoint, g.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", apperr.ErrProvider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.cfg.APIKey)

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrProvider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", apperr.ErrProvider, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: generateContent returned %d", apperr.ErrProvider, resp.StatusCode)
	}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", apperr.ErrProvider, err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: empty response", apperr.ErrProvider)
	}

	return parseFields(gr.Candidates[0].Content.Parts[0].Text)
}

func parseFields(text string) (*models.EnrichedFields, error) {
	var wire struct {
		Name          string   `json:"name"`
		Summary       string   `json:"summary"`
		BestUseCases  []string `json:"bestUseCases"`
		Category      string   `json:"category"`
		Tags          []string `json:"tags"`
		Integrations  []string `json:"integrations"`
		PricingBucket string   `json:"pricingBucket"`
		PricingNotes  string   `json:"pricingNotes"`
		WhatItDoes    string   `json:"whatItDoes"`
		LogoURL       string   `json:"logoUrl"`
		WebsiteURL    string   `json:"websiteUrl"`
	}
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return nil, fmt.Errorf("%w: unparseable enrichment payload: %v", apperr.ErrProvider, err)
	}
	if strings.TrimSpace(wire.Name) == "" || strings.TrimSpace(wire.Summary) == "" {
		return nil, fmt.Errorf("%w: enrichment payload missing required fields", apperr.ErrProvider)
	}

	return &models.EnrichedFields{
		Name:          strings.TrimSpace(wire.Name),
		Summary:       wire.Summary,
		BestUseCases:  wire.BestUseCases,
		Category:      wire.Category,
		Tags:          wire.Tags,
		Integrations:  wire.Integrations,
		PricingBucket: models.ParsePricingBucket(wire.PricingBucket),
		PricingNotes:  wire.PricingNotes,
		WhatItDoes:    wire.WhatItDoes,
		LogoURL:       wire.LogoURL,
		WebsiteURL:    wire.WebsiteURL,
	}, nil
}

func buildPrompt(input string, categories []string) string {
	list := "General"
	if len(categories) > 0 {
		list = strings.Join(categories, ", ")
	}
	var b strings.Builder
	b.WriteString("You are an expert software directory curator.\n")
	fmt.Fprintf(&b, "Analyze the following tool based on the user input: %q.\n\n", input)
	b.WriteString("If the input is a URL, assume the tool located at that URL. ")
	b.WriteString("If it's a name, use your internal knowledge, and include the tool's official website as websiteUrl.\n\n")
	b.WriteString("Provide a structured analysis suitable for a personal knowledge base.\n\n")
	b.WriteString("IMPORTANT - Categorization Rules:\n")
	fmt.Fprintf(&b, "- You MUST strictly select one category from the following list: [%s].\n", list)
	b.WriteString("- Choose the one that fits best. If absolutely nothing fits, select 'Other'.\n")
	return b.String()
}
