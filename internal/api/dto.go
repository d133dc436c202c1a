package api

import "github.com/starford/toolvault/internal/models"

// EnrichRequest is the request body for POST /api/enrich.
type EnrichRequest struct {
	Input         string   `json:"input" example:"https://notion.so" validate:"required"`
	CategoryHints []string `json:"category_hints,omitempty" example:"Automation,AI"`
}

// GlobalTool is the shared cache record response type (aliased from the
// domain layer).
type GlobalTool = models.GlobalTool

// CategoriesResponse wraps the closed category hint set.
type CategoriesResponse struct {
	Categories []string `json:"categories" validate:"required"`
}

// rateLimitResponse carries the exhausted quota scope and backoff hint.
type rateLimitResponse struct {
	Error             string `json:"error" validate:"required"`
	Scope             string `json:"scope" example:"minute"`
	RetryAfterSeconds int    `json:"retry_after_seconds" example:"60"`
}
