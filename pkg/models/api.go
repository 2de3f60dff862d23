package models

// GenerateRequest is the body of POST /api/generate. Prompt is decoded as raw
// JSON so a missing or non-string value can be rejected explicitly.
type GenerateRequest struct {
	Prompt any `json:"prompt"`
}

// GenerateResponse is returned by POST /api/generate.
type GenerateResponse struct {
	Success    bool        `json:"success"`
	Generation *Generation `json:"generation,omitempty"`
}

// UpdateResponse is returned by GET /api/generations/{id}.
type UpdateResponse struct {
	Success bool              `json:"success"`
	Update  *GenerationUpdate `json:"update,omitempty"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status            string            `json:"status"`
	Version           string            `json:"version"`
	Components        map[string]string `json:"components"`
	ActiveGenerations int               `json:"activeGenerations"`
	Connections       int               `json:"connections"`
}
