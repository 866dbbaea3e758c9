package models

// CollectionResponse is the response for POST /api/v1/collections.
type CollectionResponse struct {
	Success     bool           `json:"success"`
	Message     string         `json:"message,omitempty"`
	RunID       string         `json:"run_id,omitempty"`
	Destination string         `json:"destination,omitempty"`
	Error       *ErrorDetail   `json:"error,omitempty"`
	Run         *CollectionRun `json:"run,omitempty"`
}

// StatusResponse is the response for GET /api/v1/status.
type StatusResponse struct {
	AvailableMoles         []string       `json:"available_moles"`
	IsCollectionInProgress bool           `json:"is_collection_in_progress"`
	CurrentRun             *CollectionRun `json:"current_run,omitempty"`
	LastOutcome            *RunOutcome    `json:"last_outcome,omitempty"`
}

// DataResponse is the response for GET /api/v1/data.
// Data holds either the stored items or, when formatted, a newline-separated
// list of video URLs.
type DataResponse struct {
	Success     bool         `json:"success"`
	Key         string       `json:"key,omitempty"`
	Count       int          `json:"count"`
	Data        any          `json:"data,omitempty"`
	CacheStatus string       `json:"cache_status,omitempty"`
	Error       *ErrorDetail `json:"error,omitempty"`
}

// MolesResponse is returned by the mole management endpoints.
type MolesResponse struct {
	Success        bool         `json:"success"`
	Message        string       `json:"message,omitempty"`
	AvailableMoles []string     `json:"available_moles"`
	Error          *ErrorDetail `json:"error,omitempty"`
}

// ErrorResponse is the generic failure body.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status           string `json:"status"` // "healthy" or "degraded"
	Uptime           string `json:"uptime"`
	ProxyInitialized bool   `json:"proxy_initialized"`
	Busy             bool   `json:"busy"`
	Version          string `json:"version"`
}
