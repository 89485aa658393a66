package health

// healthResponse represents the liveness or readiness of a worker
type healthResponse struct {
	Status     string            `json:"status"`               // ok or unavailable
	Timestamp  string            `json:"timestamp"`            // RFC3339
	Uptime     string            `json:"uptime"`               // time since the handler was created
	Components map[string]string `json:"components,omitempty"` // readiness per dependency
}
