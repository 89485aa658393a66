package health

import (
	"net/http"
	"sort"
	"time"

	"github.com/hilthontt/socialbook/internal/infrastructure/json"
)

const (
	statusOK          = "ok"
	statusUnavailable = "unavailable"
)

// Component gates readiness, e.g. a consumer that must hold a broker channel.
type Component interface {
	Healthy() bool
}

type ComponentFunc func() bool

func (f ComponentFunc) Healthy() bool { return f() }

type Handler struct {
	startTime  time.Time
	names      []string
	components map[string]Component
}

func NewHandler(components map[string]Component) *Handler {
	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)

	return &Handler{
		startTime:  time.Now(),
		names:      names,
		components: components,
	}
}

// GetHealth reports liveness: the process is up and serving.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	json.Write(w, http.StatusOK, h.response(statusOK, nil))
}

// GetReady is 503 until every component is healthy.
func (h *Handler) GetReady(w http.ResponseWriter, r *http.Request) {
	status := statusOK
	components := make(map[string]string, len(h.names))
	for _, name := range h.names {
		if h.components[name].Healthy() {
			components[name] = statusOK
			continue
		}
		components[name] = statusUnavailable
		status = statusUnavailable
	}

	code := http.StatusOK
	if status != statusOK {
		code = http.StatusServiceUnavailable
	}
	json.Write(w, code, h.response(status, components))
}

func (h *Handler) response(status string, components map[string]string) healthResponse {
	return healthResponse{
		Status:     status,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Components: components,
	}
}
