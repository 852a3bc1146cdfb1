package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-etl/internal/lifecycle"
)

// failingAfter is the number of consecutive failed cycles that turns health to "failing".
const failingAfter = 3

// HealthConfig holds the inputs of the health decision.
type HealthConfig struct {
	StartTime time.Time
	// DBPing, when set, is called to check store reachability.
	DBPing func(ctx context.Context) error
	// PingTimeout bounds DBPing. Zero means 2s.
	PingTimeout time.Duration
}

// Handler holds dependencies for the ops HTTP handlers.
type Handler struct {
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if healthConfig == nil {
		healthConfig = &HealthConfig{StartTime: time.Now()}
	}
	return &Handler{healthConfig: healthConfig, logger: logger}
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	snap := lifecycle.Snapshot()
	result := computeHealthStatus(snap)

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{}
	if h.healthConfig.DBPing != nil {
		timeout := h.healthConfig.PingTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		if h.healthConfig.DBPing(ctx) == nil {
			checks["database"] = "healthy"
		} else {
			checks["database"] = "unhealthy"
		}
		cancel()
	}
	if snap.ConsecutiveFailures >= failingAfter {
		checks["pipeline"] = "unhealthy"
	} else {
		checks["pipeline"] = "healthy"
	}

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "weather-etl",
		"version":   "dev",
		"checks":    checks,
		"cycles":    snap,
		"uptime":    time.Since(h.healthConfig.StartTime).Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > starting > failing > ok.
func computeHealthStatus(snap lifecycle.CycleStatus) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if snap.Cycles == 0 {
		return healthResult{"starting", http.StatusOK, "no_cycle_yet"}
	}
	// failing stays 200; only shutdown answers 503.
	if snap.ConsecutiveFailures >= failingAfter {
		return healthResult{"failing", http.StatusOK, "consecutive_failures"}
	}
	return healthResult{"ok", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response with code, message and the correlation ID if present.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID, _ := r.Context().Value(correlationIDKey).(string)
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}
