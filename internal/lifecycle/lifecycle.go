package lifecycle

import (
	"sync"
	"sync/atomic"
	"time"
)

var shuttingDown atomic.Bool

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true once the process has stopped scheduling cycles.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// CycleStatus summarises the most recent ETL cycles for the health endpoint.
type CycleStatus struct {
	Cycles              int64     `json:"cycles"`
	ConsecutiveFailures int64     `json:"consecutiveFailures"`
	LastOutcome         string    `json:"lastOutcome,omitempty"`
	LastStage           string    `json:"lastStage,omitempty"`
	LastCycleAt         time.Time `json:"lastCycleAt,omitempty"`
	LastSuccessAt       time.Time `json:"lastSuccessAt,omitempty"`
}

var (
	mu     sync.RWMutex
	status CycleStatus
)

// RecordCycle stores the outcome of a finished cycle. stage is empty unless the cycle failed.
func RecordCycle(outcome, stage string, at time.Time) {
	mu.Lock()
	defer mu.Unlock()
	status.Cycles++
	status.LastOutcome = outcome
	status.LastStage = stage
	status.LastCycleAt = at
	if outcome == "failed" {
		status.ConsecutiveFailures++
		return
	}
	status.ConsecutiveFailures = 0
	status.LastSuccessAt = at
}

// Snapshot returns a copy of the current cycle status.
func Snapshot() CycleStatus {
	mu.RLock()
	defer mu.RUnlock()
	return status
}

// Reset clears recorded cycles and the shutdown flag. Used by tests.
func Reset() {
	mu.Lock()
	status = CycleStatus{}
	mu.Unlock()
	shuttingDown.Store(false)
}
