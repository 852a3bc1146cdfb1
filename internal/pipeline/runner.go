package pipeline

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-etl/internal/client"
	"github.com/kjstillabower/weather-etl/internal/lifecycle"
	"github.com/kjstillabower/weather-etl/internal/models"
	"github.com/kjstillabower/weather-etl/internal/observability"
	"github.com/kjstillabower/weather-etl/internal/store"
)

// Outcome is the terminal state of one cycle.
type Outcome string

const (
	OutcomeInserted         Outcome = "inserted"
	OutcomeDuplicateSkipped Outcome = "duplicate"
	OutcomeFailed           Outcome = "failed"
)

// Stage names the step a failed cycle stopped in.
type Stage string

const (
	StageExtract   Stage = "extract"
	StageTransform Stage = "transform"
	StageLoad      Stage = "load"
)

// Result describes how a cycle ended. Stage and Err are set only for OutcomeFailed.
type Result struct {
	Outcome     Outcome
	Stage       Stage
	Observation models.Observation
	Err         error
	CycleID     string
}

// Loader persists one observation. *store.Repository implements it.
type Loader interface {
	InsertIfAbsent(ctx context.Context, obs models.Observation) (store.InsertResult, error)
}

// Runner executes ETL cycles. It holds no per-cycle state and is reused by
// every scheduled invocation.
type Runner struct {
	client client.WeatherClient
	loader Loader
	logger *zap.Logger
}

func NewRunner(c client.WeatherClient, loader Loader, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{client: c, loader: loader, logger: logger}
}

// RunCycle fetches, maps and stores one observation. Failures are logged and
// returned in the Result; RunCycle itself never panics.
func (r *Runner) RunCycle(ctx context.Context) (res Result) {
	start := time.Now()
	res.CycleID = uuid.NewString()
	logger := r.logger.With(zap.String("cycle_id", res.CycleID))
	stage := StageExtract

	defer func() {
		if p := recover(); p != nil {
			res.Outcome = OutcomeFailed
			res.Stage = stage
			res.Err = fmt.Errorf("panic in %s: %v", stage, p)
		}
		r.finish(logger, res, time.Since(start))
	}()

	logger.Info("running ETL job")

	payload, err := r.client.GetCurrent(ctx)
	if err != nil {
		return failed(res, StageExtract, err)
	}

	stage = StageTransform
	obs, err := Transform(payload)
	if err != nil {
		return failed(res, StageTransform, err)
	}
	res.Observation = obs

	stage = StageLoad
	inserted, err := r.loader.InsertIfAbsent(ctx, obs)
	if err != nil {
		return failed(res, StageLoad, err)
	}
	switch inserted {
	case store.Inserted:
		res.Outcome = OutcomeInserted
	case store.AlreadyExists:
		res.Outcome = OutcomeDuplicateSkipped
	default:
		return failed(res, StageLoad, errors.New("insert reported failure without an error"))
	}
	return res
}

func failed(res Result, stage Stage, err error) Result {
	res.Outcome = OutcomeFailed
	res.Stage = stage
	res.Err = err
	return res
}

func (r *Runner) finish(logger *zap.Logger, res Result, elapsed time.Duration) {
	observability.CycleDuration.Observe(elapsed.Seconds())
	observability.CyclesTotal.WithLabelValues(string(res.Outcome)).Inc()
	lifecycle.RecordCycle(string(res.Outcome), string(res.Stage), time.Now())

	switch res.Outcome {
	case OutcomeInserted:
		observability.LastObservationTimestamp.Set(float64(res.Observation.Timestamp.Unix()))
		logger.Info("loaded observation",
			zap.Time("observation_time", res.Observation.Timestamp),
			zap.Duration("duration", elapsed))
	case OutcomeDuplicateSkipped:
		logger.Info("observation already stored, skipping duplicate",
			zap.Time("observation_time", res.Observation.Timestamp))
	default:
		category := categorize(res.Stage, res.Err)
		observability.CycleFailuresTotal.WithLabelValues(string(res.Stage), category).Inc()
		logger.Error("pipeline cycle failed",
			zap.String("stage", string(res.Stage)),
			zap.String("category", category),
			zap.Duration("duration", elapsed),
			zap.Error(res.Err))
	}
}

func categorize(stage Stage, err error) string {
	switch stage {
	case StageExtract:
		return string(client.CategorizeError(err))
	case StageTransform:
		return string(client.ErrorCategoryParsing)
	default:
		return categorizeStoreError(err)
	}
}

// categorizeStoreError returns a stable label for load failures (timeout, connection, unknown).
func categorizeStoreError(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout"
	}
	if errors.Is(err, driver.ErrBadConn) {
		return "connection"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "closed") {
		return "connection"
	}
	return "unknown"
}
