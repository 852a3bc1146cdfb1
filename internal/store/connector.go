package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-etl/internal/observability"
)

// ErrConnectAttemptsExhausted is returned only when a maximum attempt count is configured.
var ErrConnectAttemptsExhausted = errors.New("store connect attempts exhausted")

// OpenFunc opens and liveness-checks a store handle.
type OpenFunc func(ctx context.Context) (*sql.DB, error)

// Connector blocks until the store accepts a connection, retrying on a fixed
// backoff. There is no jitter and no growth between attempts.
type Connector struct {
	open        OpenFunc
	backoff     time.Duration
	maxAttempts int
	logger      *zap.Logger
}

// NewConnector returns a Connector. maxAttempts <= 0 retries forever.
func NewConnector(open OpenFunc, backoff time.Duration, maxAttempts int, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{
		open:        open,
		backoff:     backoff,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Acquire returns a live handle. It only gives up when ctx is cancelled or a
// configured attempt cap is reached.
func (c *Connector) Acquire(ctx context.Context) (*sql.DB, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		db, err := c.open(ctx)
		if err == nil {
			observability.DBConnectAttemptsTotal.WithLabelValues("success").Inc()
			c.logger.Info("connected to database", zap.Int("attempt", attempt))
			return db, nil
		}
		observability.DBConnectAttemptsTotal.WithLabelValues("error").Inc()

		if c.maxAttempts > 0 && attempt >= c.maxAttempts {
			return nil, fmt.Errorf("%w after %d attempts: %v", ErrConnectAttemptsExhausted, attempt, err)
		}

		c.logger.Warn("database not ready, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", c.backoff),
			zap.Error(err))

		timer := time.NewTimer(c.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
