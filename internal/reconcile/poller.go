package reconcile

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lidapay/backend/internal/config"
	"github.com/lidapay/backend/internal/logging"
	"github.com/lidapay/backend/internal/metrics"
	"github.com/lidapay/backend/internal/models"
	"go.uber.org/zap"
)

// StatusQuerier is the part of the gateway client the poller needs
type StatusQuerier interface {
	QueryStatus(ctx context.Context, token string) (*models.TransactionStatusResult, error)
}

// PollerConfig bounds a polling run
type PollerConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	RetryDelay   time.Duration
}

// Poller confirms a payment by querying the gateway until it reports a terminal status
type Poller struct {
	gateway StatusQuerier
	cfg     PollerConfig
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a poller; zero config values fall back to the defaults
func NewPoller(gateway StatusQuerier, cfg PollerConfig) *Poller {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = config.DefaultMaxRetries
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = config.DefaultInitialDelay
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = config.DefaultRetryDelay
	}
	return &Poller{gateway: gateway, cfg: cfg, sleep: sleepContext}
}

// verdict is how one status query is treated
type verdict int

const (
	verdictPending verdict = iota
	verdictCompleted
	verdictFailed
)

// classify maps a status query outcome onto pending, completed or failed.
// Transport errors and QUERY_FAILED are pending; FAILED and HTTP >= 400 are failed.
func classify(result *models.TransactionStatusResult, err error) verdict {
	if err != nil || result == nil {
		return verdictPending
	}
	if queryFailed(result) {
		return verdictPending
	}
	if result.Status == models.StatusFailed || result.HTTPStatus >= 400 {
		return verdictFailed
	}
	if result.Status == models.StatusCompleted {
		return verdictCompleted
	}
	return verdictPending
}

func queryFailed(result *models.TransactionStatusResult) bool {
	return strings.Contains(result.ResultText, models.QueryFailedSentinel) ||
		strings.Contains(result.Error, models.QueryFailedSentinel)
}

// Poll waits InitialDelay, then queries at most MaxRetries times, RetryDelay apart.
//
// It returns the COMPLETED result, a *models.GatewayReportedFailure as soon as the
// gateway reports a failure, a *models.TimeoutExceeded once the budget is spent,
// or ctx.Err() when cancelled.
func (p *Poller) Poll(ctx context.Context, token string) (*models.TransactionStatusResult, error) {
	log := logging.L().With(logging.Token(token))

	if err := p.sleep(ctx, p.cfg.InitialDelay); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		result, err := p.gateway.QueryStatus(ctx, token)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		switch classify(result, err) {
		case verdictCompleted:
			metrics.PollAttempts.Observe(float64(attempt))
			log.Info("payment confirmed by polling", zap.Int("attempt", attempt))
			return result, nil

		case verdictFailed:
			metrics.PollAttempts.Observe(float64(attempt))
			log.Warn("gateway reported payment failure",
				zap.Int("attempt", attempt),
				zap.String("status", string(result.Status)),
				zap.Int("http_status", result.HTTPStatus),
				zap.String("diagnostic", result.Diagnostic()))
			return nil, &models.GatewayReportedFailure{Result: result}

		default:
			if err != nil {
				lastErr = err
				log.Warn("status query failed, will retry", zap.Int("attempt", attempt), zap.Error(err))
			} else if queryFailed(result) {
				lastErr = &models.GatewayError{
					Op:         "query_status",
					StatusCode: result.HTTPStatus,
					Err:        errors.New(result.Diagnostic()),
				}
				log.Debug("gateway could not look up transaction yet", zap.Int("attempt", attempt))
			}
		}

		if attempt < p.cfg.MaxRetries {
			if err := p.sleep(ctx, p.cfg.RetryDelay); err != nil {
				return nil, err
			}
		}
	}

	metrics.PollAttempts.Observe(float64(p.cfg.MaxRetries))
	timeout := &models.TimeoutExceeded{Attempts: p.cfg.MaxRetries, LastError: lastErr}
	log.Warn("payment confirmation timed out", zap.Error(timeout))
	return nil, timeout
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
