package ratelimit

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/vetclinic/internal/config"
	"go.uber.org/zap"
)

var ErrRateLimited = errors.New("rate_limited")

// PaymentLimiter throttles charge attempts per tenant.
type PaymentLimiter struct {
	bucket *Bucket
	cfg    *config.PaymentsConfigHolder
	log    *zap.Logger
}

func NewPaymentLimiter(bucket *Bucket, cfg *config.PaymentsConfigHolder, log *zap.Logger) *PaymentLimiter {
	return &PaymentLimiter{
		bucket: bucket,
		cfg:    cfg,
		log:    log.Named("ratelimit.payment"),
	}
}

// Allow returns ErrRateLimited when the tenant exhausted its attempts. A
// limiter without Redis, a disabled limit or a Redis failure lets the
// attempt through.
func (l *PaymentLimiter) Allow(ctx context.Context, tenantID string) (Decision, error) {
	pass := Decision{Allowed: true}
	if l == nil || l.bucket == nil {
		return pass, nil
	}
	settings := l.cfg.Get().RateLimit
	if !settings.Enabled {
		return pass, nil
	}

	key := "vetclinic:ratelimit:payment:" + strings.TrimSpace(tenantID)
	d, err := l.bucket.Take(ctx, key, Limit{Rate: settings.Rate, Burst: settings.Burst})
	if err != nil {
		l.log.Warn("payment rate limiter unavailable", zap.String("tenant_id", tenantID), zap.Error(err))
		return pass, nil
	}
	if !d.Allowed {
		l.log.Info("payment attempt throttled",
			zap.String("tenant_id", tenantID),
			zap.Duration("retry_after", d.RetryAfter),
		)
		return d, ErrRateLimited
	}
	return d, nil
}
