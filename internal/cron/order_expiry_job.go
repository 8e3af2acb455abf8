package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/trgnguyen/remarket-backend/pkg/logger"
)

// unpaidExpirer is the slice of the orders service this job drives.
type unpaidExpirer interface {
	ExpireUnpaid(ctx context.Context, olderThan time.Duration, batch int) (int, error)
}

// OrderExpiryJob cancels orders whose payment window has elapsed.
type OrderExpiryJob struct {
	orders unpaidExpirer
	logg   *logger.Logger
	ttl    time.Duration
	batch  int
}

// NewOrderExpiryJob builds the payment-window sweep.
func NewOrderExpiryJob(orders unpaidExpirer, logg *logger.Logger, ttl time.Duration, batch int) (*OrderExpiryJob, error) {
	if orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if batch <= 0 {
		batch = 200
	}
	return &OrderExpiryJob{orders: orders, logg: logg, ttl: ttl, batch: batch}, nil
}

// Name identifies the job in logs and metrics.
func (j *OrderExpiryJob) Name() string {
	return "order_expiry"
}

// Run performs one sweep.
func (j *OrderExpiryJob) Run(ctx context.Context) error {
	expired, err := j.orders.ExpireUnpaid(ctx, j.ttl, j.batch)
	if expired > 0 {
		j.logg.Info(j.logg.WithField(ctx, "expired_count", expired), "unpaid orders expired")
	}
	return err
}
