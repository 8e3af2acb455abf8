package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/trgnguyen/remarket-backend/pkg/logger"
)

// staleExpirer is the slice of the logistics service this job drives.
type staleExpirer interface {
	ExpireStale(ctx context.Context, inactivityWindow time.Duration, batch int) (int, error)
}

// LogisticsExpiryJob expires items with no custody activity past the policy
// window. Their escrow stays holding and surfaces in the admin problem queue.
type LogisticsExpiryJob struct {
	logistics staleExpirer
	logg      *logger.Logger
	window    time.Duration
	batch     int
}

// NewLogisticsExpiryJob builds the inactivity sweep.
func NewLogisticsExpiryJob(logistics staleExpirer, logg *logger.Logger, window time.Duration, batch int) (*LogisticsExpiryJob, error) {
	if logistics == nil {
		return nil, fmt.Errorf("logistics service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if window <= 0 {
		window = 14 * 24 * time.Hour
	}
	if batch <= 0 {
		batch = 200
	}
	return &LogisticsExpiryJob{logistics: logistics, logg: logg, window: window, batch: batch}, nil
}

// Name identifies the job in logs and metrics.
func (j *LogisticsExpiryJob) Name() string {
	return "logistics_expiry"
}

// Run performs one sweep.
func (j *LogisticsExpiryJob) Run(ctx context.Context) error {
	expired, err := j.logistics.ExpireStale(ctx, j.window, j.batch)
	if expired > 0 {
		j.logg.Info(j.logg.WithField(ctx, "expired_count", expired), "stale logistics items expired")
	}
	return err
}
