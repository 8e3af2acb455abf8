package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/trgnguyen/remarket-backend/pkg/logger"
)

// overdueReleaser is the slice of the escrow service this job drives.
type overdueReleaser interface {
	ReleaseOverdue(ctx context.Context, graceWindow time.Duration, batch int) (int, error)
}

// EscrowReleaseJob drains escrow records still holding past the post-delivery
// grace window.
type EscrowReleaseJob struct {
	escrow overdueReleaser
	logg   *logger.Logger
	grace  time.Duration
	batch  int
}

// NewEscrowReleaseJob builds the grace-window release sweep.
func NewEscrowReleaseJob(escrow overdueReleaser, logg *logger.Logger, grace time.Duration, batch int) (*EscrowReleaseJob, error) {
	if escrow == nil {
		return nil, fmt.Errorf("escrow service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if grace <= 0 {
		grace = 72 * time.Hour
	}
	if batch <= 0 {
		batch = 200
	}
	return &EscrowReleaseJob{escrow: escrow, logg: logg, grace: grace, batch: batch}, nil
}

// Name identifies the job in logs and metrics.
func (j *EscrowReleaseJob) Name() string {
	return "escrow_release_sweep"
}

// Run performs one sweep.
func (j *EscrowReleaseJob) Run(ctx context.Context) error {
	released, err := j.escrow.ReleaseOverdue(ctx, j.grace, j.batch)
	if released > 0 {
		j.logg.Info(j.logg.WithField(ctx, "released_count", released), "overdue escrow records released")
	}
	return err
}
