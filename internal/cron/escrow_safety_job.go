package cron

import (
	"context"
	"fmt"

	"github.com/trgnguyen/remarket-backend/pkg/logger"
)

// orphanCanceler is the slice of the escrow service this job drives.
type orphanCanceler interface {
	CancelOrphaned(ctx context.Context, batch int) (int, error)
}

// EscrowSafetyJob voids holding records whose parent order never reached paid.
type EscrowSafetyJob struct {
	escrow orphanCanceler
	logg   *logger.Logger
	batch  int
}

// NewEscrowSafetyJob builds the orphaned-escrow safety sweep.
func NewEscrowSafetyJob(escrow orphanCanceler, logg *logger.Logger, batch int) (*EscrowSafetyJob, error) {
	if escrow == nil {
		return nil, fmt.Errorf("escrow service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if batch <= 0 {
		batch = 200
	}
	return &EscrowSafetyJob{escrow: escrow, logg: logg, batch: batch}, nil
}

// Name identifies the job in logs and metrics.
func (j *EscrowSafetyJob) Name() string {
	return "escrow_safety_sweep"
}

// Run performs one sweep.
func (j *EscrowSafetyJob) Run(ctx context.Context) error {
	canceled, err := j.escrow.CancelOrphaned(ctx, j.batch)
	if canceled > 0 {
		j.logg.Warn(j.logg.WithField(ctx, "canceled_count", canceled), "orphaned escrow records voided")
	}
	return err
}
