package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/recapz-backend/pkg/logger"
)

type creditResetter interface {
	ResetMonthly(ctx context.Context) (int64, error)
}

// CreditResetJobParams configures the monthly credit reset.
type CreditResetJobParams struct {
	Logger *logger.Logger
	Ledger creditResetter
}

// NewCreditResetJob zeroes used credits for accounts not yet reset this
// calendar month. Hourly runs make the reset land shortly after midnight UTC
// on the first; later runs in the month touch nothing.
func NewCreditResetJob(params CreditResetJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	return &creditResetJob{logg: params.Logger, ledger: params.Ledger}, nil
}

type creditResetJob struct {
	logg   *logger.Logger
	ledger creditResetter
}

func (j *creditResetJob) Name() string { return "credit-reset" }

func (j *creditResetJob) Run(ctx context.Context) error {
	count, err := j.ledger.ResetMonthly(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		j.logg.Info(j.logg.WithField(ctx, "accounts", count), "cron.credits_reset")
	}
	return nil
}
