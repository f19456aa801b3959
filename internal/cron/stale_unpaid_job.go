package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/tradewell/marketplace-backend/pkg/db/models"
	"github.com/tradewell/marketplace-backend/pkg/logger"
)

const defaultStaleUnpaidAfter = 4 * time.Hour

type staleGroupReader interface {
	FindStaleUnpaidGroups(ctx context.Context, cutoff time.Time) ([]models.OrderGroup, error)
}

type groupCanceller interface {
	CancelGroupAsSystem(ctx context.Context, groupID uuid.UUID) error
}

// StaleUnpaidJobParams configure the unpaid-group cancellation job.
type StaleUnpaidJobParams struct {
	Logger *logger.Logger
	Reader staleGroupReader
	Orders groupCanceller
	After  time.Duration
}

// NewStaleUnpaidJob builds the job that cancels digital order groups whose
// payment never arrived inside the configured window. Cancellation routes
// through the order service, so each group is re-checked under row locks and
// restock events are emitted the same way a manual cancel would.
func NewStaleUnpaidJob(params StaleUnpaidJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("stale group reader required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order canceller required")
	}
	after := params.After
	if after <= 0 {
		after = defaultStaleUnpaidAfter
	}
	return &staleUnpaidJob{
		logg:   params.Logger,
		reader: params.Reader,
		orders: params.Orders,
		after:  after,
		now:    time.Now,
	}, nil
}

type staleUnpaidJob struct {
	logg   *logger.Logger
	reader staleGroupReader
	orders groupCanceller
	after  time.Duration
	now    func() time.Time
}

func (j *staleUnpaidJob) Name() string { return "stale-unpaid-cancel" }

func (j *staleUnpaidJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.after)
	groups, err := j.reader.FindStaleUnpaidGroups(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("query stale unpaid groups: %w", err)
	}

	var errs []error
	cancelled := 0
	for _, group := range groups {
		if err := j.orders.CancelGroupAsSystem(ctx, group.ID); err != nil {
			errs = append(errs, fmt.Errorf("cancel group %s: %w", group.ID, err))
			continue
		}
		cancelled++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":    cutoff,
		"scanned":   len(groups),
		"cancelled": cancelled,
		"failed":    len(errs),
	})
	j.logg.Info(logCtx, "stale unpaid group sweep complete")
	return multierr.Combine(errs...)
}
