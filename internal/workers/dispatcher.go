package workers

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/tradewell/marketplace-backend/pkg/config"
	"github.com/tradewell/marketplace-backend/pkg/db/models"
	"github.com/tradewell/marketplace-backend/pkg/enums"
	"github.com/tradewell/marketplace-backend/pkg/logger"
	"github.com/tradewell/marketplace-backend/pkg/metrics"
	"github.com/tradewell/marketplace-backend/pkg/outbox"
	"github.com/tradewell/marketplace-backend/pkg/outbox/payloads"
)

// RestockActor stamps ledger credits performed by the dispatcher.
const RestockActor = "system:cancelled-order"

const (
	defaultBatchSize    = 50
	defaultPollInterval = 2 * time.Second
	defaultMaxAttempts  = 5
	maxBackoff          = 10 * time.Second
	jitterWindow        = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type outboxRepository interface {
	FetchUnpublished(limit int, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublished(id uuid.UUID) error
	MarkFailed(id uuid.UUID, err error) error
	CountUnpublished() (int64, error)
}

type restocker interface {
	RestockOrder(ctx context.Context, orderID uuid.UUID, actor string) error
}

type paymentVerifier interface {
	Verify(ctx context.Context, reference string) (*models.Payment, error)
}

// DispatcherParams configure the outbox dispatcher.
type DispatcherParams struct {
	Config    *config.OutboxConfig
	Logger    *logger.Logger
	Repo      outboxRepository
	Inventory restocker
	Payments  paymentVerifier
	Metrics   *metrics.OutboxMetrics
}

// Dispatcher drains committed outbox events and routes them to in-process
// handlers: order cancellations trigger ledger restocks, payment verification
// requests trigger gateway reconciliation. Events with no handler are marked
// published untouched so the table keeps a full audit trail.
type Dispatcher struct {
	logg         *logger.Logger
	repo         outboxRepository
	inventory    restocker
	payments     paymentVerifier
	metrics      *metrics.OutboxMetrics
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Repo == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.Inventory == nil {
		return nil, errors.New("inventory restocker is required")
	}
	if params.Payments == nil {
		return nil, errors.New("payment verifier is required")
	}

	batch := defaultBatchSize
	interval := defaultPollInterval
	maxAttempts := defaultMaxAttempts
	if params.Config != nil {
		if params.Config.BatchSize > 0 {
			batch = params.Config.BatchSize
		}
		if params.Config.PollInterval > 0 {
			interval = params.Config.PollInterval
		}
		if params.Config.MaxAttempts > 0 {
			maxAttempts = params.Config.MaxAttempts
		}
	}

	return &Dispatcher{
		logg:         params.Logger,
		repo:         params.Repo,
		inventory:    params.Inventory,
		payments:     params.Payments,
		metrics:      params.Metrics,
		batchSize:    batch,
		maxAttempts:  maxAttempts,
		pollInterval: interval,
	}, nil
}

// Run polls until the context is canceled. An empty batch sleeps for the poll
// interval; batch errors back off exponentially with jitter.
func (d *Dispatcher) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	backoff := d.pollInterval

	for {
		select {
		case <-ctx.Done():
			d.logg.Info(ctx, "outbox dispatcher context canceled")
			return ctx.Err()
		default:
		}

		processed, err := d.ProcessBatch(ctx)
		if err != nil {
			d.logg.Error(ctx, "outbox dispatch batch error", err)
			backoff = nextBackoff(backoff, d.pollInterval, maxBackoff)
			if err := d.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = d.pollInterval
		if processed {
			continue
		}
		if err := d.sleep(ctx, withJitter(d.pollInterval)); err != nil {
			return err
		}
	}
}

// ProcessBatch handles one fetch of unpublished events. It returns true when
// any event was picked up.
func (d *Dispatcher) ProcessBatch(ctx context.Context) (bool, error) {
	events, err := d.repo.FetchUnpublished(d.batchSize, d.maxAttempts)
	if err != nil {
		return false, err
	}
	if len(events) == 0 {
		d.observePending()
		return false, nil
	}

	for _, event := range events {
		fields := map[string]any{
			"outbox_id":     event.ID.String(),
			"event_type":    event.EventType,
			"aggregate_id":  event.AggregateID.String(),
			"attempt_count": event.AttemptCount,
		}
		logCtx := d.logg.WithFields(ctx, fields)

		if err := d.handle(ctx, event); err != nil {
			d.logg.Warn(d.logg.WithFields(logCtx, map[string]any{"error": err.Error()}), "outbox event handling failed")
			if d.metrics != nil {
				d.metrics.IncFailed(event.EventType.String())
			}
			if markErr := d.repo.MarkFailed(event.ID, err); markErr != nil {
				return true, fmt.Errorf("mark failed %s: %w", event.ID, markErr)
			}
			continue
		}

		if markErr := d.repo.MarkPublished(event.ID); markErr != nil {
			return true, fmt.Errorf("mark published %s: %w", event.ID, markErr)
		}
		if d.metrics != nil {
			d.metrics.IncPublished(event.EventType.String())
		}
		d.logg.Info(logCtx, "outbox event handled")
	}
	d.observePending()
	return true, nil
}

func (d *Dispatcher) handle(ctx context.Context, event models.OutboxEvent) error {
	switch event.EventType {
	case enums.EventOrderCancelled:
		var payload payloads.OrderCancelledEvent
		if err := outbox.DecodeData(event, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", event.EventType, err)
		}
		return d.inventory.RestockOrder(ctx, payload.OrderID, RestockActor)
	case enums.EventPaymentVerifyRequest:
		var payload payloads.PaymentVerifyRequestedEvent
		if err := outbox.DecodeData(event, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", event.EventType, err)
		}
		_, err := d.payments.Verify(ctx, payload.Reference)
		return err
	default:
		// informational events have no in-process consumer
		return nil
	}
}

func (d *Dispatcher) observePending() {
	if d.metrics == nil {
		return
	}
	pending, err := d.repo.CountUnpublished()
	if err != nil {
		return
	}
	d.metrics.SetPending(int(pending))
}

func (d *Dispatcher) sleep(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(duration time.Duration) time.Duration {
	if duration <= 0 {
		return 0
	}
	return duration + time.Duration(jitterSource.Int63n(int64(jitterWindow)))
}
