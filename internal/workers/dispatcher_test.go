package workers

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tradewell/marketplace-backend/pkg/config"
	"github.com/tradewell/marketplace-backend/pkg/db/models"
	"github.com/tradewell/marketplace-backend/pkg/enums"
	"github.com/tradewell/marketplace-backend/pkg/logger"
	"github.com/tradewell/marketplace-backend/pkg/outbox"
	"github.com/tradewell/marketplace-backend/pkg/outbox/payloads"
)

type fakeRestocker struct {
	orders []uuid.UUID
	err    error
}

func (f *fakeRestocker) RestockOrder(ctx context.Context, orderID uuid.UUID, actor string) error {
	if f.err != nil {
		return f.err
	}
	f.orders = append(f.orders, orderID)
	return nil
}

type fakeVerifier struct {
	references []string
	err        error
}

func (f *fakeVerifier) Verify(ctx context.Context, reference string) (*models.Payment, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.references = append(f.references, reference)
	return &models.Payment{Reference: reference, Verified: true}, nil
}

type dispatcherEnv struct {
	conn      *gorm.DB
	svc       *outbox.Service
	disp      *Dispatcher
	restocker *fakeRestocker
	verifier  *fakeVerifier
}

func newDispatcherEnv(t *testing.T) *dispatcherEnv {
	t.Helper()
	dsn := "file:workers_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(models.All()...))

	logg := logger.New(logger.Options{ServiceName: "workers-test"})
	repo := outbox.NewRepository(conn)
	restocker := &fakeRestocker{}
	verifier := &fakeVerifier{}
	disp, err := NewDispatcher(DispatcherParams{
		Config:    &config.OutboxConfig{BatchSize: 10, MaxAttempts: 3},
		Logger:    logg,
		Repo:      repo,
		Inventory: restocker,
		Payments:  verifier,
	})
	require.NoError(t, err)
	return &dispatcherEnv{
		conn:      conn,
		svc:       outbox.NewService(repo, logg),
		disp:      disp,
		restocker: restocker,
		verifier:  verifier,
	}
}

func (e *dispatcherEnv) emit(t *testing.T, event outbox.DomainEvent) {
	t.Helper()
	require.NoError(t, e.conn.Transaction(func(tx *gorm.DB) error {
		return e.svc.Emit(context.Background(), tx, event)
	}))
}

func (e *dispatcherEnv) unpublishedCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.conn.Model(&models.OutboxEvent{}).
		Where("published_at IS NULL").Count(&count).Error)
	return count
}

func TestDispatcherRoutesCancelledOrderToRestock(t *testing.T) {
	t.Parallel()

	env := newDispatcherEnv(t)
	orderID := uuid.New()
	env.emit(t, outbox.DomainEvent{
		EventType:     enums.EventOrderCancelled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Version:       1,
		Data:          payloads.OrderCancelledEvent{OrderID: orderID},
	})

	processed, err := env.disp.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	require.Len(t, env.restocker.orders, 1)
	assert.Equal(t, orderID, env.restocker.orders[0])
	assert.Zero(t, env.unpublishedCount(t))
}

func TestDispatcherRoutesVerifyRequestToPayments(t *testing.T) {
	t.Parallel()

	env := newDispatcherEnv(t)
	env.emit(t, outbox.DomainEvent{
		EventType:     enums.EventPaymentVerifyRequest,
		AggregateType: enums.AggregatePayment,
		AggregateID:   uuid.New(),
		Version:       1,
		Data:          payloads.PaymentVerifyRequestedEvent{Reference: "mh_ref"},
	})

	_, err := env.disp.ProcessBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, env.verifier.references, 1)
	assert.Equal(t, "mh_ref", env.verifier.references[0])
}

func TestDispatcherMarksUnroutedEventsPublished(t *testing.T) {
	t.Parallel()

	env := newDispatcherEnv(t)
	env.emit(t, outbox.DomainEvent{
		EventType:     enums.EventOrderGroupCreated,
		AggregateType: enums.AggregateOrderGroup,
		AggregateID:   uuid.New(),
		Version:       1,
		Data:          payloads.OrderGroupCreatedEvent{OrderGroupID: uuid.New()},
	})

	_, err := env.disp.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, env.unpublishedCount(t))
	assert.Empty(t, env.restocker.orders)
	assert.Empty(t, env.verifier.references)
}

func TestDispatcherRetriesFailedHandlerUpToMaxAttempts(t *testing.T) {
	t.Parallel()

	env := newDispatcherEnv(t)
	env.verifier.err = errors.New("gateway down")
	env.emit(t, outbox.DomainEvent{
		EventType:     enums.EventPaymentVerifyRequest,
		AggregateType: enums.AggregatePayment,
		AggregateID:   uuid.New(),
		Version:       1,
		Data:          payloads.PaymentVerifyRequestedEvent{Reference: "mh_bad"},
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		processed, err := env.disp.ProcessBatch(ctx)
		require.NoError(t, err)
		assert.True(t, processed)
	}

	// attempts exhausted; the row stays unpublished but leaves the queue
	processed, err := env.disp.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.False(t, processed)

	var row models.OutboxEvent
	require.NoError(t, env.conn.First(&row).Error)
	assert.Equal(t, 3, row.AttemptCount)
	assert.Nil(t, row.PublishedAt)
	require.NotNil(t, row.LastError)
	assert.Contains(t, *row.LastError, "gateway down")
}
