package payments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tradewell/marketplace-backend/pkg/db"
	"github.com/tradewell/marketplace-backend/pkg/db/models"
	"github.com/tradewell/marketplace-backend/pkg/enums"
	pkgerrors "github.com/tradewell/marketplace-backend/pkg/errors"
	"github.com/tradewell/marketplace-backend/pkg/gateway"
	"github.com/tradewell/marketplace-backend/pkg/logger"
	"github.com/tradewell/marketplace-backend/pkg/outbox"
)

type fakeGateway struct {
	initCalls   int
	verifyCalls int
	failVerify  int
	status      string
	paidAt      time.Time
}

func (f *fakeGateway) Initialize(ctx context.Context, params gateway.InitializeParams) (*gateway.InitializeResult, error) {
	f.initCalls++
	return &gateway.InitializeResult{
		AuthorizationURL: "https://pay.example/" + params.Reference,
		Reference:        params.Reference,
	}, nil
}

func (f *fakeGateway) VerifyByReference(ctx context.Context, reference string) (*gateway.VerifyResult, error) {
	f.verifyCalls++
	if f.verifyCalls <= f.failVerify {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "upstream unavailable")
	}
	status := f.status
	if status == "" {
		status = "success"
	}
	return &gateway.VerifyResult{Reference: reference, Status: status, PaidAt: f.paidAt}, nil
}

type testEnv struct {
	conn  *gorm.DB
	svc   *Service
	gw    *fakeGateway
	buyer *models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := "file:payments_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(models.All()...))

	logg := logger.New(logger.Options{ServiceName: "payments-test"})
	gw := &fakeGateway{}
	svc, err := NewService(ServiceParams{
		DB:          db.FromGorm(conn),
		Repo:        NewRepository(conn),
		Gateway:     gw,
		Outbox:      outbox.NewService(outbox.NewRepository(conn), logg),
		Logger:      logg,
		CallbackURL: "https://shop.example/payments/callback",
	})
	require.NoError(t, err)
	// immediate backoff keeps tests fast
	svc.backoff = func() retry.Backoff {
		return retry.WithMaxRetries(verifyMaxAttempts-1, retry.BackoffFunc(func() (time.Duration, bool) {
			return 0, false
		}))
	}

	buyer := models.User{Email: "buyer@example.com", Name: "Buyer"}
	require.NoError(t, conn.Create(&buyer).Error)
	return &testEnv{conn: conn, svc: svc, gw: gw, buyer: &buyer}
}

func (e *testEnv) seedGroup(t *testing.T, method enums.PaymentMethod, status enums.OrderGroupStatus) (*models.OrderGroup, *models.Order) {
	t.Helper()
	group := models.OrderGroup{
		UserID:            e.buyer.ID,
		FulfillmentMethod: enums.FulfillmentMethodDelivery,
		PaymentMethod:     method,
		Status:            status,
		TotalAmount:       decimal.RequireFromString("4500.00"),
	}
	require.NoError(t, e.conn.Create(&group).Error)

	owner := models.User{Email: uuid.NewString() + "@example.com", Name: "Owner"}
	require.NoError(t, e.conn.Create(&owner).Error)
	shop := models.Shop{OwnerUserID: owner.ID, Name: "Shop", Active: true}
	require.NoError(t, e.conn.Create(&shop).Error)
	order := models.Order{
		GroupID:     group.ID,
		ShopID:      shop.ID,
		Status:      enums.OrderStatusPending,
		TotalAmount: group.TotalAmount,
	}
	require.NoError(t, e.conn.Create(&order).Error)
	return &group, &order
}

func TestInitializeCreatesPayment(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	group, _ := env.seedGroup(t, enums.PaymentMethodDigital, enums.OrderGroupStatusPending)

	result, err := env.svc.Initialize(context.Background(), env.buyer.ID, group.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Reference)
	assert.Contains(t, result.AuthorizationURL, result.Reference)
	assert.Equal(t, int64(450000), result.Amount)
	assert.Equal(t, 1, env.gw.initCalls)
}

func TestInitializeRotatesUnverifiedReference(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	group, _ := env.seedGroup(t, enums.PaymentMethodDigital, enums.OrderGroupStatusPending)
	ctx := context.Background()

	first, err := env.svc.Initialize(ctx, env.buyer.ID, group.ID)
	require.NoError(t, err)
	second, err := env.svc.Initialize(ctx, env.buyer.ID, group.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.Reference, second.Reference)

	var count int64
	require.NoError(t, env.conn.Model(&models.Payment{}).Where("order_group_id = ?", group.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestInitializeVerifiedIsDuplicate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	group, _ := env.seedGroup(t, enums.PaymentMethodDigital, enums.OrderGroupStatusPending)
	require.NoError(t, env.conn.Create(&models.Payment{
		OrderGroupID: group.ID,
		Reference:    "ref-" + uuid.NewString(),
		Amount:       450000,
		Verified:     true,
	}).Error)

	_, err := env.svc.Initialize(context.Background(), env.buyer.ID, group.ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDuplicateTransaction))
}

func TestInitializeRejectsCashGroup(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	group, _ := env.seedGroup(t, enums.PaymentMethodCash, enums.OrderGroupStatusPending)

	_, err := env.svc.Initialize(context.Background(), env.buyer.ID, group.ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestWebhookQueuesVerification(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	group, _ := env.seedGroup(t, enums.PaymentMethodDigital, enums.OrderGroupStatusPending)
	payment := models.Payment{OrderGroupID: group.ID, Reference: "ref-hook", Amount: 450000}
	require.NoError(t, env.conn.Create(&payment).Error)

	event := WebhookEvent{Event: WebhookEventChargeSuccess}
	event.Data.Reference = "ref-hook"
	require.NoError(t, env.svc.HandleWebhookEvent(context.Background(), event))

	var rows []models.OutboxEvent
	require.NoError(t, env.conn.Where("event_type = ?", enums.EventPaymentVerifyRequest).Find(&rows).Error)
	require.Len(t, rows, 1)
}

func TestWebhookRedeliveryQueuesOnce(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	group, _ := env.seedGroup(t, enums.PaymentMethodDigital, enums.OrderGroupStatusPending)
	payment := models.Payment{OrderGroupID: group.ID, Reference: "ref-redeliver", Amount: 450000}
	require.NoError(t, env.conn.Create(&payment).Error)

	event := WebhookEvent{Event: WebhookEventChargeSuccess}
	event.Data.Reference = "ref-redeliver"
	require.NoError(t, env.svc.HandleWebhookEvent(context.Background(), event))
	require.NoError(t, env.svc.HandleWebhookEvent(context.Background(), event))

	var rows []models.OutboxEvent
	require.NoError(t, env.conn.Where("event_type = ?", enums.EventPaymentVerifyRequest).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, payment.ID, rows[0].AggregateID)
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	event := WebhookEvent{Event: "charge.failed"}
	event.Data.Reference = "ref-x"
	require.NoError(t, env.svc.HandleWebhookEvent(context.Background(), event))

	var count int64
	require.NoError(t, env.conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestVerifyMarksPaymentAndSiblingOrders(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	group, order := env.seedGroup(t, enums.PaymentMethodDigital, enums.OrderGroupStatusPending)
	payment := models.Payment{OrderGroupID: group.ID, Reference: "ref-verify", Amount: 450000}
	require.NoError(t, env.conn.Create(&payment).Error)
	env.gw.paidAt = time.Now().Add(-time.Minute)

	verified, err := env.svc.Verify(context.Background(), "ref-verify")
	require.NoError(t, err)
	assert.True(t, verified.Verified)
	require.NotNil(t, verified.PaidAt)

	var o models.Order
	require.NoError(t, env.conn.First(&o, "id = ?", order.ID).Error)
	assert.True(t, o.IsPaid)
	require.NotNil(t, o.PaidAt)

	var g models.OrderGroup
	require.NoError(t, env.conn.First(&g, "id = ?", group.ID).Error)
	assert.True(t, g.IsPaid)
}

func TestVerifyIdempotent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	group, _ := env.seedGroup(t, enums.PaymentMethodDigital, enums.OrderGroupStatusPending)
	paidAt := time.Now()
	require.NoError(t, env.conn.Create(&models.Payment{
		OrderGroupID: group.ID,
		Reference:    "ref-done",
		Amount:       450000,
		Verified:     true,
		PaidAt:       &paidAt,
	}).Error)

	verified, err := env.svc.Verify(context.Background(), "ref-done")
	require.NoError(t, err)
	assert.True(t, verified.Verified)
	assert.Zero(t, env.gw.verifyCalls, "verified payment must not hit the gateway")
}

func TestVerifyRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	group, _ := env.seedGroup(t, enums.PaymentMethodDigital, enums.OrderGroupStatusPending)
	require.NoError(t, env.conn.Create(&models.Payment{
		OrderGroupID: group.ID,
		Reference:    "ref-retry",
		Amount:       450000,
	}).Error)
	env.gw.failVerify = 2

	verified, err := env.svc.Verify(context.Background(), "ref-retry")
	require.NoError(t, err)
	assert.True(t, verified.Verified)
	assert.Equal(t, 3, env.gw.verifyCalls)
}

func TestVerifyExhaustsRetries(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	group, _ := env.seedGroup(t, enums.PaymentMethodDigital, enums.OrderGroupStatusPending)
	require.NoError(t, env.conn.Create(&models.Payment{
		OrderGroupID: group.ID,
		Reference:    "ref-fail",
		Amount:       450000,
	}).Error)
	env.gw.failVerify = 100

	_, err := env.svc.Verify(context.Background(), "ref-fail")
	require.Error(t, err)
	assert.Equal(t, verifyMaxAttempts, env.gw.verifyCalls)

	var payment models.Payment
	require.NoError(t, env.conn.First(&payment, "reference = ?", "ref-fail").Error)
	assert.False(t, payment.Verified)
}
