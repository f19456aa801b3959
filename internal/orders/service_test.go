package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tradewell/marketplace-backend/pkg/db"
	"github.com/tradewell/marketplace-backend/pkg/db/models"
	"github.com/tradewell/marketplace-backend/pkg/enums"
	pkgerrors "github.com/tradewell/marketplace-backend/pkg/errors"
	"github.com/tradewell/marketplace-backend/pkg/logger"
	"github.com/tradewell/marketplace-backend/pkg/outbox"
	"github.com/tradewell/marketplace-backend/pkg/visibility"
)

type testEnv struct {
	conn  *gorm.DB
	svc   *Service
	buyer *models.User
	shop  *models.Shop
	owner *models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := "file:orders_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(models.All()...))

	logg := logger.New(logger.Options{ServiceName: "orders-test"})
	svc, err := NewService(ServiceParams{
		DB:     db.FromGorm(conn),
		Repo:   NewRepository(conn),
		Outbox: outbox.NewService(outbox.NewRepository(conn), logg),
		Logger: logg,
	})
	require.NoError(t, err)

	buyer := models.User{Email: uuid.NewString() + "@example.com", Name: "Buyer"}
	require.NoError(t, conn.Create(&buyer).Error)
	owner := models.User{Email: uuid.NewString() + "@example.com", Name: "Owner"}
	require.NoError(t, conn.Create(&owner).Error)
	shop := models.Shop{OwnerUserID: owner.ID, Name: "Shop", Active: true}
	require.NoError(t, conn.Create(&shop).Error)

	return &testEnv{conn: conn, svc: svc, buyer: &buyer, shop: &shop, owner: &owner}
}

type groupOpts struct {
	fulfillment enums.FulfillmentMethod
	payment     enums.PaymentMethod
	isPaid      bool
	createdAt   time.Time
	orderStatus enums.OrderStatus
	orderCount  int
}

func (e *testEnv) seedGroup(t *testing.T, opts groupOpts) (*models.OrderGroup, []models.Order) {
	t.Helper()
	if opts.orderCount == 0 {
		opts.orderCount = 1
	}
	if opts.orderStatus == "" {
		opts.orderStatus = enums.OrderStatusPending
	}
	group := models.OrderGroup{
		UserID:            e.buyer.ID,
		FulfillmentMethod: opts.fulfillment,
		PaymentMethod:     opts.payment,
		Status:            enums.OrderGroupStatusPending,
		TotalAmount:       decimal.NewFromInt(5000),
		IsPaid:            opts.isPaid,
	}
	require.NoError(t, e.conn.Create(&group).Error)
	if !opts.createdAt.IsZero() {
		require.NoError(t, e.conn.Model(&models.OrderGroup{}).Where("id = ?", group.ID).Update("created_at", opts.createdAt).Error)
		group.CreatedAt = opts.createdAt
	}

	orders := make([]models.Order, 0, opts.orderCount)
	for i := 0; i < opts.orderCount; i++ {
		order := models.Order{
			GroupID:     group.ID,
			ShopID:      e.shop.ID,
			Status:      opts.orderStatus,
			TotalAmount: decimal.NewFromInt(2500),
			IsPaid:      opts.isPaid,
		}
		require.NoError(t, e.conn.Create(&order).Error)
		orders = append(orders, order)
	}
	return &group, orders
}

func (e *testEnv) shopActor() visibility.Actor {
	return visibility.Actor{UserID: e.owner.ID, Role: enums.ActorRoleShopStaff, ShopID: e.shop.ID}
}

func futureDate() *time.Time {
	d := time.Now().Add(48 * time.Hour)
	return &d
}

func pastDate() *time.Time {
	d := time.Now().Add(-48 * time.Hour)
	return &d
}

func TestTransitionTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		opts     groupOpts
		req      TransitionRequest
		wantCode pkgerrors.Code
	}{
		{
			name: "pending to processing cash",
			opts: groupOpts{fulfillment: enums.FulfillmentMethodPickup, payment: enums.PaymentMethodCash},
			req:  TransitionRequest{Target: enums.OrderStatusProcessing},
		},
		{
			name:     "pending to processing unpaid digital rejected",
			opts:     groupOpts{fulfillment: enums.FulfillmentMethodDelivery, payment: enums.PaymentMethodDigital},
			req:      TransitionRequest{Target: enums.OrderStatusProcessing},
			wantCode: pkgerrors.CodeInvalidPaymentStatus,
		},
		{
			name: "pending to processing paid digital",
			opts: groupOpts{fulfillment: enums.FulfillmentMethodDelivery, payment: enums.PaymentMethodDigital, isPaid: true},
			req:  TransitionRequest{Target: enums.OrderStatusProcessing},
		},
		{
			name:     "pending to shipped rejected",
			opts:     groupOpts{fulfillment: enums.FulfillmentMethodDelivery, payment: enums.PaymentMethodCash},
			req:      TransitionRequest{Target: enums.OrderStatusShipped, DeliveryDate: futureDate()},
			wantCode: pkgerrors.CodeInvalidTransition,
		},
		{
			name: "processing to shipped delivery",
			opts: groupOpts{fulfillment: enums.FulfillmentMethodDelivery, payment: enums.PaymentMethodCash, orderStatus: enums.OrderStatusProcessing},
			req:  TransitionRequest{Target: enums.OrderStatusShipped, DeliveryDate: futureDate()},
		},
		{
			name:     "processing to shipped pickup forbidden",
			opts:     groupOpts{fulfillment: enums.FulfillmentMethodPickup, payment: enums.PaymentMethodCash, orderStatus: enums.OrderStatusProcessing},
			req:      TransitionRequest{Target: enums.OrderStatusShipped, DeliveryDate: futureDate()},
			wantCode: pkgerrors.CodeInvalidTransition,
		},
		{
			name:     "shipped requires delivery date",
			opts:     groupOpts{fulfillment: enums.FulfillmentMethodDelivery, payment: enums.PaymentMethodCash, orderStatus: enums.OrderStatusProcessing},
			req:      TransitionRequest{Target: enums.OrderStatusShipped},
			wantCode: pkgerrors.CodeInvalidDeliveryDate,
		},
		{
			name:     "shipped rejects past delivery date",
			opts:     groupOpts{fulfillment: enums.FulfillmentMethodDelivery, payment: enums.PaymentMethodCash, orderStatus: enums.OrderStatusProcessing},
			req:      TransitionRequest{Target: enums.OrderStatusShipped, DeliveryDate: pastDate()},
			wantCode: pkgerrors.CodeInvalidDeliveryDate,
		},
		{
			name: "pickup processing to completed with cash confirmation",
			opts: groupOpts{fulfillment: enums.FulfillmentMethodPickup, payment: enums.PaymentMethodCash, orderStatus: enums.OrderStatusProcessing},
			req:  TransitionRequest{Target: enums.OrderStatusCompleted, PaymentConfirmed: true},
		},
		{
			name:     "cash completion without confirmation rejected",
			opts:     groupOpts{fulfillment: enums.FulfillmentMethodPickup, payment: enums.PaymentMethodCash, orderStatus: enums.OrderStatusProcessing},
			req:      TransitionRequest{Target: enums.OrderStatusCompleted},
			wantCode: pkgerrors.CodeInvalidPaymentStatus,
		},
		{
			name: "delivery shipped to completed",
			opts: groupOpts{fulfillment: enums.FulfillmentMethodDelivery, payment: enums.PaymentMethodDigital, isPaid: true, orderStatus: enums.OrderStatusShipped},
			req:  TransitionRequest{Target: enums.OrderStatusCompleted},
		},
		{
			name:     "delivery processing to completed skips shipped rejected",
			opts:     groupOpts{fulfillment: enums.FulfillmentMethodDelivery, payment: enums.PaymentMethodDigital, isPaid: true, orderStatus: enums.OrderStatusProcessing},
			req:      TransitionRequest{Target: enums.OrderStatusCompleted},
			wantCode: pkgerrors.CodeInvalidTransition,
		},
		{
			name: "processing to cancelled",
			opts: groupOpts{fulfillment: enums.FulfillmentMethodPickup, payment: enums.PaymentMethodCash, orderStatus: enums.OrderStatusProcessing},
			req:  TransitionRequest{Target: enums.OrderStatusCancelled},
		},
		{
			name:     "shipped to cancelled rejected",
			opts:     groupOpts{fulfillment: enums.FulfillmentMethodDelivery, payment: enums.PaymentMethodCash, orderStatus: enums.OrderStatusShipped},
			req:      TransitionRequest{Target: enums.OrderStatusCancelled},
			wantCode: pkgerrors.CodeInvalidTransition,
		},
		{
			name:     "same status rejected",
			opts:     groupOpts{fulfillment: enums.FulfillmentMethodPickup, payment: enums.PaymentMethodCash, orderStatus: enums.OrderStatusProcessing},
			req:      TransitionRequest{Target: enums.OrderStatusProcessing},
			wantCode: pkgerrors.CodeAlreadyInState,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)
			_, orders := env.seedGroup(t, tc.opts)

			result, err := env.svc.Transition(context.Background(), env.shopActor(), orders[0].ID, tc.req)
			if tc.wantCode != "" {
				require.Error(t, err)
				assert.True(t, pkgerrors.HasCode(err, tc.wantCode), "got %v", err)

				var unchanged models.Order
				require.NoError(t, env.conn.First(&unchanged, "id = ?", orders[0].ID).Error)
				assert.Equal(t, tc.opts.orderStatus, unchanged.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.req.Target, result.Status)
		})
	}
}

func TestCompletionStampsFulfillmentFlags(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, orders := env.seedGroup(t, groupOpts{
		fulfillment: enums.FulfillmentMethodPickup,
		payment:     enums.PaymentMethodCash,
		orderStatus: enums.OrderStatusProcessing,
	})

	result, err := env.svc.Transition(context.Background(), env.shopActor(), orders[0].ID, TransitionRequest{
		Target:           enums.OrderStatusCompleted,
		PaymentConfirmed: true,
	})
	require.NoError(t, err)
	assert.True(t, result.IsPickedUp)
	assert.False(t, result.IsDelivered)
	assert.True(t, result.IsPaid)
	require.NotNil(t, result.PaidAt)
	require.NotNil(t, result.CompletedAt)
}

func TestGroupAggregateRecompute(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	group, orders := env.seedGroup(t, groupOpts{
		fulfillment: enums.FulfillmentMethodPickup,
		payment:     enums.PaymentMethodCash,
		orderStatus: enums.OrderStatusProcessing,
		orderCount:  2,
	})
	ctx := context.Background()
	actor := env.shopActor()

	_, err := env.svc.Transition(ctx, actor, orders[0].ID, TransitionRequest{
		Target:           enums.OrderStatusCompleted,
		PaymentConfirmed: true,
	})
	require.NoError(t, err)

	var g models.OrderGroup
	require.NoError(t, env.conn.First(&g, "id = ?", group.ID).Error)
	assert.Equal(t, enums.OrderGroupStatusPartiallyFulfilled, g.Status)

	_, err = env.svc.Transition(ctx, actor, orders[1].ID, TransitionRequest{
		Target:           enums.OrderStatusCompleted,
		PaymentConfirmed: true,
	})
	require.NoError(t, err)

	require.NoError(t, env.conn.First(&g, "id = ?", group.ID).Error)
	assert.Equal(t, enums.OrderGroupStatusFulfilled, g.Status)
}

func TestCancelEmitsRestockEvent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, orders := env.seedGroup(t, groupOpts{
		fulfillment: enums.FulfillmentMethodPickup,
		payment:     enums.PaymentMethodCash,
	})

	_, err := env.svc.Transition(context.Background(), env.shopActor(), orders[0].ID, TransitionRequest{
		Target: enums.OrderStatusCancelled,
	})
	require.NoError(t, err)

	var events []models.OutboxEvent
	require.NoError(t, env.conn.Where("event_type = ?", enums.EventOrderCancelled).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, orders[0].ID, events[0].AggregateID)
}

func TestCustomerCancelWithinWindow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	group, _ := env.seedGroup(t, groupOpts{
		fulfillment: enums.FulfillmentMethodDelivery,
		payment:     enums.PaymentMethodDigital,
		orderCount:  2,
	})
	actor := visibility.Actor{UserID: env.buyer.ID, Role: enums.ActorRoleCustomer}

	result, err := env.svc.CancelGroupForCustomer(context.Background(), actor, group.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderGroupStatusCancelled, result.Status)
	require.NotNil(t, result.CancelledAt)
	for _, order := range result.Orders {
		assert.Equal(t, enums.OrderStatusCancelled, order.Status)
	}

	var restocks int64
	require.NoError(t, env.conn.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventOrderCancelled).Count(&restocks).Error)
	assert.Equal(t, int64(2), restocks)
}

func TestCustomerCancelWindowExpired(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	group, _ := env.seedGroup(t, groupOpts{
		fulfillment: enums.FulfillmentMethodDelivery,
		payment:     enums.PaymentMethodDigital,
		createdAt:   time.Now().Add(-5 * time.Hour),
	})
	actor := visibility.Actor{UserID: env.buyer.ID, Role: enums.ActorRoleCustomer}

	_, err := env.svc.CancelGroupForCustomer(context.Background(), actor, group.ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeCancelWindowExpired))
}

func TestCustomerCancelFlagsRefund(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	group, _ := env.seedGroup(t, groupOpts{
		fulfillment: enums.FulfillmentMethodDelivery,
		payment:     enums.PaymentMethodDigital,
		isPaid:      true,
	})
	paidAt := time.Now()
	payment := models.Payment{
		OrderGroupID: group.ID,
		Reference:    "ref-" + uuid.NewString(),
		Amount:       500000,
		Verified:     true,
		PaidAt:       &paidAt,
	}
	require.NoError(t, env.conn.Create(&payment).Error)

	actor := visibility.Actor{UserID: env.buyer.ID, Role: enums.ActorRoleCustomer}
	_, err := env.svc.CancelGroupForCustomer(context.Background(), actor, group.ID)
	require.NoError(t, err)

	var updated models.Payment
	require.NoError(t, env.conn.First(&updated, "id = ?", payment.ID).Error)
	assert.True(t, updated.RefundRequested)
}

func TestCustomerCancelForeignGroupForbidden(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	group, _ := env.seedGroup(t, groupOpts{
		fulfillment: enums.FulfillmentMethodPickup,
		payment:     enums.PaymentMethodCash,
	})

	stranger := visibility.Actor{UserID: uuid.New(), Role: enums.ActorRoleCustomer}
	_, err := env.svc.CancelGroupForCustomer(context.Background(), stranger, group.ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))
}

func TestBulkCancelLeavesInFlightOrders(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, pendingOrders := env.seedGroup(t, groupOpts{
		fulfillment: enums.FulfillmentMethodPickup,
		payment:     enums.PaymentMethodCash,
		orderCount:  2,
	})
	_, processing := env.seedGroup(t, groupOpts{
		fulfillment: enums.FulfillmentMethodPickup,
		payment:     enums.PaymentMethodCash,
		orderStatus: enums.OrderStatusProcessing,
	})

	actor := visibility.Actor{UserID: env.buyer.ID, Role: enums.ActorRoleCustomer}
	count, err := env.svc.CancelPendingForCustomer(context.Background(), actor, env.buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for _, order := range pendingOrders {
		var o models.Order
		require.NoError(t, env.conn.First(&o, "id = ?", order.ID).Error)
		assert.Equal(t, enums.OrderStatusCancelled, o.Status)
	}
	var untouched models.Order
	require.NoError(t, env.conn.First(&untouched, "id = ?", processing[0].ID).Error)
	assert.Equal(t, enums.OrderStatusProcessing, untouched.Status)
}

func TestBulkCancelRecomputesEachGroup(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	allPending, _ := env.seedGroup(t, groupOpts{
		fulfillment: enums.FulfillmentMethodPickup,
		payment:     enums.PaymentMethodCash,
		orderCount:  2,
	})
	mixed, _ := env.seedGroup(t, groupOpts{
		fulfillment: enums.FulfillmentMethodPickup,
		payment:     enums.PaymentMethodCash,
	})
	inFlight := models.Order{
		GroupID:     mixed.ID,
		ShopID:      env.shop.ID,
		Status:      enums.OrderStatusProcessing,
		TotalAmount: decimal.NewFromInt(2500),
	}
	require.NoError(t, env.conn.Create(&inFlight).Error)

	actor := visibility.Actor{UserID: env.buyer.ID, Role: enums.ActorRoleCustomer}
	count, err := env.svc.CancelPendingForCustomer(context.Background(), actor, env.buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	var g models.OrderGroup
	require.NoError(t, env.conn.First(&g, "id = ?", allPending.ID).Error)
	assert.Equal(t, enums.OrderGroupStatusCancelled, g.Status)

	require.NoError(t, env.conn.First(&g, "id = ?", mixed.ID).Error)
	assert.Equal(t, enums.OrderGroupStatusPartiallyFulfilled, g.Status)

	var survivor models.Order
	require.NoError(t, env.conn.First(&survivor, "id = ?", inFlight.ID).Error)
	assert.Equal(t, enums.OrderStatusProcessing, survivor.Status)
}

func TestBulkCancelForShopLeavesSiblingShops(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	group, mine := env.seedGroup(t, groupOpts{
		fulfillment: enums.FulfillmentMethodPickup,
		payment:     enums.PaymentMethodCash,
	})

	otherOwner := models.User{Email: uuid.NewString() + "@example.com", Name: "Other Owner"}
	require.NoError(t, env.conn.Create(&otherOwner).Error)
	otherShop := models.Shop{OwnerUserID: otherOwner.ID, Name: "Other Shop", Active: true}
	require.NoError(t, env.conn.Create(&otherShop).Error)
	sibling := models.Order{
		GroupID:     group.ID,
		ShopID:      otherShop.ID,
		Status:      enums.OrderStatusPending,
		TotalAmount: decimal.NewFromInt(2500),
	}
	require.NoError(t, env.conn.Create(&sibling).Error)

	owner := visibility.Actor{UserID: env.owner.ID, Role: enums.ActorRoleCustomer}
	count, err := env.svc.CancelPendingForShop(context.Background(), owner, env.shop.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	var cancelled models.Order
	require.NoError(t, env.conn.First(&cancelled, "id = ?", mine[0].ID).Error)
	assert.Equal(t, enums.OrderStatusCancelled, cancelled.Status)

	var untouched models.Order
	require.NoError(t, env.conn.First(&untouched, "id = ?", sibling.ID).Error)
	assert.Equal(t, enums.OrderStatusPending, untouched.Status)

	var g models.OrderGroup
	require.NoError(t, env.conn.First(&g, "id = ?", group.ID).Error)
	assert.Equal(t, enums.OrderGroupStatusPartiallyFulfilled, g.Status)
}

func TestTransitionUnknownOrder(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, err := env.svc.Transition(context.Background(), env.shopActor(), uuid.New(), TransitionRequest{
		Target: enums.OrderStatusProcessing,
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestBulkCancelForShopRequiresOwnership(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedGroup(t, groupOpts{
		fulfillment: enums.FulfillmentMethodPickup,
		payment:     enums.PaymentMethodCash,
	})

	stranger := visibility.Actor{UserID: uuid.New(), Role: enums.ActorRoleCustomer}
	_, err := env.svc.CancelPendingForShop(context.Background(), stranger, env.shop.ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))

	owner := visibility.Actor{UserID: env.owner.ID, Role: enums.ActorRoleCustomer}
	count, err := env.svc.CancelPendingForShop(context.Background(), owner, env.shop.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
