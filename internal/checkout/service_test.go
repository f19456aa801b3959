package checkout

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tradewell/marketplace-backend/internal/address"
	"github.com/tradewell/marketplace-backend/internal/cart"
	"github.com/tradewell/marketplace-backend/internal/inventory"
	"github.com/tradewell/marketplace-backend/pkg/db"
	"github.com/tradewell/marketplace-backend/pkg/db/models"
	"github.com/tradewell/marketplace-backend/pkg/enums"
	pkgerrors "github.com/tradewell/marketplace-backend/pkg/errors"
	"github.com/tradewell/marketplace-backend/pkg/logger"
	"github.com/tradewell/marketplace-backend/pkg/outbox"
)

var testDeliveryFee = decimal.RequireFromString("3000.00")

type testEnv struct {
	conn *gorm.DB
	svc  *Service
	user *models.User
	addr *models.Address
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := "file:checkout_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(models.All()...))

	logg := logger.New(logger.Options{ServiceName: "checkout-test"})
	inventoryService, err := inventory.NewService(inventory.ServiceParams{
		DB:     db.FromGorm(conn),
		Repo:   inventory.NewRepository(conn),
		Logger: logg,
	})
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		DB:          db.FromGorm(conn),
		CartRepo:    cart.NewRepository(conn),
		AddressRepo: address.NewRepository(conn),
		Inventory:   inventoryService,
		Outbox:      outbox.NewService(outbox.NewRepository(conn), logg),
		DeliveryFee: func() decimal.Decimal { return testDeliveryFee },
		Logger:      logg,
	})
	require.NoError(t, err)

	user := models.User{Email: uuid.NewString() + "@example.com", Name: "Buyer"}
	require.NoError(t, conn.Create(&user).Error)
	addr := models.Address{
		UserID:  user.ID,
		Line1:   "12 Market Road",
		City:    "Lagos",
		State:   "LA",
		Country: "NG",
	}
	require.NoError(t, conn.Create(&addr).Error)

	return &testEnv{conn: conn, svc: svc, user: &user, addr: &addr}
}

func (e *testEnv) seedShopProduct(t *testing.T, price int64, stock int) *models.Product {
	t.Helper()
	owner := models.User{Email: uuid.NewString() + "@example.com", Name: "Owner"}
	require.NoError(t, e.conn.Create(&owner).Error)
	shop := models.Shop{OwnerUserID: owner.ID, Name: "Shop", Active: true}
	require.NoError(t, e.conn.Create(&shop).Error)
	product := models.Product{
		ShopID: shop.ID,
		Name:   "Item",
		Price:  decimal.NewFromInt(price),
		Active: true,
	}
	require.NoError(t, e.conn.Create(&product).Error)
	require.NoError(t, e.conn.Create(&models.StockLedger{ProductID: product.ID, Stock: stock}).Error)
	return &product
}

func (e *testEnv) addToCart(t *testing.T, productID uuid.UUID, qty int) {
	t.Helper()
	require.NoError(t, cart.NewRepository(e.conn).SetItem(context.Background(), e.user.ID, productID, qty))
}

func (e *testEnv) stockOf(t *testing.T, productID uuid.UUID) int {
	t.Helper()
	var ledger models.StockLedger
	require.NoError(t, e.conn.Where("product_id = ?", productID).First(&ledger).Error)
	return ledger.Stock
}

func TestCheckoutFansOutPerShop(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	p1 := env.seedShopProduct(t, 1000, 10)
	p2 := env.seedShopProduct(t, 2500, 10)
	env.addToCart(t, p1.ID, 2)
	env.addToCart(t, p2.ID, 1)

	group, err := env.svc.Checkout(ctx, env.user.ID, Input{
		ShippingAddressID: env.addr.ID,
		FulfillmentMethod: "delivery",
		PaymentMethod:     "digital",
	})
	require.NoError(t, err)
	require.Len(t, group.Orders, 2)
	assert.Equal(t, enums.OrderGroupStatusPending, group.Status)
	assert.False(t, group.ShippingAddress.IsZero())

	// 2*1000 + 1*2500 + 3000 delivery fee
	assert.True(t, group.TotalAmount.Equal(decimal.NewFromInt(7500)), "got %s", group.TotalAmount)

	for _, order := range group.Orders {
		assert.Equal(t, enums.OrderStatusPending, order.Status)
		require.NotEmpty(t, order.Items)
		sum := decimal.Zero
		for _, item := range order.Items {
			sum = sum.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
		assert.True(t, order.TotalAmount.Equal(sum))
	}

	assert.Equal(t, 8, env.stockOf(t, p1.ID))
	assert.Equal(t, 9, env.stockOf(t, p2.ID))

	var cartCount int64
	require.NoError(t, env.conn.Model(&models.CartItem{}).Where("user_id = ?", env.user.ID).Count(&cartCount).Error)
	assert.Zero(t, cartCount)

	var events []models.OutboxEvent
	require.NoError(t, env.conn.Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventOrderGroupCreated, events[0].EventType)
}

func TestCheckoutAbortsWholeTransactionOnShortfall(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	plenty := env.seedShopProduct(t, 1000, 10)
	scarce := env.seedShopProduct(t, 500, 1)
	env.addToCart(t, plenty.ID, 2)
	env.addToCart(t, scarce.ID, 3)

	_, err := env.svc.Checkout(ctx, env.user.ID, Input{
		FulfillmentMethod: "pickup",
		PaymentMethod:     "cash",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock))

	// nothing committed: stock, cart, and orders untouched
	assert.Equal(t, 10, env.stockOf(t, plenty.ID))
	assert.Equal(t, 1, env.stockOf(t, scarce.ID))

	var groups, orders, cartLines int64
	require.NoError(t, env.conn.Model(&models.OrderGroup{}).Count(&groups).Error)
	require.NoError(t, env.conn.Model(&models.Order{}).Count(&orders).Error)
	require.NoError(t, env.conn.Model(&models.CartItem{}).Count(&cartLines).Error)
	assert.Zero(t, groups)
	assert.Zero(t, orders)
	assert.Equal(t, int64(2), cartLines)
}

func TestCheckoutPickupSkipsFeeAndAddress(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	product := env.seedShopProduct(t, 1200, 5)
	env.addToCart(t, product.ID, 1)

	group, err := env.svc.Checkout(context.Background(), env.user.ID, Input{
		FulfillmentMethod: "pickup",
		PaymentMethod:     "cash",
	})
	require.NoError(t, err)
	assert.True(t, group.TotalAmount.Equal(decimal.NewFromInt(1200)))
	assert.True(t, group.ShippingAddress.IsZero())
}

func TestCheckoutEmptyCart(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, err := env.svc.Checkout(context.Background(), env.user.ID, Input{
		FulfillmentMethod: "pickup",
		PaymentMethod:     "cash",
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeEmptyCart))
}

func TestCheckoutAggregatesFieldErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, err := env.svc.Checkout(context.Background(), env.user.ID, Input{
		FulfillmentMethod: "delivery",
		PaymentMethod:     "bitcoin",
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())

	fields, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Contains(t, fields, "payment_method")
	assert.Contains(t, fields, "shipping_address_id")
}

func TestCheckoutRejectsForeignAddress(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	product := env.seedShopProduct(t, 1000, 5)
	env.addToCart(t, product.ID, 1)

	other := models.User{Email: uuid.NewString() + "@example.com", Name: "Other"}
	require.NoError(t, env.conn.Create(&other).Error)
	foreign := models.Address{UserID: other.ID, Line1: "1 Elsewhere", City: "Abuja", State: "FC", Country: "NG"}
	require.NoError(t, env.conn.Create(&foreign).Error)

	_, err := env.svc.Checkout(context.Background(), env.user.ID, Input{
		ShippingAddressID: foreign.ID,
		FulfillmentMethod: "delivery",
		PaymentMethod:     "digital",
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestCheckoutRecheckRejectsSecondBuyer(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	product := env.seedShopProduct(t, 1000, 5)
	env.addToCart(t, product.ID, 3)

	_, err := env.svc.Checkout(ctx, env.user.ID, Input{
		FulfillmentMethod: "pickup",
		PaymentMethod:     "cash",
	})
	require.NoError(t, err)
	require.Equal(t, 2, env.stockOf(t, product.ID))

	rival := models.User{Email: uuid.NewString() + "@example.com", Name: "Rival"}
	require.NoError(t, env.conn.Create(&rival).Error)
	require.NoError(t, cart.NewRepository(env.conn).SetItem(ctx, rival.ID, product.ID, 3))

	_, err = env.svc.Checkout(ctx, rival.ID, Input{
		FulfillmentMethod: "pickup",
		PaymentMethod:     "cash",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock))

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 3, details["requested"])
	assert.Equal(t, 2, details["available"])

	// ledger untouched by the failed attempt, still owned by the first debit
	assert.Equal(t, 2, env.stockOf(t, product.ID))
	var ledger models.StockLedger
	require.NoError(t, env.conn.Where("product_id = ?", product.ID).First(&ledger).Error)
	assert.Equal(t, "checkout:"+env.user.ID.String(), ledger.LastUpdatedBy)
}

func TestCheckoutRejectsInactiveProduct(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	product := env.seedShopProduct(t, 1000, 5)
	env.addToCart(t, product.ID, 1)
	require.NoError(t, env.conn.Model(&models.Product{}).Where("id = ?", product.ID).Update("active", false).Error)

	_, err := env.svc.Checkout(context.Background(), env.user.ID, Input{
		FulfillmentMethod: "pickup",
		PaymentMethod:     "cash",
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidCart))
}
