package cart

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tradewell/marketplace-backend/pkg/db/models"
	"github.com/tradewell/marketplace-backend/pkg/enums"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:cart_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(models.All()...))
	return conn
}

func seedUser(t *testing.T, conn *gorm.DB) *models.User {
	t.Helper()
	user := models.User{Email: uuid.NewString() + "@example.com", Name: "Buyer"}
	require.NoError(t, conn.Create(&user).Error)
	return &user
}

func seedProduct(t *testing.T, conn *gorm.DB, stock int, active bool) *models.Product {
	t.Helper()
	owner := seedUser(t, conn)
	shop := models.Shop{OwnerUserID: owner.ID, Name: "Shop", Active: true}
	require.NoError(t, conn.Create(&shop).Error)
	product := models.Product{
		ShopID: shop.ID,
		Name:   "Widget",
		Price:  decimal.NewFromInt(500),
		Active: active,
	}
	require.NoError(t, conn.Create(&product).Error)
	require.NoError(t, conn.Create(&models.StockLedger{ProductID: product.ID, Stock: stock}).Error)
	return &product
}

func TestSetItemReplacesQuantity(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	repo := NewRepository(conn)
	user := seedUser(t, conn)
	product := seedProduct(t, conn, 10, true)
	ctx := context.Background()

	require.NoError(t, repo.SetItem(ctx, user.ID, product.ID, 2))
	require.NoError(t, repo.SetItem(ctx, user.ID, product.ID, 5))

	items, err := repo.ListForUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 5, items[0].Quantity)
}

func TestDecrementRemovesAtZero(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	repo := NewRepository(conn)
	user := seedUser(t, conn)
	product := seedProduct(t, conn, 10, true)
	ctx := context.Background()

	require.NoError(t, repo.SetItem(ctx, user.ID, product.ID, 3))
	require.NoError(t, repo.DecrementItem(ctx, user.ID, product.ID, 1))

	items, err := repo.ListForUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)

	require.NoError(t, repo.DecrementItem(ctx, user.ID, product.ID, 2))
	items, err = repo.ListForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestValidateClassifiesLines(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	repo := NewRepository(conn)
	validator, err := NewValidator(repo)
	require.NoError(t, err)

	user := seedUser(t, conn)
	ctx := context.Background()

	available := seedProduct(t, conn, 10, true)
	short := seedProduct(t, conn, 1, true)
	empty := seedProduct(t, conn, 0, true)
	inactive := seedProduct(t, conn, 10, false)

	require.NoError(t, repo.SetItem(ctx, user.ID, available.ID, 2))
	require.NoError(t, repo.SetItem(ctx, user.ID, short.ID, 3))
	require.NoError(t, repo.SetItem(ctx, user.ID, empty.ID, 1))
	require.NoError(t, repo.SetItem(ctx, user.ID, inactive.ID, 1))

	report, err := validator.Validate(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, report.Lines, 4)
	assert.False(t, report.Valid)

	byProduct := map[uuid.UUID]LineReport{}
	for _, line := range report.Lines {
		byProduct[line.ProductID] = line
	}
	assert.Equal(t, enums.CartLineStatusAvailable, byProduct[available.ID].Status)
	assert.Equal(t, enums.CartLineStatusInsufficientStock, byProduct[short.ID].Status)
	assert.Equal(t, 1, byProduct[short.ID].Available)
	assert.Equal(t, enums.CartLineStatusOutOfStock, byProduct[empty.ID].Status)
	assert.Equal(t, enums.CartLineStatusUnavailable, byProduct[inactive.ID].Status)
}

func TestValidateEmptyCart(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	repo := NewRepository(conn)
	validator, err := NewValidator(repo)
	require.NoError(t, err)

	user := seedUser(t, conn)
	report, err := validator.Validate(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Empty(t, report.Lines)
}
