package checkout

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tradewell/marketplace-backend/internal/address"
	"github.com/tradewell/marketplace-backend/internal/cart"
	"github.com/tradewell/marketplace-backend/internal/inventory"
	"github.com/tradewell/marketplace-backend/pkg/db/models"
	"github.com/tradewell/marketplace-backend/pkg/enums"
	pkgerrors "github.com/tradewell/marketplace-backend/pkg/errors"
	"github.com/tradewell/marketplace-backend/pkg/logger"
	"github.com/tradewell/marketplace-backend/pkg/outbox"
	"github.com/tradewell/marketplace-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// DeliveryFeeFunc computes the flat fee added to DELIVERY group totals. It is
// pluggable so fee policy changes never touch the orchestrator.
type DeliveryFeeFunc func() decimal.Decimal

// Input is the request to convert a user's cart into orders.
type Input struct {
	ShippingAddressID uuid.UUID
	FulfillmentMethod string
	PaymentMethod     string
}

// ServiceParams bundle the orchestrator dependencies.
type ServiceParams struct {
	DB          txRunner
	CartRepo    *cart.Repository
	AddressRepo *address.Repository
	Inventory   *inventory.Service
	Outbox      outboxPublisher
	DeliveryFee DeliveryFeeFunc
	Logger      *logger.Logger
}

// Service converts a cart into one OrderGroup with one Order per shop inside
// a single transaction. Stock is re-checked under row locks; any shortfall
// aborts the whole checkout.
type Service struct {
	db          txRunner
	cartRepo    *cart.Repository
	addressRepo *address.Repository
	inventory   *inventory.Service
	outbox      outboxPublisher
	deliveryFee DeliveryFeeFunc
	logg        *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("tx runner is required")
	}
	if params.CartRepo == nil {
		return nil, errors.New("cart repository is required")
	}
	if params.AddressRepo == nil {
		return nil, errors.New("address repository is required")
	}
	if params.Inventory == nil {
		return nil, errors.New("inventory service is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox publisher is required")
	}
	if params.DeliveryFee == nil {
		return nil, errors.New("delivery fee func is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		db:          params.DB,
		cartRepo:    params.CartRepo,
		addressRepo: params.AddressRepo,
		inventory:   params.Inventory,
		outbox:      params.Outbox,
		deliveryFee: params.DeliveryFee,
		logg:        params.Logger,
	}, nil
}

// Checkout runs the orchestration for the given user.
func (s *Service) Checkout(ctx context.Context, userID uuid.UUID, input Input) (*models.OrderGroup, error) {
	fulfillment, payment, err := validateInput(userID, input)
	if err != nil {
		return nil, err
	}

	var result *models.OrderGroup
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		cartRepo := s.cartRepo.WithTx(tx)

		items, err := cartRepo.ListForUser(ctx, userID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return pkgerrors.New(pkgerrors.CodeEmptyCart, "cart contains no items")
		}
		if err := ensureLinesResolvable(items); err != nil {
			return err
		}

		group := &models.OrderGroup{
			UserID:            userID,
			FulfillmentMethod: fulfillment,
			PaymentMethod:     payment,
			Status:            enums.OrderGroupStatusPending,
			TotalAmount:       decimal.Zero,
		}
		if fulfillment == enums.FulfillmentMethodDelivery {
			addr, err := s.addressRepo.WithTx(tx).ResolveForUser(ctx, userID, input.ShippingAddressID)
			if err != nil {
				return err
			}
			group.ShippingAddress = address.Snapshot(addr)
		}
		if err := tx.WithContext(ctx).Create(group).Error; err != nil {
			return err
		}

		productIDs := make([]uuid.UUID, 0, len(items))
		for _, item := range items {
			productIDs = append(productIDs, item.ProductID)
		}
		ledgers, err := s.inventory.LockLedgers(ctx, tx, productIDs)
		if err != nil {
			return err
		}

		// authoritative stock debit, per line, through the ledger service
		actor := "checkout:" + userID.String()
		for _, item := range items {
			ledger, ok := ledgers[item.ProductID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").WithDetails(map[string]any{
					"productId": item.ProductID.String(),
					"requested": item.Quantity,
					"available": 0,
				})
			}
			if err := s.inventory.SubtractLocked(ctx, tx, ledger, item.Quantity, actor); err != nil {
				return err
			}
		}

		orders, groupTotal, err := createShopOrders(ctx, tx, group.ID, items)
		if err != nil {
			return err
		}

		if fulfillment == enums.FulfillmentMethodDelivery {
			groupTotal = groupTotal.Add(s.deliveryFee())
		}
		if err := tx.WithContext(ctx).
			Model(&models.OrderGroup{}).
			Where("id = ?", group.ID).
			Update("total_amount", groupTotal).Error; err != nil {
			return err
		}

		if err := cartRepo.DeleteForUser(ctx, userID); err != nil {
			return err
		}

		orderIDs := make([]uuid.UUID, len(orders))
		for i, order := range orders {
			orderIDs[i] = order.ID
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventOrderGroupCreated,
			AggregateType: enums.AggregateOrderGroup,
			AggregateID:   group.ID,
			Version:       1,
			Actor:         &outbox.ActorRef{UserID: userID, Role: enums.ActorRoleCustomer.String()},
			Data: payloads.OrderGroupCreatedEvent{
				OrderGroupID: group.ID,
				OrderIDs:     orderIDs,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}

		var loaded models.OrderGroup
		if err := tx.WithContext(ctx).
			Preload("Orders").
			Preload("Orders.Items").
			First(&loaded, "id = ?", group.ID).Error; err != nil {
			return err
		}
		result = &loaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_group_id": result.ID.String(),
		"orders":         len(result.Orders),
	})
	s.logg.Info(logCtx, "checkout completed")
	return result, nil
}

// validateInput aggregates all field errors into one response instead of
// failing on the first.
func validateInput(userID uuid.UUID, input Input) (enums.FulfillmentMethod, enums.PaymentMethod, error) {
	fields := map[string]string{}
	if userID == uuid.Nil {
		fields["user"] = "user is required"
	}

	fulfillment, err := enums.ParseFulfillmentMethod(input.FulfillmentMethod)
	if err != nil {
		fields["fulfillment_method"] = "must be one of pickup, delivery"
	}
	payment, err := enums.ParsePaymentMethod(input.PaymentMethod)
	if err != nil {
		fields["payment_method"] = "must be one of cash, digital"
	}
	if fulfillment == enums.FulfillmentMethodDelivery && input.ShippingAddressID == uuid.Nil {
		fields["shipping_address_id"] = "required for delivery orders"
	}

	if len(fields) > 0 {
		return "", "", pkgerrors.New(pkgerrors.CodeValidation, "invalid checkout request").WithDetails(fields)
	}
	return fulfillment, payment, nil
}

func ensureLinesResolvable(items []models.CartItem) error {
	invalid := make([]map[string]any, 0)
	for _, item := range items {
		switch {
		case item.Product == nil || !item.Product.Active:
			invalid = append(invalid, map[string]any{
				"productId": item.ProductID.String(),
				"status":    enums.CartLineStatusUnavailable,
			})
		case item.Product.Ledger == nil:
			invalid = append(invalid, map[string]any{
				"productId": item.ProductID.String(),
				"status":    enums.CartLineStatusOutOfStock,
			})
		}
	}
	if len(invalid) > 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidCart, "cart contains unavailable items").WithDetails(invalid)
	}
	return nil
}

// createShopOrders groups cart lines by shop and creates one order per shop,
// with item snapshots. Shops are processed in sorted order so order creation
// is deterministic.
func createShopOrders(ctx context.Context, tx *gorm.DB, groupID uuid.UUID, items []models.CartItem) ([]*models.Order, decimal.Decimal, error) {
	byShop := map[uuid.UUID][]models.CartItem{}
	for _, item := range items {
		shopID := item.Product.ShopID
		byShop[shopID] = append(byShop[shopID], item)
	}

	shopIDs := make([]uuid.UUID, 0, len(byShop))
	for shopID := range byShop {
		shopIDs = append(shopIDs, shopID)
	}
	sort.Slice(shopIDs, func(i, j int) bool {
		return shopIDs[i].String() < shopIDs[j].String()
	})

	orders := make([]*models.Order, 0, len(shopIDs))
	groupTotal := decimal.Zero
	for _, shopID := range shopIDs {
		order := &models.Order{
			GroupID:     groupID,
			ShopID:      shopID,
			Status:      enums.OrderStatusPending,
			TotalAmount: decimal.Zero,
		}
		if err := tx.WithContext(ctx).Create(order).Error; err != nil {
			return nil, decimal.Zero, err
		}

		orderTotal := decimal.Zero
		snapshots := make([]models.OrderItem, 0, len(byShop[shopID]))
		for _, item := range byShop[shopID] {
			productID := item.ProductID
			snapshots = append(snapshots, models.OrderItem{
				OrderID:            order.ID,
				ProductID:          &productID,
				ProductName:        item.Product.Name,
				ProductDescription: item.Product.Description,
				Quantity:           item.Quantity,
				Price:              item.Product.Price,
			})
			orderTotal = orderTotal.Add(item.Product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
		if err := tx.WithContext(ctx).Create(&snapshots).Error; err != nil {
			return nil, decimal.Zero, err
		}
		if err := tx.WithContext(ctx).
			Model(&models.Order{}).
			Where("id = ?", order.ID).
			Update("total_amount", orderTotal).Error; err != nil {
			return nil, decimal.Zero, err
		}
		order.TotalAmount = orderTotal
		groupTotal = groupTotal.Add(orderTotal)
		orders = append(orders, order)
	}
	return orders, groupTotal, nil
}
