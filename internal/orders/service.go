package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradewell/marketplace-backend/pkg/db/models"
	"github.com/tradewell/marketplace-backend/pkg/enums"
	pkgerrors "github.com/tradewell/marketplace-backend/pkg/errors"
	"github.com/tradewell/marketplace-backend/pkg/logger"
	"github.com/tradewell/marketplace-backend/pkg/outbox"
	"github.com/tradewell/marketplace-backend/pkg/outbox/payloads"
	"github.com/tradewell/marketplace-backend/pkg/visibility"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ServiceParams bundle the order state machine dependencies.
type ServiceParams struct {
	DB           txRunner
	Repo         *Repository
	Outbox       outboxPublisher
	Logger       *logger.Logger
	CancelWindow time.Duration
}

// Service drives order status transitions, group aggregation, and the
// cancellation paths. Restock compensation is never run inline; cancellations
// emit an outbox event that the dispatcher picks up after commit.
type Service struct {
	db           txRunner
	repo         *Repository
	outbox       outboxPublisher
	logg         *logger.Logger
	cancelWindow time.Duration
	now          func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("tx runner is required")
	}
	if params.Repo == nil {
		return nil, errors.New("orders repository is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox publisher is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.CancelWindow <= 0 {
		params.CancelWindow = 4 * time.Hour
	}
	return &Service{
		db:           params.DB,
		repo:         params.Repo,
		outbox:       params.Outbox,
		logg:         params.Logger,
		cancelWindow: params.CancelWindow,
		now:          time.Now,
	}, nil
}

// Transition applies one status change to an order. The parent group is
// locked first as the coarse mutex for its orders, then the order row; the
// rule set is re-validated under the locks and the group aggregate is
// recomputed before commit.
func (s *Service) Transition(ctx context.Context, actor visibility.Actor, orderID uuid.UUID, req TransitionRequest) (*models.Order, error) {
	if !req.Target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown target status")
	}

	var result *models.Order
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		groupID, err := repo.GroupIDOf(ctx, orderID)
		if err != nil {
			return err
		}
		group, err := repo.LockGroup(ctx, groupID)
		if err != nil {
			return err
		}
		order, err := repo.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		shop, err := repo.FindShop(ctx, order.ShopID)
		if err != nil {
			return err
		}
		if err := visibility.EnsureCanManageOrder(actor, order, shop); err != nil {
			return err
		}

		now := s.now()
		if err := validateTransition(order, group, req, now); err != nil {
			return err
		}

		updates := map[string]any{"status": req.Target}
		switch req.Target {
		case enums.OrderStatusProcessing:
			updates["processing_at"] = now
		case enums.OrderStatusShipped:
			updates["shipped_at"] = now
			updates["delivery_date"] = *req.DeliveryDate
		case enums.OrderStatusCompleted:
			updates["completed_at"] = now
			if group.FulfillmentMethod == enums.FulfillmentMethodPickup {
				updates["is_picked_up"] = true
			} else {
				updates["is_delivered"] = true
			}
			if group.PaymentMethod == enums.PaymentMethodCash && !order.IsPaid && req.PaymentConfirmed {
				updates["is_paid"] = true
				updates["paid_at"] = now
			}
		case enums.OrderStatusCancelled:
			updates["cancelled_at"] = now
		}
		if err := repo.UpdateOrder(ctx, order.ID, updates); err != nil {
			return err
		}

		if err := s.recomputeGroupStatus(ctx, repo, group, now); err != nil {
			return err
		}

		if req.Target == enums.OrderStatusCancelled {
			if err := s.emitOrderCancelled(ctx, tx, order, &actor, now); err != nil {
				return err
			}
		}
		if req.Target == enums.OrderStatusCompleted {
			event := outbox.DomainEvent{
				EventType:     enums.EventOrderCompleted,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Version:       1,
				OccurredAt:    now,
				Actor:         actorRef(actor),
				Data: payloads.OrderCompletedEvent{
					OrderID:      order.ID,
					OrderGroupID: order.GroupID,
					ShopID:       order.ShopID,
					CompletedAt:  now,
				},
			}
			if err := s.outbox.Emit(ctx, tx, event); err != nil {
				return err
			}
		}

		result, err = repo.FindByID(ctx, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id": orderID.String(),
		"status":   req.Target.String(),
	})
	s.logg.Info(logCtx, "order transitioned")
	return result, nil
}

// CancelGroupForCustomer cancels a whole pending group within the
// cancellation window, flagging a refund request when a verified digital
// payment exists.
func (s *Service) CancelGroupForCustomer(ctx context.Context, actor visibility.Actor, groupID uuid.UUID) (*models.OrderGroup, error) {
	var result *models.OrderGroup
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		group, err := repo.LockGroup(ctx, groupID)
		if err != nil {
			return err
		}
		if err := visibility.EnsureCanCancelGroup(actor, group); err != nil {
			return err
		}
		if group.Status != enums.OrderGroupStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only pending order groups can be cancelled")
		}

		now := s.now()
		if now.Sub(group.CreatedAt) > s.cancelWindow {
			return pkgerrors.New(pkgerrors.CodeCancelWindowExpired, "cancellation window has expired")
		}

		refundRequested, err := s.flagRefundIfPaid(ctx, tx, group)
		if err != nil {
			return err
		}
		if err := s.cancelGroupLocked(ctx, tx, repo, group, &actor, now); err != nil {
			return err
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventOrderGroupCancelled,
			AggregateType: enums.AggregateOrderGroup,
			AggregateID:   group.ID,
			Version:       1,
			OccurredAt:    now,
			Actor:         actorRef(actor),
			Data: payloads.OrderGroupCancelledEvent{
				OrderGroupID:    group.ID,
				RefundRequested: refundRequested,
				CancelledAt:     now,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}

		result, err = repo.FindGroupByID(ctx, group.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CancelGroupAsSystem cancels a stale group on behalf of the scheduler,
// bypassing the customer window check.
func (s *Service) CancelGroupAsSystem(ctx context.Context, groupID uuid.UUID) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		group, err := repo.LockGroup(ctx, groupID)
		if err != nil {
			return err
		}
		if group.Status != enums.OrderGroupStatusPending {
			return nil
		}

		now := s.now()
		actor := visibility.System()
		if err := s.cancelGroupLocked(ctx, tx, repo, group, &actor, now); err != nil {
			return err
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventOrderGroupCancelled,
			AggregateType: enums.AggregateOrderGroup,
			AggregateID:   group.ID,
			Version:       1,
			OccurredAt:    now,
			Actor:         actorRef(actor),
			Data: payloads.OrderGroupCancelledEvent{
				OrderGroupID: group.ID,
				CancelledAt:  now,
			},
		}
		return s.outbox.Emit(ctx, tx, event)
	})
}

// cancelGroupLocked flips the group and every non-terminal child order to
// CANCELLED, emitting one restock event per cancelled order.
func (s *Service) cancelGroupLocked(ctx context.Context, tx *gorm.DB, repo *Repository, group *models.OrderGroup, actor *visibility.Actor, now time.Time) error {
	siblings, err := repo.SiblingOrders(ctx, group.ID)
	if err != nil {
		return err
	}
	for _, order := range siblings {
		if order.Status.IsTerminal() {
			continue
		}
		if err := repo.UpdateOrder(ctx, order.ID, map[string]any{
			"status":       enums.OrderStatusCancelled,
			"cancelled_at": now,
		}); err != nil {
			return err
		}
		if err := s.emitOrderCancelled(ctx, tx, &order, actor, now); err != nil {
			return err
		}
	}
	return repo.UpdateGroup(ctx, group.ID, map[string]any{
		"status":       enums.OrderGroupStatusCancelled,
		"cancelled_at": now,
	})
}

// CancelPendingForCustomer bulk-cancels every PENDING order across the
// customer's groups. In-flight orders are left untouched.
func (s *Service) CancelPendingForCustomer(ctx context.Context, actor visibility.Actor, userID uuid.UUID) (int, error) {
	if actor.Role != enums.ActorRoleAdmin && actor.Role != enums.ActorRoleSystem && actor.UserID != userID {
		return 0, pkgerrors.New(pkgerrors.CodeForbidden, "cannot cancel another customer's orders")
	}
	count := 0
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		groupIDs, err := repo.PendingGroupIDsForUser(ctx, userID)
		if err != nil {
			return err
		}
		if len(groupIDs) == 0 {
			return nil
		}
		groups, err := repo.LockGroups(ctx, groupIDs)
		if err != nil {
			return err
		}
		pending, err := repo.LockPendingInGroups(ctx, groupIDs, uuid.Nil)
		if err != nil {
			return err
		}
		count, err = s.cancelPendingLocked(ctx, tx, repo, groups, pending, &actor)
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// CancelPendingForShop bulk-cancels a shop's PENDING orders, used when a shop
// is deactivated. The actor must manage the shop.
func (s *Service) CancelPendingForShop(ctx context.Context, actor visibility.Actor, shopID uuid.UUID) (int, error) {
	count := 0
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		shop, err := repo.FindShop(ctx, shopID)
		if err != nil {
			return err
		}
		if err := visibility.EnsureCanCancelShopPending(actor, shop); err != nil {
			return err
		}
		groupIDs, err := repo.PendingGroupIDsForShop(ctx, shopID)
		if err != nil {
			return err
		}
		if len(groupIDs) == 0 {
			return nil
		}
		groups, err := repo.LockGroups(ctx, groupIDs)
		if err != nil {
			return err
		}
		pending, err := repo.LockPendingInGroups(ctx, groupIDs, shopID)
		if err != nil {
			return err
		}
		count, err = s.cancelPendingLocked(ctx, tx, repo, groups, pending, &actor)
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// cancelPendingLocked cancels the pending orders and recomputes every parent
// group aggregate. Callers already hold the group locks, taken in ascending
// id order before any order row was touched.
func (s *Service) cancelPendingLocked(ctx context.Context, tx *gorm.DB, repo *Repository, groups []models.OrderGroup, pending []models.Order, actor *visibility.Actor) (int, error) {
	now := s.now()
	for _, order := range pending {
		if err := repo.UpdateOrder(ctx, order.ID, map[string]any{
			"status":       enums.OrderStatusCancelled,
			"cancelled_at": now,
		}); err != nil {
			return 0, err
		}
		if err := s.emitOrderCancelled(ctx, tx, &order, actor, now); err != nil {
			return 0, err
		}
	}
	for i := range groups {
		if err := s.recomputeGroupStatus(ctx, repo, &groups[i], now); err != nil {
			return 0, err
		}
	}
	return len(pending), nil
}

// recomputeGroupStatus derives the group aggregate from its children:
// fulfilled when all completed, cancelled when all cancelled, partially
// fulfilled when at least one order is terminal but not all completed,
// otherwise unchanged.
func (s *Service) recomputeGroupStatus(ctx context.Context, repo *Repository, group *models.OrderGroup, now time.Time) error {
	siblings, err := repo.SiblingOrders(ctx, group.ID)
	if err != nil {
		return err
	}
	if len(siblings) == 0 {
		return nil
	}

	allCompleted := true
	allCancelled := true
	anyTerminal := false
	for _, order := range siblings {
		if order.Status != enums.OrderStatusCompleted {
			allCompleted = false
		}
		if order.Status != enums.OrderStatusCancelled {
			allCancelled = false
		}
		if order.Status.IsTerminal() {
			anyTerminal = true
		}
	}

	var next enums.OrderGroupStatus
	switch {
	case allCompleted:
		next = enums.OrderGroupStatusFulfilled
	case allCancelled:
		next = enums.OrderGroupStatusCancelled
	case anyTerminal:
		next = enums.OrderGroupStatusPartiallyFulfilled
	default:
		return nil
	}
	if next == group.Status {
		return nil
	}

	updates := map[string]any{"status": next}
	if next == enums.OrderGroupStatusCancelled {
		updates["cancelled_at"] = now
	}
	return repo.UpdateGroup(ctx, group.ID, updates)
}

// flagRefundIfPaid marks refund_requested on a verified digital payment.
func (s *Service) flagRefundIfPaid(ctx context.Context, tx *gorm.DB, group *models.OrderGroup) (bool, error) {
	if group.PaymentMethod != enums.PaymentMethodDigital {
		return false, nil
	}
	var payment models.Payment
	err := tx.WithContext(ctx).
		Where("order_group_id = ? AND verified = ?", group.ID, true).
		First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err = tx.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", payment.ID).
		Update("refund_requested", true).Error
	return err == nil, err
}

func (s *Service) emitOrderCancelled(ctx context.Context, tx *gorm.DB, order *models.Order, actor *visibility.Actor, now time.Time) error {
	event := outbox.DomainEvent{
		EventType:     enums.EventOrderCancelled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Version:       1,
		OccurredAt:    now,
		Data: payloads.OrderCancelledEvent{
			OrderID:      order.ID,
			OrderGroupID: order.GroupID,
			ShopID:       order.ShopID,
			CancelledAt:  now,
		},
	}
	if actor != nil {
		event.Actor = actorRef(*actor)
	}
	return s.outbox.Emit(ctx, tx, event)
}

func actorRef(actor visibility.Actor) *outbox.ActorRef {
	return &outbox.ActorRef{UserID: actor.UserID, Role: actor.Role.String()}
}
