package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tradewell/marketplace-backend/pkg/db"
	"github.com/tradewell/marketplace-backend/pkg/db/models"
	"github.com/tradewell/marketplace-backend/pkg/enums"
	pkgerrors "github.com/tradewell/marketplace-backend/pkg/errors"
	"github.com/tradewell/marketplace-backend/pkg/gateway"
	"github.com/tradewell/marketplace-backend/pkg/logger"
	"github.com/tradewell/marketplace-backend/pkg/outbox"
	"github.com/tradewell/marketplace-backend/pkg/outbox/payloads"
)

const (
	// WebhookEventChargeSuccess is the only webhook event acted on.
	WebhookEventChargeSuccess = "charge.success"

	verifyMaxAttempts = 5
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	Exists(eventType enums.OutboxEventType, aggregateType enums.OutboxAggregateType, aggregateID uuid.UUID) (bool, error)
}

type gatewayClient interface {
	Initialize(ctx context.Context, params gateway.InitializeParams) (*gateway.InitializeResult, error)
	VerifyByReference(ctx context.Context, reference string) (*gateway.VerifyResult, error)
}

// ServiceParams bundle the payment service dependencies.
type ServiceParams struct {
	DB          txRunner
	Repo        *Repository
	Gateway     gatewayClient
	Outbox      outboxPublisher
	Logger      *logger.Logger
	CallbackURL string
}

// Service owns payment initialization, webhook intake, and reconciliation.
// Financial state only ever changes after re-querying the gateway; webhook
// payloads are treated as hints.
type Service struct {
	db          txRunner
	repo        *Repository
	gateway     gatewayClient
	outbox      outboxPublisher
	logg        *logger.Logger
	callbackURL string
	backoff     func() retry.Backoff
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("tx runner is required")
	}
	if params.Repo == nil {
		return nil, errors.New("payments repository is required")
	}
	if params.Gateway == nil {
		return nil, errors.New("gateway client is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox publisher is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		db:          params.DB,
		repo:        params.Repo,
		gateway:     params.Gateway,
		outbox:      params.Outbox,
		logg:        params.Logger,
		callbackURL: params.CallbackURL,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(verifyMaxAttempts-1, retry.NewFibonacci(500*time.Millisecond))
		},
	}, nil
}

// InitializeResult is returned to the caller starting a hosted checkout.
type InitializeResult struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorizationUrl"`
	Amount           int64  `json:"amount"`
}

// Initialize lazily creates the group's payment row and opens a gateway
// session. An unverified prior attempt rotates its reference; a verified one
// is a duplicate transaction.
func (s *Service) Initialize(ctx context.Context, userID, groupID uuid.UUID) (*InitializeResult, error) {
	var (
		payment *models.Payment
		email   string
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		var group models.OrderGroup
		err := tx.WithContext(ctx).First(&group, "id = ?", groupID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order group not found")
		}
		if err != nil {
			return err
		}
		if group.UserID != userID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order group belongs to another customer")
		}
		if group.PaymentMethod != enums.PaymentMethodDigital {
			return pkgerrors.New(pkgerrors.CodeValidation, "only digital order groups take gateway payments")
		}
		if group.Status != enums.OrderGroupStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order group is no longer pending")
		}

		var user models.User
		if err := tx.WithContext(ctx).First(&user, "id = ?", group.UserID).Error; err != nil {
			return err
		}
		email = user.Email

		amount := group.TotalAmount.Mul(minorUnitFactor).IntPart()
		existing, err := repo.FindByGroup(ctx, groupID)
		if err != nil {
			return err
		}
		switch {
		case existing == nil:
			payment = &models.Payment{
				OrderGroupID: groupID,
				Reference:    newReference(),
				Amount:       amount,
			}
			if err := repo.Create(ctx, payment); err != nil {
				if db.IsUniqueViolation(err, "") {
					return pkgerrors.New(pkgerrors.CodeStateConflict, "payment initialization already in progress")
				}
				return err
			}
			return nil
		case existing.Verified:
			return pkgerrors.New(pkgerrors.CodeDuplicateTransaction, "payment already verified")
		default:
			// rotate the reference for the fresh attempt
			reference := newReference()
			if err := repo.Update(ctx, existing.ID, map[string]any{
				"reference": reference,
				"amount":    amount,
			}); err != nil {
				return err
			}
			existing.Reference = reference
			existing.Amount = amount
			payment = existing
			return nil
		}
	})
	if err != nil {
		return nil, err
	}

	session, err := s.gateway.Initialize(ctx, gateway.InitializeParams{
		Reference:   payment.Reference,
		Amount:      payment.Amount,
		Email:       email,
		CallbackURL: s.callbackURL,
	})
	if err != nil {
		return nil, err
	}
	return &InitializeResult{
		Reference:        payment.Reference,
		AuthorizationURL: session.AuthorizationURL,
		Amount:           payment.Amount,
	}, nil
}

// WebhookEvent is the decoded shape of an inbound gateway notification.
type WebhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
	} `json:"data"`
}

// HandleWebhookEvent queues an asynchronous verification for charge.success
// events. The payload itself never mutates financial state.
func (s *Service) HandleWebhookEvent(ctx context.Context, event WebhookEvent) error {
	if event.Event != WebhookEventChargeSuccess {
		logCtx := s.logg.WithFields(ctx, map[string]any{"event": event.Event})
		s.logg.Info(logCtx, "ignoring webhook event")
		return nil
	}
	reference := strings.TrimSpace(event.Data.Reference)
	if reference == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook event carries no reference")
	}

	payment, err := s.repo.FindByReference(ctx, reference)
	if err != nil {
		return err
	}
	queued, err := s.outbox.Exists(enums.EventPaymentVerifyRequest, enums.AggregatePayment, payment.ID)
	if err != nil {
		return err
	}
	if queued {
		logCtx := s.logg.WithFields(ctx, map[string]any{"reference": reference})
		s.logg.Info(logCtx, "verification already queued, dropping redelivery")
		return nil
	}
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentVerifyRequest,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Version:       1,
			Data:          payloads.PaymentVerifyRequestedEvent{Reference: reference},
		})
	})
}

// Verify reconciles a payment reference against the gateway. It no-ops when
// the payment is already verified, retries transient gateway failures with
// bounded backoff, and on success marks the payment and every sibling order
// paid in one transaction.
func (s *Service) Verify(ctx context.Context, reference string) (*models.Payment, error) {
	payment, err := s.repo.FindByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if payment.Verified {
		return payment, nil
	}

	var result *gateway.VerifyResult
	err = retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		verified, verr := s.gateway.VerifyByReference(ctx, reference)
		if verr != nil {
			if pkgerrors.HasCode(verr, pkgerrors.CodeGateway) {
				return retry.RetryableError(verr)
			}
			return verr
		}
		if !verified.Success() {
			return retry.RetryableError(pkgerrors.New(pkgerrors.CodeGateway,
				fmt.Sprintf("gateway reports status %q", verified.Status)))
		}
		result = verified
		return nil
	})
	if err != nil {
		s.logg.Error(ctx, "payment verification exhausted retries", err)
		return nil, err
	}

	paidAt := result.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now()
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		locked, err := repo.LockByReference(ctx, reference)
		if err != nil {
			return err
		}
		if locked.Verified {
			payment = locked
			return nil
		}

		if err := repo.Update(ctx, locked.ID, map[string]any{
			"verified": true,
			"paid_at":  paidAt,
		}); err != nil {
			return err
		}
		if err := tx.WithContext(ctx).
			Model(&models.Order{}).
			Where("group_id = ?", locked.OrderGroupID).
			Updates(map[string]any{
				"is_paid": true,
				"paid_at": paidAt,
			}).Error; err != nil {
			return err
		}
		if err := tx.WithContext(ctx).
			Model(&models.OrderGroup{}).
			Where("id = ?", locked.OrderGroupID).
			Update("is_paid", true).Error; err != nil {
			return err
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventPaymentVerified,
			AggregateType: enums.AggregatePayment,
			AggregateID:   locked.ID,
			Version:       1,
			OccurredAt:    paidAt,
			Data: payloads.PaymentVerifiedEvent{
				Reference:    reference,
				OrderGroupID: locked.OrderGroupID,
				PaidAt:       paidAt,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}

		locked.Verified = true
		locked.PaidAt = &paidAt
		payment = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{"reference": reference})
	s.logg.Info(logCtx, "payment verified")
	return payment, nil
}

// minorUnitFactor converts group totals to the gateway's integer minor units.
var minorUnitFactor = decimal.NewFromInt(100)

func newReference() string {
	return "mh_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
