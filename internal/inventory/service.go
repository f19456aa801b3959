package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradewell/marketplace-backend/pkg/db/models"
	pkgerrors "github.com/tradewell/marketplace-backend/pkg/errors"
	"github.com/tradewell/marketplace-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams bundle the inventory service dependencies.
type ServiceParams struct {
	DB     txRunner
	Repo   *Repository
	Logger *logger.Logger
}

// Service is the only writer of stock_ledgers. Every mutation takes the row
// lock first; callers already inside a transaction use the *Locked variants.
type Service struct {
	db   txRunner
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("tx runner is required")
	}
	if params.Repo == nil {
		return nil, errors.New("inventory repository is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		db:   params.DB,
		repo: params.Repo,
		logg: params.Logger,
		now:  time.Now,
	}, nil
}

// Add credits stock to a product's ledger.
func (s *Service) Add(ctx context.Context, productID uuid.UUID, qty int, actor string) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidQuantity, "quantity must be positive")
	}
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ledgers, err := repo.LockForUpdate(ctx, []uuid.UUID{productID})
		if err != nil {
			return err
		}
		ledger, ok := ledgers[productID]
		if !ok {
			return pkgerrors.New(pkgerrors.CodeNotFound, "stock ledger not found")
		}
		return repo.SetStock(ctx, productID, ledger.Stock+qty, actor)
	})
}

// Subtract debits stock, failing the whole call when the ledger cannot cover
// the quantity.
func (s *Service) Subtract(ctx context.Context, productID uuid.UUID, qty int, actor string) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidQuantity, "quantity must be positive")
	}
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ledgers, err := repo.LockForUpdate(ctx, []uuid.UUID{productID})
		if err != nil {
			return err
		}
		ledger, ok := ledgers[productID]
		if !ok {
			return pkgerrors.New(pkgerrors.CodeNotFound, "stock ledger not found")
		}
		return subtractLocked(ctx, repo, ledger, qty, actor)
	})
}

func subtractLocked(ctx context.Context, repo *Repository, ledger *models.StockLedger, qty int, actor string) error {
	if ledger.Stock < qty {
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").WithDetails(map[string]any{
			"productId": ledger.ProductID.String(),
			"requested": qty,
			"available": ledger.Stock,
		})
	}
	return repo.SetStock(ctx, ledger.ProductID, ledger.Stock-qty, actor)
}

// LockLedgers locks the products' ledgers inside the caller's transaction,
// keyed by product id. Products without a ledger row are absent from the map.
func (s *Service) LockLedgers(ctx context.Context, tx *gorm.DB, productIDs []uuid.UUID) (map[uuid.UUID]*models.StockLedger, error) {
	return s.repo.WithTx(tx).LockForUpdate(ctx, productIDs)
}

// SubtractLocked debits an already-locked ledger inside the caller's
// transaction. The checkout orchestrator uses this after its LockLedgers
// pass.
func (s *Service) SubtractLocked(ctx context.Context, tx *gorm.DB, ledger *models.StockLedger, qty int, actor string) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidQuantity, "quantity must be positive")
	}
	return subtractLocked(ctx, s.repo.WithTx(tx), ledger, qty, actor)
}

// RestockOrder credits back the stock of a cancelled order's items. Items
// already stamped restocked_at are skipped, so a redelivered compensation
// event never double-credits. Items whose product was deleted are skipped.
func (s *Service) RestockOrder(ctx context.Context, orderID uuid.UUID, actor string) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		var items []models.OrderItem
		if err := tx.WithContext(ctx).
			Where("order_id = ?", orderID).
			Find(&items).Error; err != nil {
			return err
		}

		productIDs := make([]uuid.UUID, 0, len(items))
		for _, item := range items {
			if item.ProductID == nil || item.RestockedAt != nil {
				continue
			}
			productIDs = append(productIDs, *item.ProductID)
		}
		if len(productIDs) == 0 {
			return nil
		}

		ledgers, err := repo.LockForUpdate(ctx, productIDs)
		if err != nil {
			return err
		}

		now := s.now()
		restocked := 0
		for _, item := range items {
			if item.ProductID == nil || item.RestockedAt != nil {
				continue
			}
			ledger, ok := ledgers[*item.ProductID]
			if !ok {
				// product row is gone, nothing to credit
				continue
			}
			if err := repo.SetStock(ctx, ledger.ProductID, ledger.Stock+item.Quantity, actor); err != nil {
				return err
			}
			ledger.Stock += item.Quantity
			if err := tx.WithContext(ctx).
				Model(&models.OrderItem{}).
				Where("id = ?", item.ID).
				Update("restocked_at", now).Error; err != nil {
				return err
			}
			restocked++
		}

		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id": orderID.String(),
			"count":    restocked,
		})
		s.logg.Info(logCtx, fmt.Sprintf("restocked %d order items", restocked))
		return nil
	})
}
