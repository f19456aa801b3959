package cart

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/tradewell/marketplace-backend/pkg/db/models"
	"github.com/tradewell/marketplace-backend/pkg/enums"
)

// LineReport is the advisory availability verdict for one cart line.
type LineReport struct {
	ProductID   uuid.UUID            `json:"productId"`
	ProductName string               `json:"productName"`
	Quantity    int                  `json:"quantity"`
	Available   int                  `json:"available"`
	Status      enums.CartLineStatus `json:"status"`
}

// Report summarizes a validation pass over the whole cart.
type Report struct {
	Lines []LineReport `json:"lines"`
	Valid bool         `json:"valid"`
}

// Validator produces availability reports for carts. It reads stock without
// locks; the checkout transaction re-checks under row locks and is the only
// authority.
type Validator struct {
	repo *Repository
}

func NewValidator(repo *Repository) (*Validator, error) {
	if repo == nil {
		return nil, errors.New("cart repository is required")
	}
	return &Validator{repo: repo}, nil
}

// Validate classifies every cart line. An empty cart yields a valid, empty
// report; callers that require a non-empty cart enforce that themselves.
func (v *Validator) Validate(ctx context.Context, userID uuid.UUID) (*Report, error) {
	items, err := v.repo.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	report := &Report{Lines: make([]LineReport, 0, len(items)), Valid: true}
	for _, item := range items {
		line := classifyLine(item)
		if line.Status != enums.CartLineStatusAvailable {
			report.Valid = false
		}
		report.Lines = append(report.Lines, line)
	}
	return report, nil
}

func classifyLine(item models.CartItem) LineReport {
	line := LineReport{
		ProductID: item.ProductID,
		Quantity:  item.Quantity,
	}
	if item.Product == nil || !item.Product.Active {
		line.Status = enums.CartLineStatusUnavailable
		if item.Product != nil {
			line.ProductName = item.Product.Name
		}
		return line
	}
	line.ProductName = item.Product.Name

	available := 0
	if item.Product.Ledger != nil {
		available = item.Product.Ledger.Stock
	}
	line.Available = available

	switch {
	case available <= 0:
		line.Status = enums.CartLineStatusOutOfStock
	case available < item.Quantity:
		line.Status = enums.CartLineStatusInsufficientStock
	default:
		line.Status = enums.CartLineStatusAvailable
	}
	return line
}
