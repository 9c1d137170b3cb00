package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/order-engine/internal/core/domain"
	"github.com/rl1809/order-engine/internal/port"
)

// CartService keeps per-owner cart lines. Stock checks here are early
// rejections only; nothing is reserved until checkout.
type CartService struct {
	db     port.DatabaseRepository
	ledger *InventoryLedger
	logger *zap.Logger
	now    func() time.Time
}

func NewCartService(db port.DatabaseRepository, ledger *InventoryLedger, logger *zap.Logger) *CartService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CartService{db: db, ledger: ledger, logger: logger, now: time.Now}
}

// AddLine adds quantity to the owner's line for itemID, creating it if needed.
func (s *CartService) AddLine(ctx context.Context, owner domain.Owner, itemID string, quantity int) (*domain.CartLine, error) {
	if err := validateLineArgs(owner, itemID); err != nil {
		return nil, err
	}
	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", domain.ErrInvalidQuantity)
	}

	var line *domain.CartLine
	err := s.db.WithinTx(ctx, func(uow port.UnitOfWork) error {
		available, err := s.ledger.availableWithin(ctx, uow, itemID)
		if err != nil {
			return err
		}

		existing, err := uow.Carts().GetLine(ctx, owner, itemID)
		if err != nil {
			return err
		}
		combined := quantity
		if existing != nil {
			combined += existing.Quantity
		}
		if combined > available {
			return &domain.InsufficientStockError{ItemID: itemID, Requested: combined, Available: available}
		}

		now := s.now()
		if err := uow.Carts().UpsertLine(ctx, owner, itemID, combined, now); err != nil {
			return err
		}
		line = &domain.CartLine{Owner: owner, ItemID: itemID, Quantity: combined, UpdatedAt: now}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

// SetLineQuantity replaces the quantity of an existing line. Zero deletes the
// line and returns a nil line. Lines are only created by AddLine; an unknown
// line is ErrLineNotFound.
func (s *CartService) SetLineQuantity(ctx context.Context, owner domain.Owner, itemID string, quantity int) (*domain.CartLine, error) {
	if err := validateLineArgs(owner, itemID); err != nil {
		return nil, err
	}
	if quantity < 0 {
		return nil, fmt.Errorf("%w: quantity must not be negative", domain.ErrInvalidQuantity)
	}

	if quantity == 0 {
		return nil, s.RemoveLine(ctx, owner, itemID)
	}

	var line *domain.CartLine
	err := s.db.WithinTx(ctx, func(uow port.UnitOfWork) error {
		existing, err := uow.Carts().GetLine(ctx, owner, itemID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("%w: %s", domain.ErrLineNotFound, itemID)
		}

		available, err := s.ledger.availableWithin(ctx, uow, itemID)
		if err != nil {
			return err
		}
		if quantity > available {
			return &domain.InsufficientStockError{ItemID: itemID, Requested: quantity, Available: available}
		}

		now := s.now()
		if err := uow.Carts().UpsertLine(ctx, owner, itemID, quantity, now); err != nil {
			return err
		}
		line = &domain.CartLine{Owner: owner, ItemID: itemID, Quantity: quantity, UpdatedAt: now}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

func (s *CartService) RemoveLine(ctx context.Context, owner domain.Owner, itemID string) error {
	if err := validateLineArgs(owner, itemID); err != nil {
		return err
	}
	return s.db.WithinTx(ctx, func(uow port.UnitOfWork) error {
		return uow.Carts().DeleteLine(ctx, owner, itemID)
	})
}

func (s *CartService) Clear(ctx context.Context, owner domain.Owner) error {
	if err := owner.Validate(); err != nil {
		return err
	}
	return s.db.WithinTx(ctx, func(uow port.UnitOfWork) error {
		return uow.Carts().Clear(ctx, owner)
	})
}

// Snapshot prices the cart at current catalog prices. The total is for
// display; checkout recomputes it under lock.
func (s *CartService) Snapshot(ctx context.Context, owner domain.Owner) (domain.CartView, error) {
	if err := owner.Validate(); err != nil {
		return domain.CartView{}, err
	}
	return snapshot(ctx, s.db.Reader(), owner)
}

func snapshot(ctx context.Context, uow port.UnitOfWork, owner domain.Owner) (domain.CartView, error) {
	lines, err := uow.Carts().ListLineViews(ctx, owner)
	if err != nil {
		return domain.CartView{}, err
	}
	return domain.NewCartView(owner, lines), nil
}

func validateLineArgs(owner domain.Owner, itemID string) error {
	if err := owner.Validate(); err != nil {
		return err
	}
	if itemID == "" {
		return fmt.Errorf("%w: empty item id", domain.ErrItemNotFound)
	}
	return nil
}
