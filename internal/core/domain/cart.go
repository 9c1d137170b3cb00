package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartLine is one (owner, item) entry. Quantity is always >= 1; a line that
// would drop to zero is deleted instead.
type CartLine struct {
	Owner     Owner
	ItemID    string
	Quantity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartLineView is a cart line joined with live catalog data. Prices here are
// informational only; checkout reads them again under lock.
type CartLineView struct {
	ItemID    string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
	Available int
}

type CartView struct {
	Owner     Owner
	Lines     []CartLineView
	Total     decimal.Decimal
	ItemCount int
}

// NewCartView sums line subtotals and quantities.
func NewCartView(owner Owner, lines []CartLineView) CartView {
	view := CartView{Owner: owner, Lines: lines, Total: decimal.Zero}
	for i := range view.Lines {
		l := &view.Lines[i]
		l.Subtotal = l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
		view.Total = view.Total.Add(l.Subtotal)
		view.ItemCount += l.Quantity
	}
	return view
}

// MergeResult summarises how an anonymous cart was folded into a user cart.
type MergeResult struct {
	Combined int // lines summed into an existing user line
	Reowned  int // lines moved to the user unchanged or capped
	Capped   int // lines whose quantity was reduced to available stock
	Dropped  int // lines removed because no stock was left
	Cart     CartView
}
