package handler

import (
	"time"

	"github.com/rl1809/order-engine/internal/core/domain"
)

// Wire shapes shared by the HTTP and gRPC transports. Money is rendered as a
// fixed two-decimal string.

type CartLineDTO struct {
	ItemID    string `json:"item_id"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price,omitempty"`
	Subtotal  string `json:"subtotal,omitempty"`
	Available *int   `json:"available,omitempty"`
}

type CartDTO struct {
	Owner     string        `json:"owner"`
	Items     []CartLineDTO `json:"items"`
	Total     string        `json:"total"`
	ItemCount int           `json:"item_count"`
}

type MergeDTO struct {
	Combined int     `json:"combined"`
	Reowned  int     `json:"reowned"`
	Capped   int     `json:"capped"`
	Dropped  int     `json:"dropped"`
	Cart     CartDTO `json:"cart"`
}

type OrderLineDTO struct {
	ItemID    string `json:"item_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

type OrderDTO struct {
	ID              string         `json:"id"`
	Owner           string         `json:"owner"`
	Status          string         `json:"status"`
	TotalAmount     string         `json:"total_amount"`
	ShippingAddress string         `json:"shipping_address"`
	PaymentIntentID string         `json:"payment_intent_id,omitempty"`
	Items           []OrderLineDTO `json:"items"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

type PaginationDTO struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type OrderPageDTO struct {
	Orders     []OrderDTO    `json:"orders"`
	Pagination PaginationDTO `json:"pagination"`
}

func toCartLineDTO(line *domain.CartLine) *CartLineDTO {
	if line == nil {
		return nil
	}
	return &CartLineDTO{ItemID: line.ItemID, Quantity: line.Quantity}
}

func toCartDTO(view domain.CartView) CartDTO {
	out := CartDTO{
		Owner:     view.Owner.String(),
		Items:     make([]CartLineDTO, 0, len(view.Lines)),
		Total:     view.Total.StringFixed(2),
		ItemCount: view.ItemCount,
	}
	for _, l := range view.Lines {
		available := l.Available
		out.Items = append(out.Items, CartLineDTO{
			ItemID:    l.ItemID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.StringFixed(2),
			Subtotal:  l.Subtotal.StringFixed(2),
			Available: &available,
		})
	}
	return out
}

func toMergeDTO(r *domain.MergeResult) MergeDTO {
	return MergeDTO{
		Combined: r.Combined,
		Reowned:  r.Reowned,
		Capped:   r.Capped,
		Dropped:  r.Dropped,
		Cart:     toCartDTO(r.Cart),
	}
}

func toOrderDTO(o *domain.Order) OrderDTO {
	out := OrderDTO{
		ID:              o.ID,
		Owner:           o.Owner.String(),
		Status:          string(o.Status),
		TotalAmount:     o.TotalAmount.StringFixed(2),
		ShippingAddress: o.ShippingAddress,
		PaymentIntentID: o.PaymentIntentID,
		Items:           make([]OrderLineDTO, 0, len(o.Lines)),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	for _, l := range o.Lines {
		out.Items = append(out.Items, OrderLineDTO{
			ItemID:    l.ItemID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.StringFixed(2),
			Subtotal:  l.Subtotal().StringFixed(2),
		})
	}
	return out
}

func toOrderPageDTO(p *domain.OrderPage) OrderPageDTO {
	out := OrderPageDTO{
		Orders: make([]OrderDTO, 0, len(p.Orders)),
		Pagination: PaginationDTO{
			Page:       p.Page,
			Limit:      p.Limit,
			Total:      p.Total,
			TotalPages: p.TotalPages,
		},
	}
	for i := range p.Orders {
		out.Orders = append(out.Orders, toOrderDTO(&p.Orders[i]))
	}
	return out
}
