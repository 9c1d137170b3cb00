package handler

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/rl1809/order-engine/internal/core/domain"
	"github.com/rl1809/order-engine/internal/core/service"
)

const (
	ServiceName = "orderengine.OrderEngine"
	// JSONCodecName is the content-subtype clients select with
	// grpc.CallContentSubtype.
	JSONCodecName = "json"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

// OwnerRef identifies the cart owner on RPC requests. UserID wins when both
// fields are set.
type OwnerRef struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (o OwnerRef) owner() (domain.Owner, error) {
	switch {
	case o.UserID != "":
		return domain.UserOwner(o.UserID), nil
	case o.SessionID != "":
		return domain.AnonymousOwner(o.SessionID), nil
	default:
		return domain.Owner{}, domain.ErrInvalidOwner
	}
}

type LineRequest struct {
	OwnerRef
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type CartRequest struct {
	OwnerRef
}

type MergeCartRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

type CheckoutRPCRequest struct {
	OwnerRef
	ShippingAddress string `json:"shipping_address"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
	RequestID       string `json:"request_id,omitempty"`
}

type TransitionOrderRequest struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type GetOrderRequest struct {
	OwnerRef
	OrderID string `json:"order_id"`
}

// OrderEngineServer is the RPC surface served under ServiceName.
type OrderEngineServer interface {
	AddLine(context.Context, *LineRequest) (*CartLineDTO, error)
	SetLineQuantity(context.Context, *LineRequest) (*CartLineDTO, error)
	RemoveLine(context.Context, *LineRequest) (*MessageResponse, error)
	ClearCart(context.Context, *CartRequest) (*MessageResponse, error)
	GetCart(context.Context, *CartRequest) (*CartDTO, error)
	MergeCart(context.Context, *MergeCartRequest) (*MergeDTO, error)
	Checkout(context.Context, *CheckoutRPCRequest) (*OrderDTO, error)
	TransitionOrder(context.Context, *TransitionOrderRequest) (*OrderDTO, error)
	GetOrder(context.Context, *GetOrderRequest) (*OrderDTO, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("AddLine", OrderEngineServer.AddLine),
		unaryMethod("SetLineQuantity", OrderEngineServer.SetLineQuantity),
		unaryMethod("RemoveLine", OrderEngineServer.RemoveLine),
		unaryMethod("ClearCart", OrderEngineServer.ClearCart),
		unaryMethod("GetCart", OrderEngineServer.GetCart),
		unaryMethod("MergeCart", OrderEngineServer.MergeCart),
		unaryMethod("Checkout", OrderEngineServer.Checkout),
		unaryMethod("TransitionOrder", OrderEngineServer.TransitionOrder),
		unaryMethod("GetOrder", OrderEngineServer.GetOrder),
	},
	Streams: []grpc.StreamDesc{},
}

func unaryMethod[Req, Resp any](name string, call func(OrderEngineServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OrderEngineServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(OrderEngineServer), ctx, req.(*Req))
			})
		},
	}
}

func RegisterGRPCHandler(s grpc.ServiceRegistrar, h OrderEngineServer) {
	s.RegisterService(&serviceDesc, h)
}

type GRPCHandler struct {
	carts  *service.CartService
	merger *service.MergeService
	orders *service.OrderService
	logger *zap.Logger
}

var _ OrderEngineServer = (*GRPCHandler)(nil)

func NewGRPCHandler(carts *service.CartService, merger *service.MergeService, orders *service.OrderService, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{carts: carts, merger: merger, orders: orders, logger: logger}
}

func (h *GRPCHandler) AddLine(ctx context.Context, req *LineRequest) (*CartLineDTO, error) {
	owner, err := req.owner()
	if err != nil {
		return nil, h.mapError(err)
	}
	line, err := h.carts.AddLine(ctx, owner, req.ItemID, req.Quantity)
	if err != nil {
		return nil, h.mapError(err)
	}
	return toCartLineDTO(line), nil
}

func (h *GRPCHandler) SetLineQuantity(ctx context.Context, req *LineRequest) (*CartLineDTO, error) {
	owner, err := req.owner()
	if err != nil {
		return nil, h.mapError(err)
	}
	line, err := h.carts.SetLineQuantity(ctx, owner, req.ItemID, req.Quantity)
	if err != nil {
		return nil, h.mapError(err)
	}
	if line == nil {
		return &CartLineDTO{ItemID: req.ItemID}, nil
	}
	return toCartLineDTO(line), nil
}

func (h *GRPCHandler) RemoveLine(ctx context.Context, req *LineRequest) (*MessageResponse, error) {
	owner, err := req.owner()
	if err != nil {
		return nil, h.mapError(err)
	}
	if err := h.carts.RemoveLine(ctx, owner, req.ItemID); err != nil {
		return nil, h.mapError(err)
	}
	return &MessageResponse{Message: "item removed from cart"}, nil
}

func (h *GRPCHandler) ClearCart(ctx context.Context, req *CartRequest) (*MessageResponse, error) {
	owner, err := req.owner()
	if err != nil {
		return nil, h.mapError(err)
	}
	if err := h.carts.Clear(ctx, owner); err != nil {
		return nil, h.mapError(err)
	}
	return &MessageResponse{Message: "cart cleared"}, nil
}

func (h *GRPCHandler) GetCart(ctx context.Context, req *CartRequest) (*CartDTO, error) {
	owner, err := req.owner()
	if err != nil {
		return nil, h.mapError(err)
	}
	view, err := h.carts.Snapshot(ctx, owner)
	if err != nil {
		return nil, h.mapError(err)
	}
	out := toCartDTO(view)
	return &out, nil
}

func (h *GRPCHandler) MergeCart(ctx context.Context, req *MergeCartRequest) (*MergeDTO, error) {
	if req.UserID == "" || req.SessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id and session_id are required")
	}
	result, err := h.merger.Merge(ctx, domain.UserOwner(req.UserID), domain.AnonymousOwner(req.SessionID))
	if err != nil {
		return nil, h.mapError(err)
	}
	out := toMergeDTO(result)
	return &out, nil
}

func (h *GRPCHandler) Checkout(ctx context.Context, req *CheckoutRPCRequest) (*OrderDTO, error) {
	owner, err := req.owner()
	if err != nil {
		return nil, h.mapError(err)
	}
	order, err := h.orders.Checkout(ctx, owner, service.CheckoutRequest{
		ShippingAddress: req.ShippingAddress,
		PaymentIntentID: req.PaymentIntentID,
		RequestID:       req.RequestID,
	})
	if err != nil {
		return nil, h.mapError(err)
	}
	out := toOrderDTO(order)
	return &out, nil
}

func (h *GRPCHandler) TransitionOrder(ctx context.Context, req *TransitionOrderRequest) (*OrderDTO, error) {
	to, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		return nil, h.mapError(err)
	}
	order, err := h.orders.Transition(ctx, req.OrderID, to)
	if err != nil {
		return nil, h.mapError(err)
	}
	out := toOrderDTO(order)
	return &out, nil
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderDTO, error) {
	var owner *domain.Owner
	if o, err := req.owner(); err == nil {
		owner = &o
	}
	order, err := h.orders.GetOrder(ctx, req.OrderID, owner)
	if err != nil {
		return nil, h.mapError(err)
	}
	out := toOrderDTO(order)
	return &out, nil
}

func (h *GRPCHandler) mapError(err error) error {
	var stockErr *domain.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		return status.Error(codes.FailedPrecondition, stockErr.Error())
	case errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidOwner),
		errors.Is(err, domain.ErrInvalidStatus):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrItemNotFound),
		errors.Is(err, domain.ErrLineNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrDuplicateRequest):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		return status.Error(codes.Unavailable, "service temporarily unavailable")
	default:
		h.logger.Error("rpc failed", zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
}
