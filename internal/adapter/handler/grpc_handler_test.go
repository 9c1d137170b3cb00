package handler

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/order-engine/internal/adapter/storage"
	"github.com/rl1809/order-engine/internal/core/domain"
	"github.com/rl1809/order-engine/internal/core/service"
	"github.com/rl1809/order-engine/internal/testutil"
)

type grpcEnv struct {
	store *storage.SQLStore
	conn  *grpc.ClientConn
}

func setupGRPC(t *testing.T, items ...domain.Item) *grpcEnv {
	t.Helper()

	store := testutil.NewSQLiteStore(t)
	testutil.PutItems(t, store, items...)

	ledger := service.NewInventoryLedger(store, nil, 10, nil)
	t.Cleanup(ledger.Close)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterGRPCHandler(srv, NewGRPCHandler(
		service.NewCartService(store, ledger, nil),
		service.NewMergeService(store, ledger, nil),
		service.NewOrderService(store, ledger, nil, nil),
		nil,
	))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(JSONCodecName)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &grpcEnv{store: store, conn: conn}
}

func (e *grpcEnv) invoke(method string, req, resp any) error {
	return e.conn.Invoke(context.Background(), "/"+ServiceName+"/"+method, req, resp)
}

func TestGRPC_CartAndCheckout(t *testing.T) {
	env := setupGRPC(t, testutil.Item("a", "7.50", 5))
	alice := OwnerRef{UserID: "alice"}

	var line CartLineDTO
	require.NoError(t, env.invoke("AddLine", &LineRequest{OwnerRef: alice, ItemID: "a", Quantity: 3}, &line))
	assert.Equal(t, 3, line.Quantity)

	var cart CartDTO
	require.NoError(t, env.invoke("GetCart", &CartRequest{OwnerRef: alice}, &cart))
	assert.Equal(t, "22.50", cart.Total)

	var order OrderDTO
	require.NoError(t, env.invoke("Checkout", &CheckoutRPCRequest{OwnerRef: alice, ShippingAddress: "1 Main St"}, &order))
	assert.Equal(t, "pending", order.Status)
	assert.Equal(t, "22.50", order.TotalAmount)
	assert.Equal(t, 2, testutil.Stock(t, env.store, "a"))

	var fetched OrderDTO
	require.NoError(t, env.invoke("GetOrder", &GetOrderRequest{OrderID: order.ID}, &fetched))
	assert.Equal(t, order.ID, fetched.ID)

	err := env.invoke("GetOrder", &GetOrderRequest{OwnerRef: OwnerRef{UserID: "bob"}, OrderID: order.ID}, &fetched)
	assert.Equal(t, codes.NotFound, status.Code(err))

	var cancelled OrderDTO
	require.NoError(t, env.invoke("TransitionOrder", &TransitionOrderRequest{OrderID: order.ID, Status: "cancelled"}, &cancelled))
	assert.Equal(t, "cancelled", cancelled.Status)
	assert.Equal(t, 5, testutil.Stock(t, env.store, "a"))
}

func TestGRPC_SetRemoveAndClear(t *testing.T) {
	env := setupGRPC(t, testutil.Item("a", "1.00", 5), testutil.Item("b", "1.00", 5))
	s1 := OwnerRef{SessionID: "s1"}

	var line CartLineDTO
	err := env.invoke("SetLineQuantity", &LineRequest{OwnerRef: s1, ItemID: "a", Quantity: 2}, &line)
	assert.Equal(t, codes.NotFound, status.Code(err))

	require.NoError(t, env.invoke("AddLine", &LineRequest{OwnerRef: s1, ItemID: "a", Quantity: 1}, &line))
	require.NoError(t, env.invoke("SetLineQuantity", &LineRequest{OwnerRef: s1, ItemID: "a", Quantity: 2}, &line))
	assert.Equal(t, 2, line.Quantity)

	line = CartLineDTO{}
	require.NoError(t, env.invoke("SetLineQuantity", &LineRequest{OwnerRef: s1, ItemID: "a", Quantity: 0}, &line))
	assert.Equal(t, "a", line.ItemID)
	assert.Zero(t, line.Quantity)

	require.NoError(t, env.invoke("AddLine", &LineRequest{OwnerRef: s1, ItemID: "a", Quantity: 1}, &line))
	require.NoError(t, env.invoke("AddLine", &LineRequest{OwnerRef: s1, ItemID: "b", Quantity: 1}, &line))

	var msg MessageResponse
	require.NoError(t, env.invoke("RemoveLine", &LineRequest{OwnerRef: s1, ItemID: "a"}, &msg))
	assert.Equal(t, map[string]int{"b": 1}, testutil.CartQuantities(t, env.store, domain.AnonymousOwner("s1")))

	require.NoError(t, env.invoke("ClearCart", &CartRequest{OwnerRef: s1}, &msg))
	assert.Equal(t, "cart cleared", msg.Message)
	assert.Empty(t, testutil.CartQuantities(t, env.store, domain.AnonymousOwner("s1")))
}

func TestGRPC_MergeCart(t *testing.T) {
	env := setupGRPC(t, testutil.Item("b", "1.00", 2))

	var line CartLineDTO
	require.NoError(t, env.invoke("AddLine", &LineRequest{OwnerRef: OwnerRef{SessionID: "s1"}, ItemID: "b", Quantity: 2}, &line))
	require.NoError(t, env.invoke("AddLine", &LineRequest{OwnerRef: OwnerRef{UserID: "u1"}, ItemID: "b", Quantity: 1}, &line))

	var merged MergeDTO
	err := env.invoke("MergeCart", &MergeCartRequest{UserID: "u1"}, &merged)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	require.NoError(t, env.invoke("MergeCart", &MergeCartRequest{UserID: "u1", SessionID: "s1"}, &merged))
	assert.Equal(t, 1, merged.Capped)
	assert.Equal(t, 2, merged.Cart.ItemCount)
}

func TestGRPC_ErrorCodes(t *testing.T) {
	env := setupGRPC(t, testutil.Item("a", "1.00", 1))
	u1 := OwnerRef{UserID: "u1"}

	var line CartLineDTO
	var order OrderDTO
	tests := []struct {
		name   string
		method string
		req    any
		resp   any
		code   codes.Code
	}{
		{"no owner", "AddLine", &LineRequest{ItemID: "a", Quantity: 1}, &line, codes.InvalidArgument},
		{"bad quantity", "AddLine", &LineRequest{OwnerRef: u1, ItemID: "a", Quantity: 0}, &line, codes.InvalidArgument},
		{"unknown item", "AddLine", &LineRequest{OwnerRef: u1, ItemID: "zzz", Quantity: 1}, &line, codes.NotFound},
		{"over stock", "AddLine", &LineRequest{OwnerRef: u1, ItemID: "a", Quantity: 2}, &line, codes.FailedPrecondition},
		{"empty cart", "Checkout", &CheckoutRPCRequest{OwnerRef: u1}, &order, codes.FailedPrecondition},
		{"bad status", "TransitionOrder", &TransitionOrderRequest{OrderID: "x", Status: "lost"}, &order, codes.InvalidArgument},
		{"missing order", "TransitionOrder", &TransitionOrderRequest{OrderID: "x", Status: "processing"}, &order, codes.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.invoke(tt.method, tt.req, tt.resp)
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}

func TestMapError(t *testing.T) {
	h := NewGRPCHandler(nil, nil, nil, nil)
	assert.Equal(t, codes.AlreadyExists, status.Code(h.mapError(service.ErrDuplicateRequest)))
	assert.Equal(t, codes.Unavailable, status.Code(h.mapError(domain.ErrStoreUnavailable)))
	assert.Equal(t, codes.FailedPrecondition, status.Code(h.mapError(
		&domain.InvalidTransitionError{From: domain.OrderStatusShipped, To: domain.OrderStatusCancelled})))
	assert.Equal(t, codes.Internal, status.Code(h.mapError(errors.New("boom"))))
}
