package grpcsvc_test

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/pricing"
	grpcsvc "github.com/vladislavdragonenkov/orderengine/internal/service/grpc"
	"github.com/vladislavdragonenkov/orderengine/internal/service/idempotency"
	"github.com/vladislavdragonenkov/orderengine/internal/service/saga"
	"github.com/vladislavdragonenkov/orderengine/internal/storage/memory"
)

const bufSize = 1024 * 1024

var (
	buyer   = domain.Actor{ID: "user-1", Role: domain.RoleCustomer}
	admin   = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
	gateway = domain.Actor{ID: "gw-a", Role: domain.RoleGateway}
)

type testServer struct {
	client   *grpcsvc.Client
	products domain.ProductRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := loggerForTests()

	products := memory.NewProductRepository()
	require.NoError(t, products.Upsert(ctx, domain.Product{
		ID: "p-1", Name: "Keyboard", SKU: "KB-1", PriceMinor: 5000, StockQuantity: 10, IsActive: true,
	}))
	engine := saga.NewEngine(saga.Dependencies{
		Orders:   memory.NewOrderRepository(),
		Payments: memory.NewPaymentRepository(),
		Products: products,
		Coupons:  memory.NewCouponRepository(),
		Carts:    memory.NewCartRepository(),
		Outbox:   memory.NewOutboxRepository(),
		Timeline: memory.NewTimelineRepository(),
	},
		saga.WithLogger(logger),
		saga.WithChargesPolicy(pricing.ChargesPolicy{ShippingRates: map[string]int64{"express": 700}, TaxBasisPoints: 1000}),
	)
	guard := idempotency.NewGuard(memory.NewIdempotencyRepository(), idempotency.WithGuardLogger(logger))
	service := grpcsvc.NewOrderService(engine, guard, logger)

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(
		grpcsvc.UnaryRecoveryInterceptor(logger),
		grpcsvc.UnaryLoggingInterceptor(logger),
	))
	grpcsvc.RegisterOrderLifecycleServer(server, service)
	go func() {
		_ = server.Serve(listener)
	}()

	dialer := func(context.Context, string) (net.Conn, error) {
		return listener.Dial()
	}
	//nolint:staticcheck // grpc.Dial is required for bufconn testing
	conn, err := grpc.Dial("bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
	})

	return &testServer{client: grpcsvc.NewClient(conn), products: products}
}

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)
	return logger.WithField("component", "test")
}

func actorCtx(actor domain.Actor, idempotencyKey string) context.Context {
	pairs := []string{grpcsvc.ActorIDHeader, actor.ID, grpcsvc.ActorRoleHeader, string(actor.Role)}
	if idempotencyKey != "" {
		pairs = append(pairs, grpcsvc.IdempotencyKeyHeader, idempotencyKey)
	}
	return metadata.AppendToOutgoingContext(context.Background(), pairs...)
}

func (s *testServer) call(t *testing.T, ctx context.Context, method string, body map[string]any) (*structpb.Struct, error) {
	t.Helper()
	in, err := structpb.NewStruct(body)
	require.NoError(t, err)
	return s.client.Call(ctx, method, in)
}

func createOrderBody(qty int) map[string]any {
	return map[string]any{
		"items": []any{map[string]any{"product_id": "p-1", "quantity": qty}},
		"shipping_address": map[string]any{
			"full_name": "Ivan Petrov", "line1": "Lenina 1", "city": "Moscow", "postal_code": "101000", "country": "RU",
		},
		"shipping_method": "express",
	}
}

func str(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func num(s *structpb.Struct, path ...string) float64 {
	for _, key := range path[:len(path)-1] {
		s = s.GetFields()[key].GetStructValue()
	}
	return s.GetFields()[path[len(path)-1]].GetNumberValue()
}

func requireCode(t *testing.T, err error, code codes.Code, kind domain.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, status.Code(err), "unexpected status: %v", err)
	if kind != "" {
		require.Equal(t, kind, grpcsvc.KindFromStatus(err))
	}
}

func TestCreateOrder_IdempotentReplay(t *testing.T) {
	srv := newTestServer(t)
	ctx := actorCtx(buyer, "create-1")

	first, err := srv.call(t, ctx, grpcsvc.MethodCreateOrder, createOrderBody(2))
	require.NoError(t, err)
	require.Equal(t, "pending", str(first, "status"))
	require.Equal(t, buyer.ID, str(first, "user_id"), "customer user id comes from metadata")
	require.Equal(t, float64(11700), num(first, "price", "total_minor"))

	second, err := srv.call(t, ctx, grpcsvc.MethodCreateOrder, createOrderBody(2))
	require.NoError(t, err)
	require.Equal(t, str(first, "id"), str(second, "id"))

	product, err := srv.products.Get(context.Background(), "p-1")
	require.NoError(t, err)
	require.Equal(t, int64(8), product.StockQuantity, "replay must not reserve stock twice")

	_, err = srv.call(t, ctx, grpcsvc.MethodCreateOrder, createOrderBody(3))
	requireCode(t, err, codes.AlreadyExists, domain.KindConflict)
}

func TestCreateOrder_Rejections(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		ctx  context.Context
		body map[string]any
		code codes.Code
		kind domain.Kind
	}{
		{
			name: "missing idempotency key",
			ctx:  actorCtx(buyer, ""),
			body: createOrderBody(1),
			code: codes.InvalidArgument,
			kind: domain.KindValidation,
		},
		{
			name: "missing actor",
			ctx:  metadata.AppendToOutgoingContext(context.Background(), grpcsvc.IdempotencyKeyHeader, "k-actor"),
			body: createOrderBody(1),
			code: codes.Unauthenticated,
		},
		{
			name: "insufficient stock",
			ctx:  actorCtx(buyer, "k-stock"),
			body: createOrderBody(11),
			code: codes.FailedPrecondition,
			kind: domain.KindInsufficientStock,
		},
		{
			name: "unknown field",
			ctx:  actorCtx(buyer, "k-field"),
			body: map[string]any{"colour": "red"},
			code: codes.InvalidArgument,
		},
		{
			name: "customer for another user",
			ctx:  actorCtx(buyer, "k-other"),
			body: func() map[string]any {
				b := createOrderBody(1)
				b["user_id"] = "user-2"
				return b
			}(),
			code: codes.PermissionDenied,
			kind: domain.KindForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := srv.call(t, tt.ctx, grpcsvc.MethodCreateOrder, tt.body)
			requireCode(t, err, tt.code, tt.kind)
		})
	}
}

func TestPreviewPrice(t *testing.T) {
	srv := newTestServer(t)

	out, err := srv.call(t, actorCtx(buyer, ""), grpcsvc.MethodPreviewPrice, map[string]any{
		"items":           []any{map[string]any{"product_id": "p-1", "quantity": 3}},
		"shipping_method": "express",
	})
	require.NoError(t, err)
	require.Equal(t, float64(15000), num(out, "subtotal_minor"))
	require.Equal(t, float64(1500), num(out, "tax_minor"))
	require.Equal(t, float64(700), num(out, "shipping_minor"))
	require.Equal(t, float64(17200), num(out, "total_minor"))

	product, err := srv.products.Get(context.Background(), "p-1")
	require.NoError(t, err)
	require.Equal(t, int64(10), product.StockQuantity)
}

func TestPaymentAndRefundFlow(t *testing.T) {
	srv := newTestServer(t)

	order, err := srv.call(t, actorCtx(buyer, "flow-order"), grpcsvc.MethodCreateOrder, createOrderBody(2))
	require.NoError(t, err)
	orderID := str(order, "id")

	payment, err := srv.call(t, actorCtx(buyer, "flow-pay"), grpcsvc.MethodCreatePayment, map[string]any{
		"order_id": orderID, "payment_method": string(domain.PaymentMethodGatewayA), "transaction_id": "TXN-100",
	})
	require.NoError(t, err)
	require.Equal(t, float64(11700), num(payment, "amount_minor"))

	_, err = srv.call(t, actorCtx(buyer, ""), grpcsvc.MethodProcessPayment, map[string]any{
		"payment_id": str(payment, "id"), "status": "completed",
	})
	requireCode(t, err, codes.PermissionDenied, domain.KindForbidden)

	_, err = srv.call(t, actorCtx(gateway, ""), grpcsvc.MethodProcessPayment, map[string]any{
		"payment_id": str(payment, "id"), "status": "processing",
	})
	require.NoError(t, err)
	processed, err := srv.call(t, actorCtx(gateway, ""), grpcsvc.MethodProcessPayment, map[string]any{
		"payment_id": str(payment, "id"), "status": "completed",
	})
	require.NoError(t, err)
	require.Equal(t, "completed", str(processed.GetFields()["payment"].GetStructValue(), "status"))

	got, err := srv.call(t, actorCtx(buyer, ""), grpcsvc.MethodGetOrder, map[string]any{"order_id": orderID, "include_timeline": true})
	require.NoError(t, err)
	require.Equal(t, "confirmed", str(got, "status"))
	require.Equal(t, "paid", str(got, "payment_status"))
	require.NotEmpty(t, got.GetFields()["timeline"].GetListValue().GetValues())

	_, err = srv.call(t, actorCtx(buyer, "flow-refund-buyer"), grpcsvc.MethodRefundOrder, map[string]any{
		"order_id": orderID, "amount_minor": 1000, "reason": "changed mind", "payment_method": string(domain.PaymentMethodGatewayA),
	})
	requireCode(t, err, codes.PermissionDenied, domain.KindForbidden)

	_, err = srv.call(t, actorCtx(admin, "flow-refund-too-much"), grpcsvc.MethodRefundOrder, map[string]any{
		"order_id": orderID, "amount_minor": 20000, "reason": "oops", "payment_method": string(domain.PaymentMethodGatewayA),
	})
	requireCode(t, err, codes.FailedPrecondition, domain.KindRefundExceedsOrderTotal)

	refund, err := srv.call(t, actorCtx(admin, "flow-refund"), grpcsvc.MethodRefundOrder, map[string]any{
		"order_id": orderID, "amount_minor": 11700, "reason": "damaged", "payment_method": string(domain.PaymentMethodGatewayA),
	})
	require.NoError(t, err)
	require.True(t, refund.GetFields()["fully_refunded"].GetBoolValue())
	require.Equal(t, "refunded", str(refund.GetFields()["order"].GetStructValue(), "status"))

	product, err := srv.products.Get(context.Background(), "p-1")
	require.NoError(t, err)
	require.Equal(t, int64(10), product.StockQuantity, "full refund returns stock")
}

func TestUpdateOrderStatusAndList(t *testing.T) {
	srv := newTestServer(t)

	order, err := srv.call(t, actorCtx(buyer, "status-order"), grpcsvc.MethodCreateOrder, createOrderBody(1))
	require.NoError(t, err)
	orderID := str(order, "id")

	_, err = srv.call(t, actorCtx(admin, ""), grpcsvc.MethodUpdateOrderStatus, map[string]any{"order_id": orderID, "status": "shipped"})
	requireCode(t, err, codes.FailedPrecondition, domain.KindIllegalTransition)

	_, err = srv.call(t, actorCtx(admin, ""), grpcsvc.MethodUpdateOrderStatus, map[string]any{"order_id": orderID, "status": "teleported"})
	requireCode(t, err, codes.InvalidArgument, domain.KindValidation)

	cancelled, err := srv.call(t, actorCtx(buyer, ""), grpcsvc.MethodUpdateOrderStatus, map[string]any{"order_id": orderID, "status": "cancelled"})
	require.NoError(t, err)
	require.Equal(t, "cancelled", str(cancelled.GetFields()["order"].GetStructValue(), "status"))

	list, err := srv.call(t, actorCtx(buyer, ""), grpcsvc.MethodListOrders, map[string]any{"status": "cancelled"})
	require.NoError(t, err)
	require.Len(t, list.GetFields()["orders"].GetListValue().GetValues(), 1)

	_, err = srv.call(t, actorCtx(buyer, ""), grpcsvc.MethodListOrders, map[string]any{"user_id": "user-2"})
	requireCode(t, err, codes.PermissionDenied, domain.KindForbidden)

	_, err = srv.call(t, actorCtx(buyer, ""), grpcsvc.MethodGetOrder, map[string]any{"order_id": "missing"})
	requireCode(t, err, codes.NotFound, domain.KindNotFound)
}

func TestUnaryRecoveryInterceptor(t *testing.T) {
	interceptor := grpcsvc.UnaryRecoveryInterceptor(loggerForTests())
	info := &grpc.UnaryServerInfo{FullMethod: grpcsvc.FullMethod(grpcsvc.MethodGetOrder)}

	_, err := interceptor(context.Background(), nil, info, func(context.Context, any) (any, error) {
		panic("boom")
	})
	require.Equal(t, codes.Internal, status.Code(err))
}

func TestCodeOf(t *testing.T) {
	tests := map[domain.Kind]codes.Code{
		domain.KindValidation:             codes.InvalidArgument,
		domain.KindEmptyCart:              codes.InvalidArgument,
		domain.KindNotFound:               codes.NotFound,
		domain.KindForbidden:              codes.PermissionDenied,
		domain.KindCouponExhausted:        codes.FailedPrecondition,
		domain.KindRefundExceedsRemaining: codes.FailedPrecondition,
		domain.KindConcurrentModification: codes.Aborted,
		domain.KindConflict:               codes.AlreadyExists,
		domain.KindCompensationFailure:    codes.Internal,
		domain.KindInternal:               codes.Internal,
	}
	for kind, want := range tests {
		if got := grpcsvc.CodeOf(kind); got != want {
			t.Errorf("CodeOf(%s) = %s, want %s", kind, got, want)
		}
	}
}

func TestStockPrecheckHasNoPhase(t *testing.T) {
	srv := newTestServer(t)

	for _, attempt := range []string{"first", "replay"} {
		_, err := srv.call(t, actorCtx(buyer, "k-precheck"), grpcsvc.MethodCreateOrder, createOrderBody(11))
		requireCode(t, err, codes.FailedPrecondition, domain.KindInsufficientStock)
		require.Empty(t, grpcsvc.PhaseFromStatus(err), attempt)
	}
}
