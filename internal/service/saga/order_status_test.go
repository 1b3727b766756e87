package saga

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

func TestUpdateOrderStatus_CancelReleasesStockAndCoupon(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", 1000, 10)
	f.addCoupon(t, domain.Coupon{ID: "c1", Code: "FIX", Type: domain.CouponTypeFixedAmount, Value: 100})
	ctx := context.Background()

	in := orderInput(ItemInput{ProductID: "p1", Quantity: 3})
	in.CouponCode = "FIX"
	order, err := f.engine.CreateOrder(ctx, customer, in)
	require.NoError(t, err)
	require.Equal(t, int64(7), f.stock(t, "p1"))

	res, err := f.engine.UpdateOrderStatus(ctx, customer, UpdateStatusInput{
		OrderID: order.ID,
		Status:  domain.OrderStatusCancelled,
		Notes:   "changed my mind",
	})
	require.NoError(t, err)
	require.Empty(t, res.EffectFailures)
	require.Equal(t, domain.OrderStatusCancelled, res.Order.Status)
	require.NotNil(t, res.Order.CancelledAt)
	require.Equal(t, int64(1), res.Order.Version)

	require.Equal(t, int64(10), f.stock(t, "p1"))
	require.Equal(t, int64(0), f.couponUsage(t, "c1"))
	require.Len(t, f.events(domain.EventOrderCancelled), 1)

	// Терминальный статус: повторная отмена запрещена и сток не возвращается дважды.
	_, err = f.engine.UpdateOrderStatus(ctx, admin, UpdateStatusInput{OrderID: order.ID, Status: domain.OrderStatusCancelled})
	require.Equal(t, domain.KindIllegalTransition, domain.KindOf(err))
	require.Equal(t, int64(10), f.stock(t, "p1"))
}

func TestUpdateOrderStatus_FulfilmentFlow(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", 1000, 10)
	ctx := context.Background()
	order := f.paidOrder(t, ItemInput{ProductID: "p1", Quantity: 1})
	require.Equal(t, domain.OrderStatusConfirmed, order.Status)

	steps := []UpdateStatusInput{
		{OrderID: order.ID, Status: domain.OrderStatusProcessing},
		{OrderID: order.ID, Status: domain.OrderStatusShipped, TrackingNumber: "TRACK-1"},
		{OrderID: order.ID, Status: domain.OrderStatusDelivered},
	}
	var last StatusUpdateResult
	for _, step := range steps {
		var err error
		last, err = f.engine.UpdateOrderStatus(ctx, admin, step)
		require.NoError(t, err, step.Status)
	}
	require.Equal(t, domain.OrderStatusDelivered, last.Order.Status)
	require.Equal(t, "TRACK-1", last.Order.TrackingNumber)
	require.NotNil(t, last.Order.ShippedAt)
	require.NotNil(t, last.Order.DeliveredAt)
	require.Equal(t, int64(9), f.stock(t, "p1"))
}

func TestUpdateOrderStatus_Rejections(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", 1000, 10)
	ctx := context.Background()
	order, err := f.engine.CreateOrder(ctx, customer, orderInput(ItemInput{ProductID: "p1", Quantity: 1}))
	require.NoError(t, err)

	tests := []struct {
		name   string
		actor  domain.Actor
		status domain.OrderStatus
		kind   domain.Kind
	}{
		{"skip to delivered", admin, domain.OrderStatusDelivered, domain.KindIllegalTransition},
		{"unknown status", admin, domain.OrderStatus("lost"), domain.KindValidation},
		{"customer cannot confirm", customer, domain.OrderStatusConfirmed, domain.KindForbidden},
		{"stranger cannot cancel", domain.Actor{ID: "user-2", Role: domain.RoleCustomer}, domain.OrderStatusCancelled, domain.KindForbidden},
		{"gateway cannot cancel", gateway, domain.OrderStatusCancelled, domain.KindForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.UpdateOrderStatus(ctx, tt.actor, UpdateStatusInput{OrderID: order.ID, Status: tt.status})
			require.Equal(t, tt.kind, domain.KindOf(err), "%v", err)
		})
	}

	_, err = f.engine.UpdateOrderStatus(ctx, admin, UpdateStatusInput{OrderID: "missing", Status: domain.OrderStatusConfirmed})
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	stored, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, stored.Status)
	require.Equal(t, int64(0), stored.Version)
}

func TestUpdateOrderStatus_EffectFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", 1000, 10)
	ctx := context.Background()
	order, err := f.engine.CreateOrder(ctx, customer, orderInput(ItemInput{ProductID: "p1", Quantity: 2}))
	require.NoError(t, err)

	f.products.failIncrementFor("p1", errInjected)
	res, err := f.engine.UpdateOrderStatus(ctx, admin, UpdateStatusInput{OrderID: order.ID, Status: domain.OrderStatusCancelled})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, res.Order.Status)
	require.Len(t, res.EffectFailures, 1)
	require.ErrorIs(t, res.EffectFailures[0], errInjected)
	require.Len(t, f.events(domain.EventSideEffectFailed), 1)
}

func TestListOrders_CustomerScope(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", 1000, 10)
	ctx := context.Background()

	_, err := f.engine.CreateOrder(ctx, customer, orderInput(ItemInput{ProductID: "p1", Quantity: 1}))
	require.NoError(t, err)
	other := orderInput(ItemInput{ProductID: "p1", Quantity: 1})
	other.UserID = "user-2"
	_, err = f.engine.CreateOrder(ctx, admin, other)
	require.NoError(t, err)

	mine, err := f.engine.ListOrders(ctx, customer, domain.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, customer.ID, mine[0].UserID)

	all, err := f.engine.ListOrders(ctx, admin, domain.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	_, err = f.engine.ListOrders(ctx, customer, domain.OrderFilter{UserID: "user-2"})
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestUpdateOrderStatus_RefundedIssuesRefundForRemainder(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", 1000, 10)
	ctx := context.Background()
	order := f.paidOrder(t, ItemInput{ProductID: "p1", Quantity: 3})
	require.Equal(t, int64(7), f.stock(t, "p1"))

	for _, status := range []domain.OrderStatus{domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered} {
		_, err := f.engine.UpdateOrderStatus(ctx, admin, UpdateStatusInput{OrderID: order.ID, Status: status})
		require.NoError(t, err, status)
	}

	partial, err := f.engine.RefundOrder(ctx, admin, RefundInput{
		OrderID: order.ID, AmountMinor: 1000, Reason: "damaged box", Method: domain.PaymentMethodGatewayA,
	})
	require.NoError(t, err)
	require.False(t, partial.FullyRefunded)

	res, err := f.engine.UpdateOrderStatus(ctx, admin, UpdateStatusInput{
		OrderID: order.ID, Status: domain.OrderStatusRefunded, Notes: "returned",
	})
	require.NoError(t, err)
	require.Empty(t, res.EffectFailures)
	require.Equal(t, domain.OrderStatusRefunded, res.Order.Status)
	require.Equal(t, domain.OrderPaymentRefunded, res.Order.PaymentStatus)
	require.Equal(t, int64(10), f.stock(t, "p1"))

	payments, err := f.payments.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, order.TotalMinor, domain.SumCompletedRefunds(payments))
	var refunds []domain.Payment
	for _, p := range payments {
		if p.IsRefund() {
			refunds = append(refunds, p)
		}
	}
	require.Len(t, refunds, 2)
	require.Len(t, f.events(domain.EventOrderRefunded), 1)

	// Терминальный статус: сток второй раз не возвращается.
	_, err = f.engine.UpdateOrderStatus(ctx, admin, UpdateStatusInput{OrderID: order.ID, Status: domain.OrderStatusRefunded})
	require.Equal(t, domain.KindIllegalTransition, domain.KindOf(err))
	require.Equal(t, int64(10), f.stock(t, "p1"))
}

func TestUpdateOrderStatus_RefundedRequiresCapturedPayment(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "p1", 1000, 10)
	ctx := context.Background()
	order, err := f.engine.CreateOrder(ctx, customer, orderInput(ItemInput{ProductID: "p1", Quantity: 2}))
	require.NoError(t, err)

	for _, status := range []domain.OrderStatus{
		domain.OrderStatusConfirmed, domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered,
	} {
		_, err := f.engine.UpdateOrderStatus(ctx, admin, UpdateStatusInput{OrderID: order.ID, Status: status})
		require.NoError(t, err, status)
	}

	_, err = f.engine.UpdateOrderStatus(ctx, admin, UpdateStatusInput{OrderID: order.ID, Status: domain.OrderStatusRefunded})
	require.ErrorIs(t, err, domain.ErrPaymentNotCompleted)

	stored, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusDelivered, stored.Status)
	require.Equal(t, int64(8), f.stock(t, "p1"))
}
