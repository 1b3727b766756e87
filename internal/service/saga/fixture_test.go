package saga

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/storage/memory"
)

var (
	customer = domain.Actor{ID: "user-1", Role: domain.RoleCustomer}
	admin    = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
	gateway  = domain.Actor{ID: "gateway-a", Role: domain.RoleGateway}

	fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	errInjected = errors.New("injected failure")
)

// fixture собирает движок поверх in-memory хранилищ.
type fixture struct {
	engine   *Engine
	orders   domain.OrderRepository
	payments domain.PaymentRepository
	products *flakyProducts
	coupons  domain.CouponRepository
	carts    *memory.CartRepository
	outbox   *memory.OutboxRepository
	timeline domain.TimelineRepository
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		orders:   memory.NewOrderRepository(),
		payments: memory.NewPaymentRepository(),
		products: &flakyProducts{ProductRepository: memory.NewProductRepository()},
		coupons:  memory.NewCouponRepository(),
		carts:    memory.NewCartRepository(),
		outbox:   memory.NewOutboxRepository(),
		timeline: memory.NewTimelineRepository(),
	}
	logger := log.New()
	logger.SetOutput(io.Discard)

	base := []Option{
		WithLogger(logger.WithField("test", t.Name())),
		WithClock(func() time.Time { return fixedNow }),
	}
	f.engine = NewEngine(Dependencies{
		Orders:   f.orders,
		Payments: f.payments,
		Products: f.products,
		Coupons:  f.coupons,
		Carts:    f.carts,
		Outbox:   f.outbox,
		Timeline: f.timeline,
	}, append(base, opts...)...)
	return f
}

func (f *fixture) addProduct(t *testing.T, id string, price, stock int64) {
	t.Helper()
	require.NoError(t, f.products.Upsert(context.Background(), domain.Product{
		ID:            id,
		Name:          "Product " + id,
		SKU:           "SKU-" + id,
		PriceMinor:    price,
		StockQuantity: stock,
		IsActive:      true,
	}))
}

func (f *fixture) addCoupon(t *testing.T, c domain.Coupon) {
	t.Helper()
	if c.StartsAt.IsZero() {
		c.StartsAt = fixedNow.Add(-time.Hour)
	}
	c.IsActive = true
	require.NoError(t, f.coupons.Upsert(context.Background(), c))
}

func (f *fixture) stock(t *testing.T, id string) int64 {
	t.Helper()
	p, err := f.products.Get(context.Background(), id)
	require.NoError(t, err)
	return p.StockQuantity
}

func (f *fixture) couponUsage(t *testing.T, id string) int64 {
	t.Helper()
	c, err := f.coupons.Get(context.Background(), id)
	require.NoError(t, err)
	return c.UsedCount
}

func (f *fixture) events(eventType string) []domain.OutboxMessage {
	var out []domain.OutboxMessage
	for _, msg := range f.outbox.AllPending() {
		if msg.EventType == eventType {
			out = append(out, msg)
		}
	}
	return out
}

func address() domain.Address {
	return domain.Address{
		FullName:   "Ivan Petrov",
		Line1:      "Lenina 1",
		City:       "Moscow",
		PostalCode: "101000",
		Country:    "RU",
	}
}

func orderInput(items ...ItemInput) CreateOrderInput {
	return CreateOrderInput{
		UserID:          customer.ID,
		Items:           items,
		ShippingAddress: address(),
		ShippingMethod:  "standard",
	}
}

// paidOrder создаёт заказ и проводит оплату до completed.
func (f *fixture) paidOrder(t *testing.T, items ...ItemInput) domain.Order {
	t.Helper()
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, customer, orderInput(items...))
	require.NoError(t, err)
	payment, err := f.engine.CreatePayment(ctx, customer, CreatePaymentInput{
		OrderID: order.ID,
		Method:  domain.PaymentMethodGatewayA,
	})
	require.NoError(t, err)
	_, err = f.engine.ProcessPayment(ctx, gateway, ProcessPaymentInput{PaymentID: payment.ID, Status: domain.PaymentStatusProcessing})
	require.NoError(t, err)
	res, err := f.engine.ProcessPayment(ctx, gateway, ProcessPaymentInput{PaymentID: payment.ID, Status: domain.PaymentStatusCompleted})
	require.NoError(t, err)
	require.Equal(t, domain.OrderPaymentPaid, res.Order.PaymentStatus)
	return res.Order
}

// flakyProducts позволяет уронить списание или возврат конкретного товара.
type flakyProducts struct {
	domain.ProductRepository

	mu             sync.Mutex
	failDecrement  map[string]error
	failIncrement  map[string]error
	incrementCalls int
}

func (p *flakyProducts) failDecrementFor(id string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failDecrement == nil {
		p.failDecrement = make(map[string]error)
	}
	p.failDecrement[id] = err
}

func (p *flakyProducts) failIncrementFor(id string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failIncrement == nil {
		p.failIncrement = make(map[string]error)
	}
	p.failIncrement[id] = err
}

func (p *flakyProducts) DecrementStock(ctx context.Context, id string, qty int64) error {
	p.mu.Lock()
	err := p.failDecrement[id]
	p.mu.Unlock()
	if err != nil {
		return err
	}
	return p.ProductRepository.DecrementStock(ctx, id, qty)
}

func (p *flakyProducts) IncrementStock(ctx context.Context, id string, qty int64) error {
	p.mu.Lock()
	p.incrementCalls++
	err := p.failIncrement[id]
	p.mu.Unlock()
	if err != nil {
		return err
	}
	return p.ProductRepository.IncrementStock(ctx, id, qty)
}
