package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/pricing"
	"github.com/vladislavdragonenkov/orderengine/internal/service/coupon"
	"github.com/vladislavdragonenkov/orderengine/internal/service/inventory"
)

// ItemInput — запрошенная позиция заказа.
type ItemInput struct {
	ProductID string
	Quantity  int32
}

// CreateOrderInput — запрос на создание заказа. Пустой Items означает «взять корзину пользователя».
type CreateOrderInput struct {
	UserID          string
	Items           []ItemInput
	ShippingAddress domain.Address
	BillingAddress  *domain.Address
	ShippingMethod  string
	CouponCode      string
	Notes           string
}

// PreviewInput — запрос на предварительный расчёт цены.
type PreviewInput struct {
	UserID         string
	Items          []ItemInput
	CouponCode     string
	ShippingMethod string
}

// quote — всё, что посчитано до начала саги.
type quote struct {
	items     []ItemInput
	fromCart  bool
	products  map[string]domain.Product
	coupon    *domain.Coupon
	breakdown pricing.Breakdown
}

// CreateOrder проверяет запрос, считает цену и атомарно создаёт заказ:
// заказ и позиции сохраняются, сток и слот купона резервируются.
// При сбое любого шага выполненные шаги откатываются в обратном порядке.
func (e *Engine) CreateOrder(ctx context.Context, actor domain.Actor, in CreateOrderInput) (order domain.Order, err error) {
	ctx, finish := e.observe(ctx, "create_order", attribute.String("user_id", in.UserID))
	defer finish(&err)

	if err := requireActor(actor); err != nil {
		return domain.Order{}, err
	}
	if strings.TrimSpace(in.UserID) == "" {
		return domain.Order{}, domain.Invalid("user_id", "is required")
	}
	if !actor.CanActFor(in.UserID) {
		return domain.Order{}, domain.ErrForbidden
	}
	if errs := in.ShippingAddress.Validate("shipping_address"); len(errs) > 0 {
		return domain.Order{}, errors.Join(errs...)
	}
	billing := in.ShippingAddress
	if in.BillingAddress != nil && !in.BillingAddress.IsZero() {
		if errs := in.BillingAddress.Validate("billing_address"); len(errs) > 0 {
			return domain.Order{}, errors.Join(errs...)
		}
		billing = *in.BillingAddress
	}

	q, err := e.quote(ctx, in.UserID, in.Items, in.CouponCode, in.ShippingMethod)
	if err != nil {
		e.recordCreationFailure("validation", err)
		return domain.Order{}, err
	}
	reqs := requirements(q.items)
	if err := inventory.Check(q.products, reqs); err != nil {
		e.recordCreationFailure("validation", err)
		return domain.Order{}, err
	}

	now := e.now()
	order = domain.Order{
		ID:              uuid.NewString(),
		UserID:          in.UserID,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.OrderPaymentPending,
		SubtotalMinor:   q.breakdown.SubtotalMinor,
		DiscountMinor:   q.breakdown.DiscountMinor,
		TaxMinor:        q.breakdown.TaxMinor,
		ShippingMinor:   q.breakdown.ShippingMinor,
		TotalMinor:      q.breakdown.TotalMinor,
		ShippingMethod:  in.ShippingMethod,
		ShippingAddress: in.ShippingAddress,
		BillingAddress:  billing,
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if q.coupon != nil {
		couponID := q.coupon.ID
		order.CouponID = &couponID
		order.CouponCode = q.coupon.Code
	}
	order.Items = make([]domain.OrderItem, 0, len(q.items))
	for _, item := range q.items {
		product := q.products[item.ProductID]
		order.Items = append(order.Items, domain.OrderItem{
			ID:              uuid.NewString(),
			OrderID:         order.ID,
			ProductID:       product.ID,
			ProductName:     product.Name,
			ProductSKU:      product.SKU,
			Quantity:        item.Quantity,
			UnitPriceMinor:  product.PriceMinor,
			TotalPriceMinor: int64(item.Quantity) * product.PriceMinor,
			CreatedAt:       now,
		})
	}

	logger := e.log(ctx).WithFields(log.Fields{"order_id": order.ID, "user_id": order.UserID})
	s := New("create_order", logger, e.metrics)
	s.Add(Step{
		Name:  domain.SagaStepPersistOrder,
		Phase: PhaseCreation,
		Do: func(ctx context.Context) error {
			return e.persistOrder(ctx, &order)
		},
		Compensate: func(ctx context.Context) error {
			return e.orders.Delete(ctx, order.ID)
		},
	})
	s.Add(Step{
		Name:  domain.SagaStepPersistItems,
		Phase: PhaseCreation,
		Do: func(ctx context.Context) error {
			return e.orders.CreateItems(ctx, order.ID, order.Items)
		},
	})
	for _, req := range reqs {
		req := req
		s.Add(Step{
			Name:    domain.SagaStepReserveStock,
			Subject: req.ProductID,
			Phase:   PhaseReservation,
			Do: func(ctx context.Context) error {
				return e.inventory.Reserve(ctx, req.ProductID, req.Quantity)
			},
			Compensate: func(ctx context.Context) error {
				return e.inventory.Release(ctx, req.ProductID, req.Quantity)
			},
		})
	}
	if q.coupon != nil {
		couponID := q.coupon.ID
		s.Add(Step{
			Name:    domain.SagaStepIncrementCoupon,
			Subject: couponID,
			Phase:   PhaseReservation,
			Do: func(ctx context.Context) error {
				return e.coupons.IncrementUsage(ctx, couponID)
			},
			Compensate: func(ctx context.Context) error {
				return e.coupons.DecrementUsage(ctx, couponID)
			},
		})
	}

	if err := s.Run(ctx); err != nil {
		phase := string(PhaseOf(err))
		e.recordCreationFailure(phase, err)
		var compErr *CompensationError
		if errors.As(err, &compErr) {
			e.emitEvent(ctx, actor, "order", order.ID, order.ID, domain.EventCompensationFailed, err.Error(), map[string]any{
				"order_id": order.ID,
				"user_id":  order.UserID,
				"phase":    phase,
			})
		}
		logger.WithError(err).WithField("phase", phase).Warn("order creation failed")
		return domain.Order{}, err
	}

	if q.fromCart && e.carts != nil {
		if err := e.carts.Clear(context.WithoutCancel(ctx), order.UserID); err != nil {
			logger.WithError(err).Warn("failed to clear cart after order creation")
		}
	}

	if e.metrics != nil {
		e.metrics.RecordOrderCreated()
	}
	e.emitEvent(ctx, actor, "order", order.ID, order.ID, domain.EventOrderCreated, "", map[string]any{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"user_id":      order.UserID,
		"total_minor":  order.TotalMinor,
		"items":        len(order.Items),
	})
	logger.WithFields(log.Fields{
		"order_number": order.OrderNumber,
		"total_minor":  order.TotalMinor,
	}).Info("order created")

	return order, nil
}

// PreviewPrice считает цену так же, как CreateOrder, но без резервов и без расхода купона.
func (e *Engine) PreviewPrice(ctx context.Context, actor domain.Actor, in PreviewInput) (b pricing.Breakdown, err error) {
	ctx, finish := e.observe(ctx, "preview_price")
	defer finish(&err)

	if err := requireActor(actor); err != nil {
		return pricing.Breakdown{}, err
	}
	if len(in.Items) == 0 {
		if in.UserID == "" {
			return pricing.Breakdown{}, domain.ErrEmptyCart
		}
		if !actor.CanActFor(in.UserID) {
			return pricing.Breakdown{}, domain.ErrForbidden
		}
	}
	q, err := e.quote(ctx, in.UserID, in.Items, in.CouponCode, in.ShippingMethod)
	if err != nil {
		return pricing.Breakdown{}, err
	}
	return q.breakdown, nil
}

// quote выполняет чистую часть создания заказа: позиции, товары, купон и цену.
func (e *Engine) quote(ctx context.Context, userID string, items []ItemInput, couponCode, shippingMethod string) (quote, error) {
	q := quote{items: items}
	if len(q.items) == 0 && e.carts != nil && userID != "" {
		cart, err := e.carts.Items(ctx, userID)
		if err != nil {
			return quote{}, fmt.Errorf("load cart: %w", err)
		}
		for _, item := range cart {
			q.items = append(q.items, ItemInput{ProductID: item.ProductID, Quantity: item.Quantity})
		}
		q.fromCart = true
	}
	if len(q.items) == 0 {
		return quote{}, domain.ErrEmptyCart
	}

	ids := make([]string, 0, len(q.items))
	for i, item := range q.items {
		if strings.TrimSpace(item.ProductID) == "" {
			return quote{}, domain.Invalid(fmt.Sprintf("items[%d].product_id", i), "is required")
		}
		if item.Quantity < 1 {
			return quote{}, domain.Invalid(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		}
		ids = append(ids, item.ProductID)
	}

	products, err := e.products.GetMany(ctx, ids)
	if err != nil {
		return quote{}, fmt.Errorf("load products: %w", err)
	}
	q.products = products

	lines := make([]pricing.Line, 0, len(q.items))
	for _, item := range q.items {
		product, ok := products[item.ProductID]
		if !ok {
			return quote{}, fmt.Errorf("product %s: %w", item.ProductID, domain.ErrProductUnavailable)
		}
		lines = append(lines, pricing.Line{Product: &product, Quantity: item.Quantity})
	}

	base, err := pricing.Compute(lines, nil, pricing.Charges{})
	if err != nil {
		return quote{}, err
	}

	var discount int64
	if strings.TrimSpace(couponCode) != "" {
		var cq coupon.Quote
		cq, err = e.coupons.ValidateAndPrice(ctx, couponCode, base.SubtotalMinor)
		if err != nil {
			return quote{}, err
		}
		q.coupon = &cq.Coupon
		discount = cq.DiscountMinor
	}

	charges := e.charges.Charges(shippingMethod, base.SubtotalMinor, discount)
	q.breakdown, err = pricing.Compute(lines, q.coupon, charges)
	if err != nil {
		return quote{}, err
	}
	return q, nil
}

// persistOrder сохраняет заказ, подбирая новый номер при коллизии.
func (e *Engine) persistOrder(ctx context.Context, order *domain.Order) error {
	stored := order.Clone()
	stored.Items = nil
	var err error
	for attempt := 0; attempt < e.numberAttempts; attempt++ {
		stored.OrderNumber = e.orderNumber(order.CreatedAt)
		err = e.orders.Create(ctx, stored)
		if err == nil {
			order.OrderNumber = stored.OrderNumber
			return nil
		}
		if !errors.Is(err, domain.ErrOrderNumberConflict) {
			return err
		}
		e.log(ctx).WithField("order_number", stored.OrderNumber).Debug("order number collision, regenerating")
	}
	return fmt.Errorf("order number: %d attempts exhausted: %w", e.numberAttempts, err)
}

func (e *Engine) recordCreationFailure(phase string, err error) {
	if e.metrics != nil {
		e.metrics.RecordOrderCreationFailed(phase, string(domain.KindOf(err)))
	}
}

func requirements(items []ItemInput) []inventory.Requirement {
	// Одинаковые товары объединяются, чтобы резерв был одним условным списанием.
	index := make(map[string]int, len(items))
	reqs := make([]inventory.Requirement, 0, len(items))
	for _, item := range items {
		if i, ok := index[item.ProductID]; ok {
			reqs[i].Quantity += int64(item.Quantity)
			continue
		}
		index[item.ProductID] = len(reqs)
		reqs = append(reqs, inventory.Requirement{ProductID: item.ProductID, Quantity: int64(item.Quantity)})
	}
	return reqs
}
