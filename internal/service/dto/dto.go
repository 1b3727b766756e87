// Package dto описывает JSON-представление запросов и ответов движка. Его используют
// HTTP API, gRPC (через google.protobuf.Struct) и кэш идемпотентности.
package dto

import (
	"strings"
	"time"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/pricing"
	"github.com/vladislavdragonenkov/orderengine/internal/service/saga"
)

// ItemRequest — позиция в запросе на создание заказа или расчёт цены.
type ItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

// CreateOrderRequest — тело CreateOrder. Пустой items означает заказ из корзины.
type CreateOrderRequest struct {
	UserID          string          `json:"user_id"`
	Items           []ItemRequest   `json:"items,omitempty"`
	ShippingAddress domain.Address  `json:"shipping_address"`
	BillingAddress  *domain.Address `json:"billing_address,omitempty"`
	ShippingMethod  string          `json:"shipping_method"`
	CouponCode      string          `json:"coupon_code,omitempty"`
	Notes           string          `json:"notes,omitempty"`
}

// Input переводит запрос во вход движка.
func (r CreateOrderRequest) Input() saga.CreateOrderInput {
	return saga.CreateOrderInput{
		UserID:          strings.TrimSpace(r.UserID),
		Items:           itemInputs(r.Items),
		ShippingAddress: r.ShippingAddress,
		BillingAddress:  r.BillingAddress,
		ShippingMethod:  strings.TrimSpace(r.ShippingMethod),
		CouponCode:      strings.TrimSpace(r.CouponCode),
		Notes:           r.Notes,
	}
}

// PreviewRequest — тело PreviewPrice.
type PreviewRequest struct {
	UserID         string        `json:"user_id"`
	Items          []ItemRequest `json:"items,omitempty"`
	CouponCode     string        `json:"coupon_code,omitempty"`
	ShippingMethod string        `json:"shipping_method"`
}

// Input переводит запрос во вход движка.
func (r PreviewRequest) Input() saga.PreviewInput {
	return saga.PreviewInput{
		UserID:         strings.TrimSpace(r.UserID),
		Items:          itemInputs(r.Items),
		CouponCode:     strings.TrimSpace(r.CouponCode),
		ShippingMethod: strings.TrimSpace(r.ShippingMethod),
	}
}

// GetOrderRequest — тело GetOrder.
type GetOrderRequest struct {
	OrderID         string `json:"order_id"`
	IncludeTimeline bool   `json:"include_timeline,omitempty"`
}

// ListOrdersRequest — фильтр ListOrders.
type ListOrdersRequest struct {
	UserID        string `json:"user_id,omitempty"`
	Status        string `json:"status,omitempty"`
	PaymentStatus string `json:"payment_status,omitempty"`
	Limit         int    `json:"limit,omitempty"`
	Offset        int    `json:"offset,omitempty"`
}

// Filter переводит запрос в фильтр репозитория.
func (r ListOrdersRequest) Filter() domain.OrderFilter {
	return domain.OrderFilter{
		UserID:        strings.TrimSpace(r.UserID),
		Status:        domain.OrderStatus(strings.ToLower(strings.TrimSpace(r.Status))),
		PaymentStatus: domain.OrderPaymentStatus(strings.ToLower(strings.TrimSpace(r.PaymentStatus))),
		Limit:         r.Limit,
		Offset:        r.Offset,
	}
}

// UpdateStatusRequest — тело UpdateOrderStatus.
type UpdateStatusRequest struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

// Input переводит запрос во вход движка.
func (r UpdateStatusRequest) Input() saga.UpdateStatusInput {
	return saga.UpdateStatusInput{
		OrderID:        r.OrderID,
		Status:         domain.OrderStatus(strings.ToLower(strings.TrimSpace(r.Status))),
		TrackingNumber: strings.TrimSpace(r.TrackingNumber),
		Notes:          r.Notes,
	}
}

// CreatePaymentRequest — тело CreatePayment.
type CreatePaymentRequest struct {
	OrderID       string `json:"order_id"`
	Method        string `json:"payment_method"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// Input переводит запрос во вход движка.
func (r CreatePaymentRequest) Input() saga.CreatePaymentInput {
	return saga.CreatePaymentInput{
		OrderID:       r.OrderID,
		Method:        domain.PaymentMethod(strings.TrimSpace(r.Method)),
		TransactionID: strings.TrimSpace(r.TransactionID),
	}
}

// ProcessPaymentRequest — тело ProcessPayment.
type ProcessPaymentRequest struct {
	PaymentID       string            `json:"payment_id"`
	Status          string            `json:"status"`
	TransactionID   string            `json:"transaction_id,omitempty"`
	GatewayResponse map[string]string `json:"gateway_response,omitempty"`
	FailureReason   string            `json:"failure_reason,omitempty"`
}

// Input переводит запрос во вход движка.
func (r ProcessPaymentRequest) Input() saga.ProcessPaymentInput {
	return saga.ProcessPaymentInput{
		PaymentID:       r.PaymentID,
		Status:          domain.PaymentStatus(strings.ToLower(strings.TrimSpace(r.Status))),
		TransactionID:   strings.TrimSpace(r.TransactionID),
		GatewayResponse: r.GatewayResponse,
		FailureReason:   r.FailureReason,
	}
}

// RefundRequest — тело RefundOrder.
type RefundRequest struct {
	OrderID     string `json:"order_id"`
	AmountMinor int64  `json:"amount_minor"`
	Reason      string `json:"reason"`
	Method      string `json:"payment_method"`
}

// Input переводит запрос во вход движка.
func (r RefundRequest) Input() saga.RefundInput {
	return saga.RefundInput{
		OrderID:     r.OrderID,
		AmountMinor: r.AmountMinor,
		Reason:      r.Reason,
		Method:      domain.PaymentMethod(strings.TrimSpace(r.Method)),
	}
}

// Price — расчёт цены в минорных единицах.
type Price struct {
	SubtotalMinor int64 `json:"subtotal_minor"`
	DiscountMinor int64 `json:"discount_minor"`
	TaxMinor      int64 `json:"tax_minor"`
	ShippingMinor int64 `json:"shipping_minor"`
	TotalMinor    int64 `json:"total_minor"`
}

// FromBreakdown переводит расчёт pricing в ответ.
func FromBreakdown(b pricing.Breakdown) Price {
	return Price{
		SubtotalMinor: b.SubtotalMinor,
		DiscountMinor: b.DiscountMinor,
		TaxMinor:      b.TaxMinor,
		ShippingMinor: b.ShippingMinor,
		TotalMinor:    b.TotalMinor,
	}
}

// OrderItem — позиция заказа в ответе.
type OrderItem struct {
	ID              string `json:"id"`
	ProductID       string `json:"product_id"`
	ProductName     string `json:"product_name"`
	ProductSKU      string `json:"product_sku"`
	Quantity        int32  `json:"quantity"`
	UnitPriceMinor  int64  `json:"unit_price_minor"`
	TotalPriceMinor int64  `json:"total_price_minor"`
}

// Order — заказ в ответе.
type Order struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"order_number"`
	UserID          string          `json:"user_id"`
	Status          string          `json:"status"`
	PaymentStatus   string          `json:"payment_status"`
	Price           Price           `json:"price"`
	CouponCode      string          `json:"coupon_code,omitempty"`
	ShippingMethod  string          `json:"shipping_method"`
	ShippingAddress domain.Address  `json:"shipping_address"`
	BillingAddress  domain.Address  `json:"billing_address"`
	TrackingNumber  string          `json:"tracking_number,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	Items           []OrderItem     `json:"items"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ShippedAt       *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time      `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
	RefundedAt      *time.Time      `json:"refunded_at,omitempty"`
	Timeline        []TimelineEvent `json:"timeline,omitempty"`
}

// FromOrder переводит доменный заказ в ответ.
func FromOrder(o domain.Order) Order {
	items := make([]OrderItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderItem{
			ID:              item.ID,
			ProductID:       item.ProductID,
			ProductName:     item.ProductName,
			ProductSKU:      item.ProductSKU,
			Quantity:        item.Quantity,
			UnitPriceMinor:  item.UnitPriceMinor,
			TotalPriceMinor: item.TotalPriceMinor,
		})
	}
	return Order{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		Price: Price{
			SubtotalMinor: o.SubtotalMinor,
			DiscountMinor: o.DiscountMinor,
			TaxMinor:      o.TaxMinor,
			ShippingMinor: o.ShippingMinor,
			TotalMinor:    o.TotalMinor,
		},
		CouponCode:      o.CouponCode,
		ShippingMethod:  o.ShippingMethod,
		ShippingAddress: o.ShippingAddress,
		BillingAddress:  o.BillingAddress,
		TrackingNumber:  o.TrackingNumber,
		Notes:           o.Notes,
		Items:           items,
		Version:         o.Version,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		ShippedAt:       o.ShippedAt,
		DeliveredAt:     o.DeliveredAt,
		CancelledAt:     o.CancelledAt,
		RefundedAt:      o.RefundedAt,
	}
}

// FromOrders переводит список заказов.
func FromOrders(orders []domain.Order) []Order {
	out := make([]Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, FromOrder(o))
	}
	return out
}

// Payment — платёж или возврат в ответе.
type Payment struct {
	ID              string            `json:"id"`
	OrderID         string            `json:"order_id"`
	TransactionID   string            `json:"transaction_id,omitempty"`
	Method          string            `json:"payment_method"`
	AmountMinor     int64             `json:"amount_minor"`
	Status          string            `json:"status"`
	Refund          bool              `json:"refund"`
	GatewayResponse map[string]string `json:"gateway_response,omitempty"`
	FailureReason   string            `json:"failure_reason,omitempty"`
	ProcessedAt     *time.Time        `json:"processed_at,omitempty"`
	Version         int64             `json:"version"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// FromPayment переводит доменный платёж в ответ.
func FromPayment(p domain.Payment) Payment {
	return Payment{
		ID:              p.ID,
		OrderID:         p.OrderID,
		TransactionID:   p.TransactionID,
		Method:          string(p.Method),
		AmountMinor:     p.AmountMinor,
		Status:          string(p.Status),
		Refund:          p.IsRefund(),
		GatewayResponse: p.GatewayResponse,
		FailureReason:   p.FailureReason,
		ProcessedAt:     p.ProcessedAt,
		Version:         p.Version,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

// TimelineEvent — событие в истории заказа.
type TimelineEvent struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Actor    string    `json:"actor,omitempty"`
	Occurred time.Time `json:"occurred"`
}

// FromTimeline переводит историю заказа.
func FromTimeline(events []domain.TimelineEvent) []TimelineEvent {
	out := make([]TimelineEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, TimelineEvent{Type: ev.Type, Reason: ev.Reason, Actor: ev.Actor, Occurred: ev.Occurred})
	}
	return out
}

// ListOrdersResponse — ответ ListOrders.
type ListOrdersResponse struct {
	Orders []Order `json:"orders"`
}

// TimelineResponse — ответ на запрос истории заказа.
type TimelineResponse struct {
	OrderID string          `json:"order_id"`
	Events  []TimelineEvent `json:"events"`
}

// StatusUpdateResponse — ответ UpdateOrderStatus.
type StatusUpdateResponse struct {
	Order          Order    `json:"order"`
	EffectFailures []string `json:"effect_failures,omitempty"`
}

// FromStatusUpdate переводит результат смены статуса.
func FromStatusUpdate(res saga.StatusUpdateResult) StatusUpdateResponse {
	return StatusUpdateResponse{Order: FromOrder(res.Order), EffectFailures: messages(res.EffectFailures)}
}

// PaymentResponse — ответ ProcessPayment. Order пуст, если проекция на заказ не удалась.
type PaymentResponse struct {
	Payment        Payment  `json:"payment"`
	Order          *Order   `json:"order,omitempty"`
	EffectFailures []string `json:"effect_failures,omitempty"`
}

// FromPaymentResult переводит результат обработки платежа.
func FromPaymentResult(res saga.PaymentResult) PaymentResponse {
	resp := PaymentResponse{Payment: FromPayment(res.Payment), EffectFailures: messages(res.EffectFailures)}
	if res.Order.ID != "" {
		order := FromOrder(res.Order)
		resp.Order = &order
	}
	return resp
}

// RefundResponse — ответ RefundOrder.
type RefundResponse struct {
	Refund         Payment  `json:"refund"`
	Order          Order    `json:"order"`
	RefundedMinor  int64    `json:"refunded_minor"`
	FullyRefunded  bool     `json:"fully_refunded"`
	EffectFailures []string `json:"effect_failures,omitempty"`
}

// FromRefundResult переводит результат возврата.
func FromRefundResult(res saga.RefundResult) RefundResponse {
	return RefundResponse{
		Refund:         FromPayment(res.Refund),
		Order:          FromOrder(res.Order),
		RefundedMinor:  res.RefundedMinor,
		FullyRefunded:  res.FullyRefunded,
		EffectFailures: messages(res.EffectFailures),
	}
}

// ErrorDetail — код и текст ошибки. Phase заполнен, если упала сага: creation,
// reservation или refund.
type ErrorDetail struct {
	Kind    domain.Kind `json:"kind"`
	Message string      `json:"message"`
	Phase   string      `json:"phase,omitempty"`
}

// ErrorResponse — тело ответа с ошибкой: {"error": {"kind": ..., "message": ...}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// NewError строит тело ошибки. Внутренние ошибки не раскрывают причину клиенту.
func NewError(err error) ErrorResponse {
	kind := domain.KindOf(err)
	message := err.Error()
	if kind == domain.KindInternal {
		message = "internal error"
	}
	return ErrorResponse{Error: ErrorDetail{Kind: kind, Message: message, Phase: domain.PhaseOf(err)}}
}

func itemInputs(items []ItemRequest) []saga.ItemInput {
	if len(items) == 0 {
		return nil
	}
	out := make([]saga.ItemInput, 0, len(items))
	for _, item := range items {
		out = append(out, saga.ItemInput{ProductID: strings.TrimSpace(item.ProductID), Quantity: item.Quantity})
	}
	return out
}

func messages(errs []error) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, 0, len(errs))
	for _, err := range errs {
		out = append(out, err.Error())
	}
	return out
}
