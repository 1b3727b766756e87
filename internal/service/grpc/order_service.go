// Package grpcsvc публикует движок заказов как gRPC-сервис oms.v1.OrderLifecycleService.
package grpcsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/service/dto"
	"github.com/vladislavdragonenkov/orderengine/internal/service/idempotency"
	"github.com/vladislavdragonenkov/orderengine/internal/service/saga"
)

// Области ключей идемпотентности; совпадают с HTTP API, поэтому ключ, использованный
// в одном транспорте, повторяет ответ и в другом.
const (
	scopeCreateOrder   = "create_order"
	scopeCreatePayment = "create_payment"
	scopeRefundOrder   = "refund_order"
)

// OrderService реализует OrderLifecycleServer поверх saga.Service.
type OrderService struct {
	engine saga.Service
	guard  *idempotency.Guard
	logger *log.Entry
}

var _ OrderLifecycleServer = (*OrderService)(nil)

// NewOrderService конструирует сервис. guard == nil отключает кэш идемпотентности.
func NewOrderService(engine saga.Service, guard *idempotency.Guard, logger *log.Entry) *OrderService {
	if logger == nil {
		logger = log.New().WithField("component", "grpc")
	}
	return &OrderService{engine: engine, guard: guard, logger: logger}
}

// CreateOrder создаёт заказ. Требует idempotency-key.
func (s *OrderService) CreateOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var req dto.CreateOrderRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.UserID == "" && actor.Role == domain.RoleCustomer {
		req.UserID = actor.ID
	}

	resp, err := idempotency.Do(ctx, s.guard, idempotencyKey(ctx), scopeCreateOrder, req,
		func(ctx context.Context) (dto.Order, error) {
			order, err := s.engine.CreateOrder(ctx, actor, req.Input())
			if err != nil {
				return dto.Order{}, err
			}
			return dto.FromOrder(order), nil
		})
	return s.reply(ctx, MethodCreateOrder, resp, err)
}

// PreviewPrice считает цену без резервов.
func (s *OrderService) PreviewPrice(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var req dto.PreviewRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.UserID == "" && actor.Role == domain.RoleCustomer {
		req.UserID = actor.ID
	}

	breakdown, err := s.engine.PreviewPrice(ctx, actor, req.Input())
	return s.reply(ctx, MethodPreviewPrice, dto.FromBreakdown(breakdown), err)
}

// GetOrder возвращает заказ и, по запросу, его историю.
func (s *OrderService) GetOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var req dto.GetOrderRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}

	order, err := s.engine.GetOrder(ctx, actor, req.OrderID)
	if err != nil {
		return s.reply(ctx, MethodGetOrder, nil, err)
	}
	resp := dto.FromOrder(order)
	if req.IncludeTimeline {
		events, err := s.engine.Timeline(ctx, actor, order.ID)
		if err != nil {
			return s.reply(ctx, MethodGetOrder, nil, err)
		}
		resp.Timeline = dto.FromTimeline(events)
	}
	return s.reply(ctx, MethodGetOrder, resp, nil)
}

// ListOrders возвращает заказы по фильтру. Покупатель видит только свои.
func (s *OrderService) ListOrders(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var req dto.ListOrdersRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}

	orders, err := s.engine.ListOrders(ctx, actor, req.Filter())
	return s.reply(ctx, MethodListOrders, dto.ListOrdersResponse{Orders: dto.FromOrders(orders)}, err)
}

// UpdateOrderStatus переводит заказ в новый статус.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var req dto.UpdateStatusRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}

	res, err := s.engine.UpdateOrderStatus(ctx, actor, req.Input())
	return s.reply(ctx, MethodUpdateOrderStatus, dto.FromStatusUpdate(res), err)
}

// CreatePayment создаёт попытку оплаты. Требует idempotency-key.
func (s *OrderService) CreatePayment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var req dto.CreatePaymentRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}

	resp, err := idempotency.Do(ctx, s.guard, idempotencyKey(ctx), scopeCreatePayment, req,
		func(ctx context.Context) (dto.Payment, error) {
			payment, err := s.engine.CreatePayment(ctx, actor, req.Input())
			if err != nil {
				return dto.Payment{}, err
			}
			return dto.FromPayment(payment), nil
		})
	return s.reply(ctx, MethodCreatePayment, resp, err)
}

// ProcessPayment применяет новый статус платежа.
func (s *OrderService) ProcessPayment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var req dto.ProcessPaymentRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}

	res, err := s.engine.ProcessPayment(ctx, actor, req.Input())
	return s.reply(ctx, MethodProcessPayment, dto.FromPaymentResult(res), err)
}

// RefundOrder оформляет возврат. Требует idempotency-key.
func (s *OrderService) RefundOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var req dto.RefundRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}

	resp, err := idempotency.Do(ctx, s.guard, idempotencyKey(ctx), scopeRefundOrder, req,
		func(ctx context.Context) (dto.RefundResponse, error) {
			res, err := s.engine.RefundOrder(ctx, actor, req.Input())
			if err != nil {
				return dto.RefundResponse{}, err
			}
			return dto.FromRefundResult(res), nil
		})
	return s.reply(ctx, MethodRefundOrder, resp, err)
}

func (s *OrderService) reply(ctx context.Context, method string, resp any, err error) (*structpb.Struct, error) {
	if err != nil {
		kind := domain.KindOf(err)
		entry := s.logger.WithError(err).WithFields(log.Fields{"method": method, "kind": kind})
		if CodeOf(kind) == codes.Internal && ctx.Err() == nil {
			entry.Error("grpc request failed")
		} else {
			entry.Debug("grpc request rejected")
		}
		return nil, toStatus(err)
	}
	out, encErr := encode(resp)
	if encErr != nil {
		s.logger.WithError(encErr).WithField("method", method).Error("failed to encode grpc response")
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

// decode переносит поля Struct в DTO через JSON. Неизвестные поля отклоняются.
func decode(in *structpb.Struct, out any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return status.Errorf(codes.InvalidArgument, "%s: malformed request: %v", domain.KindValidation, err)
	}
	return nil
}

func encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("convert response: %w", err)
	}
	return out, nil
}
