// Package httpapi публикует движок заказов как JSON API на chi.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/service/dto"
	"github.com/vladislavdragonenkov/orderengine/internal/service/idempotency"
	"github.com/vladislavdragonenkov/orderengine/internal/service/saga"
	"github.com/vladislavdragonenkov/orderengine/internal/tracing"
)

// Заголовки запроса.
const (
	HeaderActorID        = "X-Actor-ID"
	HeaderActorRole      = "X-Actor-Role"
	HeaderIdempotencyKey = "Idempotency-Key"

	maxBodyBytes   = 1 << 20
	requestTimeout = 30 * time.Second
)

// Области ключей идемпотентности, общие с gRPC.
const (
	scopeCreateOrder   = "create_order"
	scopeCreatePayment = "create_payment"
	scopeRefundOrder   = "refund_order"
)

// Handler обслуживает /v1 API.
type Handler struct {
	engine saga.Service
	guard  *idempotency.Guard
	logger *log.Entry
}

// NewHandler создаёт обработчик. guard == nil отключает кэш идемпотентности.
func NewHandler(engine saga.Service, guard *idempotency.Guard, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.New().WithField("component", "http")
	}
	return &Handler{engine: engine, guard: guard, logger: logger}
}

// Routes собирает роутер со всеми маршрутами и middleware.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogging)
	r.Use(h.recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.createOrder)
			r.Get("/", h.listOrders)
			r.Post("/preview", h.previewPrice)
			r.Route("/{orderID}", func(r chi.Router) {
				r.Get("/", h.getOrder)
				r.Get("/timeline", h.timeline)
				r.Post("/status", h.updateStatus)
				r.Get("/payments", h.listPayments)
				r.Post("/payments", h.createPayment)
				r.Post("/refunds", h.refundOrder)
			})
		})
		r.Post("/payments/{paymentID}/status", h.processPayment)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeProblem(w, http.StatusNotFound, domain.KindNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeProblem(w, http.StatusMethodNotAllowed, domain.KindValidation, "method not allowed")
	})
	return r
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req dto.CreateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.UserID == "" && actor.Role == domain.RoleCustomer {
		req.UserID = actor.ID
	}

	resp, err := idempotency.Do(ctx, h.guard, r.Header.Get(HeaderIdempotencyKey), scopeCreateOrder, req,
		func(ctx context.Context) (dto.Order, error) {
			order, err := h.engine.CreateOrder(ctx, actor, req.Input())
			if err != nil {
				return dto.Order{}, err
			}
			return dto.FromOrder(order), nil
		})
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) previewPrice(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req dto.PreviewRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.UserID == "" && actor.Role == domain.RoleCustomer {
		req.UserID = actor.ID
	}

	breakdown, err := h.engine.PreviewPrice(r.Context(), actor, req.Input())
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromBreakdown(breakdown))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	req := dto.ListOrdersRequest{
		UserID:        query.Get("user_id"),
		Status:        query.Get("status"),
		PaymentStatus: query.Get("payment_status"),
	}
	var err error
	if req.Limit, err = intParam(query.Get("limit")); err != nil {
		writeProblem(w, http.StatusBadRequest, domain.KindValidation, "limit must be an integer")
		return
	}
	if req.Offset, err = intParam(query.Get("offset")); err != nil {
		writeProblem(w, http.StatusBadRequest, domain.KindValidation, "offset must be an integer")
		return
	}

	orders, err := h.engine.ListOrders(r.Context(), actor, req.Filter())
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ListOrdersResponse{Orders: dto.FromOrders(orders)})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	order, err := h.engine.GetOrder(r.Context(), actor, chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromOrder(order))
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	orderID := chi.URLParam(r, "orderID")
	events, err := h.engine.Timeline(r.Context(), actor, orderID)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.TimelineResponse{OrderID: orderID, Events: dto.FromTimeline(events)})
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req dto.UpdateStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.OrderID = chi.URLParam(r, "orderID")

	res, err := h.engine.UpdateOrderStatus(r.Context(), actor, req.Input())
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromStatusUpdate(res))
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	payments, err := h.engine.ListPayments(r.Context(), actor, chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	out := make([]dto.Payment, 0, len(payments))
	for _, p := range payments {
		out = append(out, dto.FromPayment(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": out})
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req dto.CreatePaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.OrderID = chi.URLParam(r, "orderID")

	resp, err := idempotency.Do(ctx, h.guard, r.Header.Get(HeaderIdempotencyKey), scopeCreatePayment, req,
		func(ctx context.Context) (dto.Payment, error) {
			payment, err := h.engine.CreatePayment(ctx, actor, req.Input())
			if err != nil {
				return dto.Payment{}, err
			}
			return dto.FromPayment(payment), nil
		})
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) processPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req dto.ProcessPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.PaymentID = chi.URLParam(r, "paymentID")

	res, err := h.engine.ProcessPayment(r.Context(), actor, req.Input())
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromPaymentResult(res))
}

func (h *Handler) refundOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req dto.RefundRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.OrderID = chi.URLParam(r, "orderID")

	resp, err := idempotency.Do(ctx, h.guard, r.Header.Get(HeaderIdempotencyKey), scopeRefundOrder, req,
		func(ctx context.Context) (dto.RefundResponse, error) {
			res, err := h.engine.RefundOrder(ctx, actor, req.Input())
			if err != nil {
				return dto.RefundResponse{}, err
			}
			return dto.FromRefundResult(res), nil
		})
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// actor читает X-Actor-ID / X-Actor-Role. При ошибке ответ уже записан.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	role := domain.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderActorRole))))
	if role == "" {
		writeProblem(w, http.StatusUnauthorized, domain.KindForbidden, HeaderActorRole+" header is required")
		return domain.Actor{}, false
	}
	actor := domain.Actor{ID: strings.TrimSpace(r.Header.Get(HeaderActorID)), Role: role}
	if !actor.Valid() {
		writeProblem(w, http.StatusBadRequest, domain.KindValidation, fmt.Sprintf("unknown actor role %q", role))
		return domain.Actor{}, false
	}
	if actor.Role == domain.RoleCustomer && actor.ID == "" {
		writeProblem(w, http.StatusUnauthorized, domain.KindForbidden, HeaderActorID+" header is required for customers")
		return domain.Actor{}, false
	}
	return actor, true
}

// decode читает JSON-тело; неизвестные поля и лишние данные отклоняются.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			writeProblem(w, http.StatusRequestEntityTooLarge, domain.KindValidation, "request body is too large")
		case errors.Is(err, io.EOF):
			writeProblem(w, http.StatusBadRequest, domain.KindValidation, "request body is required")
		default:
			writeProblem(w, http.StatusBadRequest, domain.KindValidation, "malformed request body: "+err.Error())
		}
		return false
	}
	if dec.More() {
		writeProblem(w, http.StatusBadRequest, domain.KindValidation, "request body must contain a single JSON object")
		return false
	}
	return true
}

func intParam(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

type loggerKey struct{}

func (h *Handler) requestLogger(ctx context.Context) *log.Entry {
	if entry, ok := ctx.Value(loggerKey{}).(*log.Entry); ok {
		return entry
	}
	return h.logger
}

// requestLogging пишет в лог маршрут, статус и длительность запроса.
func (h *Handler) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		entry := h.logger.WithFields(log.Fields{
			"request_id": middleware.GetReqID(ctx),
			"method":     r.Method,
			"path":       r.URL.Path,
		})
		if traceID := tracing.TraceID(ctx); traceID != "" {
			entry = entry.WithField("trace_id", traceID)
		}
		r = r.WithContext(context.WithValue(ctx, loggerKey{}, entry))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		fields := log.Fields{
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			fields["route"] = rctx.RoutePattern()
		}
		if ww.Status() >= http.StatusInternalServerError {
			entry.WithFields(fields).Warn("http request finished with error")
			return
		}
		entry.WithFields(fields).Debug("http request finished")
	})
}

// recoverer превращает панику обработчика в 500 с телом ошибки.
func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				h.requestLogger(r.Context()).WithField("panic", rec).Error("http handler panicked")
				writeProblem(w, http.StatusInternalServerError, domain.KindInternal, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
