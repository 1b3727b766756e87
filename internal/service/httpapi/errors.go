package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/service/dto"
)

// StatusFor возвращает HTTP-статус для доменного кода ошибки.
func StatusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation, domain.KindEmptyCart:
		return http.StatusBadRequest
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindIllegalTransition, domain.KindConcurrentModification, domain.KindConflict:
		return http.StatusConflict
	case domain.KindProductUnavailable, domain.KindInsufficientStock,
		domain.KindCouponInvalid, domain.KindCouponExpired, domain.KindCouponNotYetActive,
		domain.KindCouponExhausted, domain.KindMinimumAmountNotMet,
		domain.KindPaymentNotCompleted, domain.KindRefundExceedsOrderTotal, domain.KindRefundExceedsRemaining:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// StatusCodeOf — код ответа для результата операции; используется кэшем идемпотентности.
func StatusCodeOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return StatusFor(domain.KindOf(err))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := StatusCodeOf(err)
	switch {
	case errors.Is(err, context.Canceled):
		// клиент ушёл, ответ никто не прочитает
		return
	case status >= http.StatusInternalServerError:
		h.requestLogger(ctx).WithError(err).Error("http request failed")
	default:
		h.requestLogger(ctx).WithError(err).Debug("http request rejected")
	}
	writeJSON(w, status, dto.NewError(err))
}

func writeProblem(w http.ResponseWriter, status int, kind domain.Kind, message string) {
	writeJSON(w, status, dto.ErrorResponse{Error: dto.ErrorDetail{Kind: kind, Message: message}})
}
