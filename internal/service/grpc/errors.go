package grpcsvc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

// Ключи метаданных запроса.
const (
	ActorIDHeader        = "x-actor-id"
	ActorRoleHeader      = "x-actor-role"
	IdempotencyKeyHeader = "idempotency-key"

	errorDomain = "orderengine"
	phaseKey    = "phase"
)

// CodeOf возвращает gRPC-код для доменного кода ошибки.
func CodeOf(kind domain.Kind) codes.Code {
	switch kind {
	case domain.KindValidation, domain.KindEmptyCart:
		return codes.InvalidArgument
	case domain.KindNotFound:
		return codes.NotFound
	case domain.KindForbidden:
		return codes.PermissionDenied
	case domain.KindProductUnavailable, domain.KindInsufficientStock,
		domain.KindCouponInvalid, domain.KindCouponExpired, domain.KindCouponNotYetActive,
		domain.KindCouponExhausted, domain.KindMinimumAmountNotMet,
		domain.KindIllegalTransition, domain.KindPaymentNotCompleted,
		domain.KindRefundExceedsOrderTotal, domain.KindRefundExceedsRemaining:
		return codes.FailedPrecondition
	case domain.KindConcurrentModification:
		return codes.Aborted
	case domain.KindConflict:
		return codes.AlreadyExists
	default:
		return codes.Internal
	}
}

// toStatus переводит ошибку движка в gRPC status. Код ошибки попадает в начало
// сообщения и в ErrorInfo.Reason.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	kind := domain.KindOf(err)
	message := err.Error()
	if kind == domain.KindInternal {
		message = "internal error"
	}
	st := status.New(CodeOf(kind), fmt.Sprintf("%s: %s", kind, message))
	info := &errdetails.ErrorInfo{Reason: string(kind), Domain: errorDomain}
	if phase := domain.PhaseOf(err); phase != "" {
		info.Metadata = map[string]string{phaseKey: phase}
	}
	if detailed, detailErr := st.WithDetails(info); detailErr == nil {
		st = detailed
	}
	return st.Err()
}

// KindFromStatus достаёт доменный код из ошибки, полученной клиентом.
func KindFromStatus(err error) domain.Kind {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok && info.GetDomain() == errorDomain {
			return domain.Kind(info.GetReason())
		}
	}
	return ""
}

// PhaseFromStatus достаёт фазу упавшей саги из ErrorInfo.Metadata.
func PhaseFromStatus(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok && info.GetDomain() == errorDomain {
			return info.GetMetadata()[phaseKey]
		}
	}
	return ""
}

func firstValue(md metadata.MD, key string) string {
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

// actorFromContext читает актора из x-actor-id / x-actor-role.
func actorFromContext(ctx context.Context) (domain.Actor, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	role := domain.Role(strings.ToLower(firstValue(md, ActorRoleHeader)))
	if role == "" {
		return domain.Actor{}, status.Error(codes.Unauthenticated, ActorRoleHeader+" metadata is required")
	}
	actor := domain.Actor{ID: firstValue(md, ActorIDHeader), Role: role}
	if !actor.Valid() {
		return domain.Actor{}, status.Errorf(codes.InvalidArgument, "unknown actor role %q", role)
	}
	if actor.Role == domain.RoleCustomer && actor.ID == "" {
		return domain.Actor{}, status.Error(codes.Unauthenticated, ActorIDHeader+" metadata is required for customers")
	}
	return actor, nil
}

func idempotencyKey(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	return firstValue(md, IdempotencyKeyHeader)
}
