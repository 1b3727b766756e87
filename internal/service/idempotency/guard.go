// Package idempotency хранит результаты запросов по idempotency-key и удаляет просроченные ключи.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

// failurePayload — закэшированная ошибка первого запроса.
type failurePayload struct {
	Kind    domain.Kind `json:"kind"`
	Message string      `json:"message"`
	Phase   string      `json:"phase,omitempty"`
}

// ReplayedError — ошибка, восстановленная из кэша. Сохраняет доменный код,
// поэтому транспорт отдаёт повтору тот же ответ, что и первому запросу.
type ReplayedError struct {
	Kind    domain.Kind
	Message string
	Phase   string
}

func (e *ReplayedError) Error() string { return e.Message }

// FailurePhase возвращает фазу саги первого запроса.
func (e *ReplayedError) FailurePhase() string { return e.Phase }

// Unwrap возвращает базовую доменную ошибку для кода.
func (e *ReplayedError) Unwrap() error {
	if sentinel := domain.SentinelFor(e.Kind); sentinel != nil {
		return sentinel
	}
	return nil
}

// Guard выполняет обработчик не более одного раза на ключ.
type Guard struct {
	repo       domain.IdempotencyRepository
	logger     *log.Entry
	ttl        time.Duration
	now        func() time.Time
	statusCode func(error) int
}

// GuardOption настраивает Guard.
type GuardOption func(*Guard)

// WithGuardLogger задаёт logger.
func WithGuardLogger(logger *log.Entry) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithTTL задаёт срок хранения ключа.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithGuardClock подменяет источник времени.
func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithStatusCode задаёт отображение результата в код ответа транспорта (nil — успех).
func WithStatusCode(fn func(error) int) GuardOption {
	return func(g *Guard) {
		if fn != nil {
			g.statusCode = fn
		}
	}
}

// NewGuard создаёт Guard. Без репозитория обработчики выполняются без кэширования.
func NewGuard(repo domain.IdempotencyRepository, opts ...GuardOption) *Guard {
	g := &Guard{
		repo:       repo,
		logger:     log.WithField("component", "idempotency"),
		ttl:        domain.DefaultIdempotencyTTL,
		now:        func() time.Time { return time.Now().UTC() },
		statusCode: func(error) int { return 0 },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RequestHash считает отпечаток запроса; scope отделяет одинаковые тела разных операций.
func RequestHash(scope string, request any) (string, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	sum := sha256.New()
	sum.Write([]byte(scope))
	sum.Write([]byte{0})
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// Do выполняет handler под ключом key. Повтор с тем же ключом и телом получает
// сохранённый ответ или ошибку; с другим телом — ErrIdempotencyHashMismatch;
// пока первый запрос не завершён — ErrIdempotencyInProgress.
func Do[T any](ctx context.Context, g *Guard, key, scope string, request any, handler func(context.Context) (T, error)) (T, error) {
	var zero T

	if g == nil || g.repo == nil {
		return handler(ctx)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return zero, domain.Invalid("idempotency_key", "is required")
	}

	hash, err := RequestHash(scope, request)
	if err != nil {
		return zero, err
	}

	logger := g.logger.WithFields(log.Fields{"idempotency_key": key, "scope": scope})
	record, err := g.repo.CreateProcessing(ctx, key, hash, g.now().Add(g.ttl))
	if err != nil {
		return replay[T](logger, record, err)
	}

	resp, runErr := handler(ctx)
	// Результат сохраняется и при отменённом запросе клиента.
	storeCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		payload, encErr := json.Marshal(failurePayload{
			Kind:    domain.KindOf(runErr),
			Message: runErr.Error(),
			Phase:   domain.PhaseOf(runErr),
		})
		if encErr != nil {
			logger.WithError(encErr).Warn("failed to encode idempotency failure payload")
		}
		if markErr := g.repo.MarkFailed(storeCtx, key, payload, g.statusCode(runErr)); markErr != nil {
			logger.WithError(markErr).Warn("failed to store idempotency failure response")
		}
		return resp, runErr
	}

	body, encErr := json.Marshal(resp)
	if encErr != nil {
		logger.WithError(encErr).Warn("failed to encode idempotent success response")
		return resp, nil
	}
	if markErr := g.repo.MarkDone(storeCtx, key, body, g.statusCode(nil)); markErr != nil {
		logger.WithError(markErr).Warn("failed to store idempotent success response")
	}
	return resp, nil
}

func replay[T any](logger *log.Entry, record domain.IdempotencyRecord, createErr error) (T, error) {
	var zero T

	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return zero, fmt.Errorf("idempotency key is already used with different request payload: %w", domain.ErrIdempotencyHashMismatch)
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
	default:
		logger.WithError(createErr).Warn("failed to create idempotency record")
		return zero, fmt.Errorf("initialize idempotency request: %w", createErr)
	}

	switch record.Status {
	case domain.IdempotencyStatusDone:
		var resp T
		if len(record.ResponseBody) > 0 {
			if err := json.Unmarshal(record.ResponseBody, &resp); err != nil {
				logger.WithError(err).Warn("failed to decode cached idempotency response")
				return zero, fmt.Errorf("decode cached response: %w", err)
			}
		}
		logger.Debug("replaying cached response")
		return resp, nil
	case domain.IdempotencyStatusProcessing:
		return zero, fmt.Errorf("request with the same idempotency key is already processing: %w", domain.ErrIdempotencyInProgress)
	case domain.IdempotencyStatusFailed:
		var payload failurePayload
		if len(record.ResponseBody) > 0 {
			if err := json.Unmarshal(record.ResponseBody, &payload); err != nil {
				logger.WithError(err).Warn("failed to decode cached idempotency failure")
			}
		}
		if payload.Kind == "" {
			payload.Kind = domain.KindInternal
		}
		if payload.Message == "" {
			payload.Message = "request failed"
		}
		return zero, &ReplayedError{Kind: payload.Kind, Message: payload.Message, Phase: payload.Phase}
	default:
		return zero, fmt.Errorf("unknown idempotency record status %q", record.Status)
	}
}
