package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/metrics"
	"github.com/vladislavdragonenkov/orderengine/internal/tracing"
)

// Phase группирует шаги саги, чтобы вызывающий код отличал сбой создания от сбоя резерва.
type Phase string

const (
	// PhaseCreation — сохранение заказа и позиций.
	PhaseCreation Phase = "creation"
	// PhaseReservation — резерв стока и слота купона после сохранения заказа.
	PhaseReservation Phase = "reservation"
	// PhaseRefund — запись возврата и обновление заказа.
	PhaseRefund Phase = "refund"
)

func (p Phase) sentinel() error {
	switch p {
	case PhaseCreation:
		return domain.ErrOrderCreationFailed
	case PhaseReservation:
		return domain.ErrReservationFailed
	default:
		return nil
	}
}

// Step — прямое действие и его компенсация. Compensate может быть nil.
type Step struct {
	Name       domain.SagaStep
	Subject    string
	Phase      Phase
	Do         func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// StepError — сбой прямого шага; все компенсации выполнены успешно.
type StepError struct {
	Phase   Phase
	Step    domain.SagaStep
	Subject string
	Err     error
}

func (e *StepError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s phase failed at %s(%s): %v", e.Phase, e.Step, e.Subject, e.Err)
	}
	return fmt.Sprintf("%s phase failed at %s: %v", e.Phase, e.Step, e.Err)
}

// FailurePhase возвращает фазу упавшего шага.
func (e *StepError) FailurePhase() string { return string(e.Phase) }

// Unwrap отдаёт и ошибку фазы, и исходную причину.
func (e *StepError) Unwrap() []error {
	if sentinel := e.Phase.sentinel(); sentinel != nil {
		return []error{sentinel, e.Err}
	}
	return []error{e.Err}
}

// CompensationFailure — одна неудавшаяся компенсация.
type CompensationFailure struct {
	Step    domain.SagaStep
	Subject string
	Err     error
}

// CompensationError — прямой шаг упал и хотя бы одна компенсация тоже.
// Состояние требует ручной сверки.
type CompensationError struct {
	Failed   *StepError
	Failures []CompensationFailure
}

func (e *CompensationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Subject != "" {
			parts = append(parts, fmt.Sprintf("%s(%s): %v", f.Step, f.Subject, f.Err))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %v", f.Step, f.Err))
		}
	}
	return fmt.Sprintf("%s: [%s] after %v", domain.ErrCompensationFailure, strings.Join(parts, "; "), e.Failed)
}

// Unwrap отдаёт ErrCompensationFailure и исходный сбой шага.
func (e *CompensationError) Unwrap() []error {
	return []error{domain.ErrCompensationFailure, e.Failed}
}

// Saga выполняет шаги по порядку и при первом сбое откатывает выполненные шаги в обратном порядке.
type Saga struct {
	name    string
	steps   []Step
	logger  *log.Entry
	metrics *metrics.EngineMetrics
}

// New создаёт пустую сагу.
func New(name string, logger *log.Entry, m *metrics.EngineMetrics) *Saga {
	if logger == nil {
		logger = log.New().WithField("component", "saga")
	}
	return &Saga{name: name, logger: logger.WithField("saga", name), metrics: m}
}

// Add добавляет шаг в конец саги.
func (s *Saga) Add(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Run выполняет сагу. Возвращает nil, *StepError или *CompensationError.
func (s *Saga) Run(ctx context.Context) error {
	for i, step := range s.steps {
		stepCtx, span := tracing.StartSpan(ctx, "saga."+string(step.Name),
			attribute.String("saga", s.name),
			attribute.String("subject", step.Subject),
		)
		start := time.Now()
		err := step.Do(stepCtx)
		tracing.End(span, err)
		if s.metrics != nil {
			s.metrics.RecordStepDuration(string(step.Name), time.Since(start))
		}
		if err == nil {
			continue
		}

		failed := &StepError{Phase: step.Phase, Step: step.Name, Subject: step.Subject, Err: err}
		s.logger.WithError(err).WithFields(log.Fields{
			"step":    step.Name,
			"subject": step.Subject,
			"phase":   step.Phase,
		}).Warn("saga step failed, compensating")

		// Компенсации выполняются и после отмены запроса клиентом.
		failures := s.compensate(context.WithoutCancel(ctx), s.steps[:i])
		if len(failures) > 0 {
			return &CompensationError{Failed: failed, Failures: failures}
		}
		return failed
	}
	return nil
}

func (s *Saga) compensate(ctx context.Context, done []Step) []CompensationFailure {
	var failures []CompensationFailure
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"step":    step.Name,
				"subject": step.Subject,
			}).Error("compensation failed, manual reconciliation required")
			if s.metrics != nil {
				s.metrics.RecordCompensationFailure(string(step.Name))
			}
			failures = append(failures, CompensationFailure{Step: step.Name, Subject: step.Subject, Err: err})
		}
	}
	return failures
}

// PhaseOf возвращает фазу, на которой упала сага, или пустую строку.
func PhaseOf(err error) Phase {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Phase
	}
	return ""
}
