package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/health"
	"github.com/vladislavdragonenkov/orderengine/internal/metrics"
	"github.com/vladislavdragonenkov/orderengine/internal/service/saga"
)

// runtimeDependencies — хранилища выбранного драйвера и функция их закрытия.
type runtimeDependencies struct {
	repo            domain.OrderRepository
	payments        domain.PaymentRepository
	products        domain.ProductRepository
	coupons         domain.CouponRepository
	carts           domain.CartRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository

	// storageChecker отсутствует у in-memory хранилища.
	storageChecker health.Checker
	closeFn        func() error
}

func (d runtimeDependencies) sagaDependencies() saga.Dependencies {
	return saga.Dependencies{
		Orders:   d.repo,
		Payments: d.payments,
		Products: d.products,
		Coupons:  d.coupons,
		Carts:    d.carts,
		Outbox:   d.outboxRepo,
		Timeline: d.timelineRepo,
	}
}

func (d runtimeDependencies) close(logger *log.Entry) {
	if d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
		return
	}
	logger.Info("storage closed")
}

// newEngine собирает движок заказов поверх выбранных хранилищ.
func newEngine(cfg Config, deps runtimeDependencies, engineMetrics *metrics.EngineMetrics, logger *log.Entry) (*saga.Engine, error) {
	charges, err := cfg.ChargesPolicy()
	if err != nil {
		return nil, err
	}
	return saga.NewEngine(deps.sagaDependencies(),
		saga.WithLogger(logger.WithField("layer", "engine")),
		saga.WithMetrics(engineMetrics),
		saga.WithChargesPolicy(charges),
	), nil
}
