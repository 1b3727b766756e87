// Package coupon проверяет купоны и ведёт счётчик их использования.
package coupon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/pricing"
)

// Quote — проверенный купон и рассчитанная скидка.
type Quote struct {
	Coupon        domain.Coupon
	DiscountMinor int64
}

// Ledger — проверка купонов и атомарное изменение used_count.
type Ledger struct {
	coupons domain.CouponRepository
	logger  *log.Entry
	now     func() time.Time
}

// Option настраивает Ledger.
type Option func(*Ledger)

// WithClock подменяет источник времени (для тестов окна действия).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLedger создаёт ledger купонов.
func NewLedger(coupons domain.CouponRepository, opts ...Option) *Ledger {
	l := &Ledger{
		coupons: coupons,
		logger:  log.New().WithField("component", "coupon"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ValidateAndPrice проверяет купон по коду и считает скидку для subtotal.
// Каждая причина отказа возвращается своей ошибкой.
func (l *Ledger) ValidateAndPrice(ctx context.Context, code string, subtotal int64) (Quote, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Quote{}, fmt.Errorf("empty code: %w", domain.ErrCouponInvalid)
	}

	c, err := l.coupons.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrCouponNotFound) {
			return Quote{}, fmt.Errorf("coupon %q: %w", code, domain.ErrCouponInvalid)
		}
		return Quote{}, fmt.Errorf("load coupon %q: %w", code, err)
	}

	if err := l.check(c, subtotal); err != nil {
		l.logger.WithFields(log.Fields{
			"coupon_id": c.ID,
			"reason":    err.Error(),
		}).Debug("coupon rejected")
		return Quote{}, err
	}

	return Quote{Coupon: c, DiscountMinor: pricing.Discount(&c, subtotal)}, nil
}

func (l *Ledger) check(c domain.Coupon, subtotal int64) error {
	now := l.now()
	switch {
	case !c.IsActive:
		return fmt.Errorf("coupon %s is disabled: %w", c.Code, domain.ErrCouponInvalid)
	case now.Before(c.StartsAt):
		return fmt.Errorf("coupon %s starts at %s: %w", c.Code, c.StartsAt.Format(time.RFC3339), domain.ErrCouponNotYetActive)
	case c.ExpiresAt != nil && now.After(*c.ExpiresAt):
		return fmt.Errorf("coupon %s expired at %s: %w", c.Code, c.ExpiresAt.Format(time.RFC3339), domain.ErrCouponExpired)
	case c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit:
		return fmt.Errorf("coupon %s used %d of %d: %w", c.Code, c.UsedCount, *c.UsageLimit, domain.ErrCouponExhausted)
	case c.MinimumAmountMinor != nil && subtotal < *c.MinimumAmountMinor:
		return fmt.Errorf("coupon %s requires %d, subtotal %d: %w", c.Code, *c.MinimumAmountMinor, subtotal, domain.ErrMinimumAmountNotMet)
	}
	return nil
}

// IncrementUsage занимает слот использования. Лимит проверяется в том же UPDATE,
// поэтому две параллельные покупки не превысят usage_limit.
func (l *Ledger) IncrementUsage(ctx context.Context, couponID string) error {
	if err := l.coupons.IncrementUsage(ctx, couponID); err != nil {
		return fmt.Errorf("increment coupon %s usage: %w", couponID, err)
	}
	return nil
}

// DecrementUsage возвращает слот; used_count не опускается ниже нуля.
func (l *Ledger) DecrementUsage(ctx context.Context, couponID string) error {
	if err := l.coupons.DecrementUsage(ctx, couponID); err != nil {
		return fmt.Errorf("decrement coupon %s usage: %w", couponID, err)
	}
	return nil
}
