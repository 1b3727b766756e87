// Package inventory — учёт складских остатков: резерв и возврат единиц товара.
package inventory

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

// Requirement — сколько единиц товара нужно заказу.
type Requirement struct {
	ProductID string
	Quantity  int64
}

// Ledger резервирует и возвращает сток через атомарные операции хранилища.
type Ledger struct {
	products domain.ProductRepository
	logger   *log.Entry
}

// NewLedger создаёт ledger поверх репозитория товаров.
func NewLedger(products domain.ProductRepository, logger *log.Entry) *Ledger {
	if logger == nil {
		logger = log.New().WithField("component", "inventory")
	}
	return &Ledger{products: products, logger: logger}
}

// Reserve списывает qty единиц товара. Проверка остатка и списание выполняются
// одним условным UPDATE, поэтому параллельные заказы не уводят сток в минус.
func (l *Ledger) Reserve(ctx context.Context, productID string, qty int64) error {
	if qty <= 0 {
		return domain.Invalid("quantity", "must be greater than zero")
	}
	if err := l.products.DecrementStock(ctx, productID, qty); err != nil {
		if !errors.Is(err, domain.ErrInsufficientStock) && !errors.Is(err, domain.ErrProductUnavailable) {
			l.logger.WithError(err).WithFields(log.Fields{
				"product_id": productID,
				"quantity":   qty,
			}).Error("stock decrement failed")
		}
		return fmt.Errorf("reserve %s x%d: %w", productID, qty, err)
	}
	return nil
}

// Release возвращает qty единиц на склад. Повторный вызов вернёт сток дважды:
// вызывающий код отвечает за то, чтобы release выполнялся один раз на заказ.
func (l *Ledger) Release(ctx context.Context, productID string, qty int64) error {
	if qty <= 0 {
		return domain.Invalid("quantity", "must be greater than zero")
	}
	if err := l.products.IncrementStock(ctx, productID, qty); err != nil {
		return fmt.Errorf("release %s x%d: %w", productID, qty, err)
	}
	return nil
}

// Check — проверка остатков по уже загруженным товарам без изменения стока.
func Check(products map[string]domain.Product, requirements []Requirement) error {
	needed := make(map[string]int64, len(requirements))
	for _, req := range requirements {
		needed[req.ProductID] += req.Quantity
	}
	for _, req := range requirements {
		product, ok := products[req.ProductID]
		if !ok {
			return fmt.Errorf("product %s: %w", req.ProductID, domain.ErrProductUnavailable)
		}
		if needed[req.ProductID] > product.StockQuantity {
			return fmt.Errorf("product %s: requested %d, available %d: %w",
				req.ProductID, needed[req.ProductID], product.StockQuantity, domain.ErrInsufficientStock)
		}
	}
	return nil
}
