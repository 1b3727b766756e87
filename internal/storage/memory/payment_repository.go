package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

type paymentRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Payment
	byTxn map[string]string
}

// NewPaymentRepository создаёт in-memory хранилище платежей.
func NewPaymentRepository() domain.PaymentRepository {
	return &paymentRepositoryInMemory{
		items: make(map[string]domain.Payment),
		byTxn: make(map[string]string),
	}
}

func (r *paymentRepositoryInMemory) Create(_ context.Context, payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[payment.ID]; exists {
		return domain.ErrAlreadyExists
	}
	if _, exists := r.byTxn[payment.TransactionID]; exists {
		return domain.ErrTransactionIDConflict
	}
	r.items[payment.ID] = payment.Clone()
	r.byTxn[payment.TransactionID] = payment.ID
	return nil
}

func (r *paymentRepositoryInMemory) Get(_ context.Context, id string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	payment, ok := r.items[id]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return payment.Clone(), nil
}

func (r *paymentRepositoryInMemory) GetByTransactionID(ctx context.Context, transactionID string) (domain.Payment, error) {
	r.mu.RLock()
	id, ok := r.byTxn[transactionID]
	r.mu.RUnlock()
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return r.Get(ctx, id)
}

func (r *paymentRepositoryInMemory) ListByOrder(_ context.Context, orderID string) ([]domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Payment, 0)
	for _, payment := range r.items {
		if payment.OrderID == orderID {
			result = append(result, payment.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Save обновляет платёж с проверкой версии; смена transaction_id переносит индекс.
func (r *paymentRepositoryInMemory) Save(_ context.Context, payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[payment.ID]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if current.Version != payment.Version {
		return domain.ErrPaymentVersionConflict
	}
	if payment.TransactionID != current.TransactionID {
		if _, taken := r.byTxn[payment.TransactionID]; taken {
			return domain.ErrTransactionIDConflict
		}
		delete(r.byTxn, current.TransactionID)
		r.byTxn[payment.TransactionID] = payment.ID
	}
	stored := payment.Clone()
	stored.Version++
	r.items[payment.ID] = stored
	return nil
}

func (r *paymentRepositoryInMemory) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	payment, ok := r.items[id]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	delete(r.byTxn, payment.TransactionID)
	delete(r.items, id)
	return nil
}

var _ domain.PaymentRepository = (*paymentRepositoryInMemory)(nil)
