package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/storage/memory"
)

func TestPaymentRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewPaymentRepository()
	now := time.Now().UTC()

	payment := domain.Payment{
		ID:            "pay-1",
		OrderID:       "order-1",
		TransactionID: "TXN-1",
		Method:        domain.PaymentMethodGatewayA,
		AmountMinor:   1000,
		Status:        domain.PaymentStatusPending,
		CreatedAt:     now,
	}
	require.NoError(t, repo.Create(ctx, payment))

	dup := payment
	dup.ID = "pay-2"
	require.ErrorIs(t, repo.Create(ctx, dup), domain.ErrTransactionIDConflict)

	stored, err := repo.Get(ctx, "pay-1")
	require.NoError(t, err)
	stored.Status = domain.PaymentStatusProcessing
	stored.TransactionID = "gw-1"
	require.NoError(t, repo.Save(ctx, stored))

	stale := stored
	require.ErrorIs(t, repo.Save(ctx, stale), domain.ErrPaymentVersionConflict)

	byTxn, err := repo.GetByTransactionID(ctx, "gw-1")
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusProcessing, byTxn.Status)
	_, err = repo.GetByTransactionID(ctx, "TXN-1")
	require.ErrorIs(t, err, domain.ErrPaymentNotFound)

	refund := domain.Payment{ID: "ref-1", OrderID: "order-1", TransactionID: domain.RefundTransactionPrefix + "1", Status: domain.PaymentStatusCompleted, CreatedAt: now.Add(time.Second)}
	require.NoError(t, repo.Create(ctx, refund))

	list, err := repo.ListByOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "pay-1", list[0].ID)

	require.NoError(t, repo.Delete(ctx, "ref-1"))
	require.ErrorIs(t, repo.Delete(ctx, "ref-1"), domain.ErrPaymentNotFound)
}
