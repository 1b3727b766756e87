package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/storage/memory"
)

func newOrder(id, number, userID string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:            id,
		OrderNumber:   number,
		UserID:        userID,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.OrderPaymentPending,
		SubtotalMinor: 500,
		TotalMinor:    500,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

func newItems() []domain.OrderItem {
	return []domain.OrderItem{
		{ID: "item-1", ProductID: "p1", ProductSKU: "sku-1", Quantity: 5, UnitPriceMinor: 100, TotalPriceMinor: 500},
	}
}

func TestOrderRepository_CreateItemsGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", "ORD-1", "user-1", time.Now().UTC())

	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.CreateItems(ctx, order.ID, newItems()); err != nil {
		t.Fatalf("create items failed: %v", err)
	}

	stored, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(stored.Items) != 1 || stored.Items[0].OrderID != order.ID {
		t.Fatalf("items not attached: %+v", stored.Items)
	}

	byNumber, err := repo.GetByNumber(ctx, "ORD-1")
	if err != nil || byNumber.ID != order.ID {
		t.Fatalf("get by number failed: %v", err)
	}
}

func TestOrderRepository_CreateConflicts(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	now := time.Now().UTC()

	if err := repo.Create(ctx, newOrder("order-1", "ORD-1", "user-1", now)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, newOrder("order-2", "ORD-1", "user-1", now)); !errors.Is(err, domain.ErrOrderNumberConflict) {
		t.Fatalf("expected ErrOrderNumberConflict, got %v", err)
	}
	if err := repo.Create(ctx, newOrder("order-1", "ORD-2", "user-1", now)); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestOrderRepository_DeleteFreesNumber(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	now := time.Now().UTC()

	if err := repo.Create(ctx, newOrder("order-1", "ORD-1", "user-1", now)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Delete(ctx, "order-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := repo.Get(ctx, "order-1"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := repo.Create(ctx, newOrder("order-2", "ORD-1", "user-1", now)); err != nil {
		t.Fatalf("number must be reusable after delete: %v", err)
	}
}

func TestOrderRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	base := time.Now().UTC()

	for i, id := range []string{"o-1", "o-2", "o-3"} {
		order := newOrder(id, "ORD-"+id, "user-1", base.Add(time.Duration(i)*time.Minute))
		if err := repo.Create(ctx, order); err != nil {
			t.Fatalf("create %s failed: %v", id, err)
		}
	}
	other := newOrder("o-4", "ORD-o-4", "user-2", base)
	other.Status = domain.OrderStatusCancelled
	if err := repo.Create(ctx, other); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	orders, err := repo.List(ctx, domain.OrderFilter{UserID: "user-1", Limit: 2})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != "o-3" || orders[1].ID != "o-2" {
		t.Fatalf("unexpected order listing: %+v", orders)
	}

	orders, err = repo.List(ctx, domain.OrderFilter{UserID: "user-1", Offset: 2})
	if err != nil || len(orders) != 1 || orders[0].ID != "o-1" {
		t.Fatalf("unexpected offset listing: %+v, err=%v", orders, err)
	}

	orders, err = repo.List(ctx, domain.OrderFilter{Status: domain.OrderStatusCancelled})
	if err != nil || len(orders) != 1 || orders[0].ID != "o-4" {
		t.Fatalf("unexpected status listing: %+v, err=%v", orders, err)
	}
}

func TestOrderRepository_SaveVersionConflict(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", "ORD-1", "user-1", time.Now().UTC())
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.CreateItems(ctx, order.ID, newItems()); err != nil {
		t.Fatalf("create items failed: %v", err)
	}

	first, _ := repo.Get(ctx, order.ID)
	second, _ := repo.Get(ctx, order.ID)

	first.Status = domain.OrderStatusConfirmed
	if err := repo.Save(ctx, first); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	second.Status = domain.OrderStatusCancelled
	if err := repo.Save(ctx, second); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	stored, _ := repo.Get(ctx, order.ID)
	if stored.Status != domain.OrderStatusConfirmed || stored.Version != 1 {
		t.Fatalf("unexpected stored order %s v%d", stored.Status, stored.Version)
	}
	if len(stored.Items) != 1 {
		t.Fatalf("save must keep items")
	}
}
