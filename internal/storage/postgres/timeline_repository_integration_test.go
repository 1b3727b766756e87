package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

func TestTimelineRepository_PostgresAppendAndList(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	orderRepo := NewOrderRepository(store)
	timelineRepo := NewTimelineRepository(store)
	ctx := context.Background()

	createdAt := time.Now().UTC().Add(-time.Minute).Round(time.Microsecond)
	order := sampleOrder("timeline-order", "ORD-T1", "user-timeline", createdAt)
	if err := orderRepo.Create(ctx, order); err != nil {
		t.Fatalf("create order for timeline: %v", err)
	}

	// Нулевое время заполняется текущим.
	if err := timelineRepo.Append(ctx, domain.TimelineEvent{
		OrderID: order.ID,
		Type:    "OrderCreated",
		Reason:  "created",
	}); err != nil {
		t.Fatalf("append timeline event with zero occurred: %v", err)
	}

	explicitOccurred := createdAt.Add(10 * time.Second)
	if err := timelineRepo.Append(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     "OrderStatusChanged",
		Reason:   "payment completed",
		Actor:    "system",
		Occurred: explicitOccurred,
	}); err != nil {
		t.Fatalf("append timeline event with explicit occurred: %v", err)
	}

	events, err := timelineRepo.List(ctx, order.ID)
	if err != nil {
		t.Fatalf("list timeline events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 timeline events, got %d", len(events))
	}
	if events[0].Occurred.After(events[1].Occurred) {
		t.Fatalf("events should be sorted by occurred asc: %+v", events)
	}
	types := []string{events[0].Type, events[1].Type}
	if !(contains(types, "OrderCreated") && contains(types, "OrderStatusChanged")) {
		t.Fatalf("unexpected event types: %+v", types)
	}
}

func TestTimelineRepository_PostgresEventsOutliveDeletedOrder(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	timelineRepo := NewTimelineRepository(store)
	ctx := context.Background()

	// Откат создания удаляет заказ, а событие CompensationFailed должно остаться.
	if err := timelineRepo.Append(ctx, domain.TimelineEvent{
		OrderID: "rolled-back-order",
		Type:    domain.EventCompensationFailed,
		Reason:  "release stock failed",
		Actor:   "system",
	}); err != nil {
		t.Fatalf("append event for deleted order: %v", err)
	}

	events, err := timelineRepo.List(ctx, "rolled-back-order")
	if err != nil {
		t.Fatalf("list timeline events: %v", err)
	}
	if len(events) != 1 || events[0].Actor != "system" {
		t.Fatalf("unexpected events: %+v", events)
	}

	empty, err := timelineRepo.List(ctx, "missing-order")
	if err != nil {
		t.Fatalf("list for missing order should not fail: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no events for missing order, got %d", len(empty))
	}
}

func contains(values []string, needle string) bool {
	for _, value := range values {
		if value == needle {
			return true
		}
	}
	return false
}
