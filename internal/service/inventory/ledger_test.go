package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/storage/memory"
)

func TestLedger_ReserveRelease(t *testing.T) {
	ctx := context.Background()
	products := memory.NewProductRepository()
	if err := products.Upsert(ctx, domain.Product{ID: "p1", PriceMinor: 100, StockQuantity: 5, IsActive: true}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ledger := NewLedger(products, nil)

	if err := ledger.Reserve(ctx, "p1", 3); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := ledger.Reserve(ctx, "p1", 3); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if err := ledger.Release(ctx, "p1", 3); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := ledger.Reserve(ctx, "p1", 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	p, err := products.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.StockQuantity != 5 {
		t.Fatalf("stock = %d, want 5", p.StockQuantity)
	}
}

func TestCheck(t *testing.T) {
	products := map[string]domain.Product{
		"p1": {ID: "p1", StockQuantity: 4, IsActive: true},
	}

	tests := []struct {
		name string
		reqs []Requirement
		want error
	}{
		{"fits", []Requirement{{ProductID: "p1", Quantity: 4}}, nil},
		{"aggregated lines exceed", []Requirement{{ProductID: "p1", Quantity: 2}, {ProductID: "p1", Quantity: 3}}, domain.ErrInsufficientStock},
		{"missing product", []Requirement{{ProductID: "p2", Quantity: 1}}, domain.ErrProductUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(products, tt.reqs)
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
