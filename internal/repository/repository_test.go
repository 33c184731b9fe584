package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"campusmarket/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open("sqlite", filepath.Join(t.TempDir(), "flash.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = Close(db) })
	return db
}

func newItem(title string, start time.Time, d time.Duration) *model.FlashSaleItem {
	return &model.FlashSaleItem{
		Title:         title,
		OriginalPrice: decimal.RequireFromString("100.00"),
		FlashPrice:    decimal.RequireFromString("9.90"),
		TotalStock:    3,
		StartTime:     start,
		EndTime:       start.Add(d),
		Status:        model.ItemStatusScheduled,
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "x"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestItemRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewItemRepository(db)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Create assigns id and GetByID reads it back", func(t *testing.T) {
		ctx := context.Background()
		it := newItem("台灯", base, time.Hour)
		if err := repo.Create(ctx, it); err != nil {
			t.Fatalf("create: %v", err)
		}
		if it.ID == 0 {
			t.Fatal("expected id to be assigned")
		}
		got, err := repo.GetByID(ctx, it.ID)
		if err != nil || got == nil {
			t.Fatalf("get: %v %v", got, err)
		}
		if got.Title != "台灯" || !got.FlashPrice.Equal(decimal.RequireFromString("9.9")) {
			t.Fatalf("unexpected item: %+v", got)
		}
		if !got.EndTime.Equal(it.EndTime) {
			t.Fatalf("expected end %v, got %v", it.EndTime, got.EndTime)
		}
	})

	t.Run("GetByID returns nil for missing id", func(t *testing.T) {
		got, err := repo.GetByID(context.Background(), 99999)
		if err != nil || got != nil {
			t.Fatalf("expected (nil, nil), got %v %v", got, err)
		}
	})

	t.Run("ListEndingAfter filters ended items and orders by start", func(t *testing.T) {
		ctx := context.Background()
		db.Exec("DELETE FROM flash_sale_item")
		ended := newItem("ended", base.Add(-3*time.Hour), time.Hour)
		later := newItem("later", base.Add(2*time.Hour), time.Hour)
		running := newItem("running", base.Add(-30*time.Minute), time.Hour)
		for _, it := range []*model.FlashSaleItem{ended, later, running} {
			if err := repo.Create(ctx, it); err != nil {
				t.Fatalf("create: %v", err)
			}
		}

		list, err := repo.ListEndingAfter(ctx, base)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 2 || list[0].Title != "running" || list[1].Title != "later" {
			t.Fatalf("unexpected list: %+v", list)
		}

		n, err := repo.Count(ctx)
		if err != nil || n != 3 {
			t.Fatalf("expected count 3, got %d %v", n, err)
		}
	})
}

func TestOrderRepository(t *testing.T) {
	db := newTestDB(t)
	items := NewItemRepository(db)
	orders := NewOrderRepository(db)
	ctx := context.Background()

	it := newItem("耳机", time.Now().UTC(), time.Hour)
	if err := items.Create(ctx, it); err != nil {
		t.Fatalf("create item: %v", err)
	}

	for i, req := range []string{"req-a", "req-b"} {
		o := &model.FlashSaleOrder{
			FlashSaleItemID: it.ID,
			UserID:          int64(i + 1),
			Status:          model.OrderStatusPreparing,
			RequestID:       req,
		}
		if err := orders.Create(ctx, o); err != nil {
			t.Fatalf("create order: %v", err)
		}
		if o.ID == 0 {
			t.Fatal("expected order id")
		}
	}

	dup := &model.FlashSaleOrder{FlashSaleItemID: it.ID, UserID: 9, Status: model.OrderStatusPreparing, RequestID: "req-a"}
	if err := orders.Create(ctx, dup); err == nil {
		t.Fatal("expected unique violation on request_id")
	}

	n, err := orders.CountByItem(ctx, it.ID)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 orders, got %d %v", n, err)
	}
	if n, _ := orders.CountByItem(ctx, it.ID+1); n != 0 {
		t.Fatalf("expected 0 orders for other item, got %d", n)
	}
}
