package flashsale

import (
	"context"
	"errors"
	"testing"
	"time"

	"campusmarket/internal/model"
	rediskey "campusmarket/pkg/redis"
)

func TestDeriveStatus(t *testing.T) {
	start := testNow
	it := &model.FlashSaleItem{StartTime: start, EndTime: start.Add(time.Hour), Status: model.ItemStatusScheduled}
	cases := []struct {
		name string
		now  time.Time
		want string
	}{
		{"before start", start.Add(-time.Second), StatusScheduled},
		{"at start", start, StatusRunning},
		{"mid window", start.Add(30 * time.Minute), StatusRunning},
		{"at end", start.Add(time.Hour), StatusRunning},
		{"after end", start.Add(time.Hour + time.Nanosecond), StatusEnded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveStatus(it, tc.now); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestListActiveAndUpcoming(t *testing.T) {
	h := newHarness(t, WithListingGrace(time.Second))
	running := h.createItem(t, 5, -10*time.Minute, time.Hour)
	upcoming := h.createItem(t, 2, time.Hour, time.Hour)
	h.createItem(t, 4, -2*time.Hour, time.Hour) // 已结束，不应出现
	ctx := context.Background()

	if _, err := h.svc.Purchase(ctx, running.ID, 1); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	list, err := h.svc.ListActiveAndUpcoming(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 items, got %d", len(list))
	}
	if list[0].ID != running.ID || list[0].Status != StatusRunning || list[0].RemainingStock != 4 {
		t.Fatalf("unexpected running view: %+v", list[0])
	}
	if list[1].ID != upcoming.ID || list[1].Status != StatusScheduled || list[1].RemainingStock != 2 {
		t.Fatalf("unexpected upcoming view: %+v", list[1])
	}

	// 刚结束 grace 以内仍会返回，状态为 ENDED。
	h.clk.Set(running.EndTime.Add(500 * time.Millisecond))
	list, err = h.svc.ListActiveAndUpcoming(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Status != StatusEnded {
		t.Fatalf("expected just-ended item within grace, got %+v", list)
	}
}

func TestListActiveAndUpcoming_FallsBackToTotalStock(t *testing.T) {
	h := newHarness(t)
	a := h.createItem(t, 5, -time.Minute, time.Hour)
	b := h.createItem(t, 7, time.Minute, time.Hour)
	ctx := context.Background()

	h.mr.Del(rediskey.StockKey(a.ID))
	list, err := h.svc.ListActiveAndUpcoming(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list[0].RemainingStock != 5 || list[1].RemainingStock != 7 {
		t.Fatalf("expected fallback to total stock, got %+v", list)
	}

	// Redis 整体不可用时列表照常返回。
	h.mr.SetError("ERR simulated outage")
	defer h.mr.SetError("")
	list, err = h.svc.ListActiveAndUpcoming(ctx)
	if err != nil {
		t.Fatalf("expected listing to fail open, got %v", err)
	}
	if len(list) != 2 || list[1].ID != b.ID || list[1].RemainingStock != 7 {
		t.Fatalf("unexpected list during outage: %+v", list)
	}
}

func TestListActiveAndUpcoming_DBFailure(t *testing.T) {
	h := newHarness(t)
	h.items.failList = errors.New("db down")
	if _, err := h.svc.ListActiveAndUpcoming(context.Background()); !errors.Is(err, ErrInfrastructure) {
		t.Fatalf("expected ErrInfrastructure, got %v", err)
	}
}

func TestListActiveAndUpcoming_Empty(t *testing.T) {
	h := newHarness(t)
	list, err := h.svc.ListActiveAndUpcoming(context.Background())
	if err != nil || list == nil || len(list) != 0 {
		t.Fatalf("expected empty non-nil list, got %v %v", list, err)
	}
}

func TestGetItemView(t *testing.T) {
	h := newHarness(t)
	item := h.createItem(t, 3, -time.Minute, time.Hour)
	ctx := context.Background()

	if _, err := h.svc.Purchase(ctx, item.ID, 1); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	v, err := h.svc.GetItemView(ctx, item.ID)
	if err != nil {
		t.Fatalf("get view: %v", err)
	}
	if v.RemainingStock != 2 || v.Status != StatusRunning {
		t.Fatalf("unexpected view: %+v", v)
	}
	if _, err := h.svc.GetItemView(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
