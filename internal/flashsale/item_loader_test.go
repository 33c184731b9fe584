package flashsale

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	rediskey "campusmarket/pkg/redis"
)

func TestGetItem_CacheHitSkipsDB(t *testing.T) {
	h := newHarness(t)
	item := h.createItem(t, 3, -time.Minute, time.Hour)
	before := h.items.calls()

	it, err := h.svc.GetItem(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if it.Title != item.Title || !it.FlashPrice.Equal(item.FlashPrice) {
		t.Fatalf("unexpected item: %+v", it)
	}
	if h.items.calls() != before {
		t.Fatalf("expected cache hit without db read")
	}
}

func TestGetItem_MissLoadsAndWritesBack(t *testing.T) {
	h := newHarness(t)
	item := h.createItem(t, 3, -time.Minute, time.Hour)
	h.mr.Del(rediskey.ItemKey(item.ID))

	if _, err := h.svc.GetItem(context.Background(), item.ID); err != nil {
		t.Fatalf("get: %v", err)
	}
	if h.items.calls() != 1 {
		t.Fatalf("expected 1 db read, got %d", h.items.calls())
	}
	if !h.mr.Exists(rediskey.ItemKey(item.ID)) {
		t.Fatal("expected cache write-back")
	}
}

func TestGetItem_ConcurrentMissesCollapse(t *testing.T) {
	h := newHarness(t)
	item := h.createItem(t, 3, -time.Minute, time.Hour)
	h.mr.Del(rediskey.ItemKey(item.ID))
	h.items.gate = make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.svc.GetItem(context.Background(), item.ID); err != nil {
				t.Errorf("get: %v", err)
			}
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(h.items.gate)
	wg.Wait()
	// 第一个回源被卡住期间，其余请求都挂在同一个 singleflight 上。
	if n := h.items.calls(); n < 1 || n > 2 {
		t.Fatalf("expected collapsed db reads, got %d", n)
	}
}

func TestGetItem_SharedLoadSurvivesFirstCallerCancel(t *testing.T) {
	h := newHarness(t)
	item := h.createItem(t, 3, -time.Minute, time.Hour)
	h.mr.Del(rediskey.ItemKey(item.ID))
	h.items.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := h.svc.GetItem(ctx, item.ID)
		first <- err
	}()
	time.Sleep(50 * time.Millisecond)

	second := make(chan error, 1)
	go func() {
		_, err := h.svc.GetItem(context.Background(), item.ID)
		second <- err
	}()
	time.Sleep(50 * time.Millisecond)

	// 发起回源的请求先断开，搭车的请求不应跟着失败。
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(h.items.gate)

	if err := <-second; err != nil {
		t.Fatalf("expected piggybacking caller to get the item, got %v", err)
	}
	<-first
	if n := h.items.calls(); n != 1 {
		t.Fatalf("expected one shared db read, got %d", n)
	}
}

func TestGetItem_StaleCacheVersionFallsBack(t *testing.T) {
	h := newHarness(t)
	item := h.createItem(t, 3, -time.Minute, time.Hour)
	_ = h.mr.Set(rediskey.ItemKey(item.ID), `{"v":999}`)

	it, err := h.svc.GetItem(context.Background(), item.ID)
	if err != nil || it.ID != item.ID {
		t.Fatalf("expected db fallback, got %v %v", it, err)
	}
	if h.items.calls() != 1 {
		t.Fatalf("expected 1 db read, got %d", h.items.calls())
	}
}

func TestGetItem_NotFoundIsNotCached(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.GetItem(context.Background(), 77); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if h.mr.Exists(rediskey.ItemKey(77)) {
		t.Fatal("not-found must not be cached")
	}
}

func TestGetItem_DBErrorIsInfrastructure(t *testing.T) {
	h := newHarness(t)
	h.items.failGet = errors.New("db down")
	if _, err := h.svc.GetItem(context.Background(), 1); !errors.Is(err, ErrInfrastructure) {
		t.Fatalf("expected ErrInfrastructure, got %v", err)
	}
}

func TestGetItem_RedisDownServesFromDB(t *testing.T) {
	h := newHarness(t)
	item := h.createItem(t, 3, -time.Minute, time.Hour)
	h.mr.SetError("ERR simulated outage")
	defer h.mr.SetError("")

	// 连续失败后熔断打开，依旧能从 DB 读到。
	for i := 0; i < 8; i++ {
		it, err := h.svc.GetItem(context.Background(), item.ID)
		if err != nil || it.ID != item.ID {
			t.Fatalf("call %d: expected db fallback, got %v %v", i, it, err)
		}
	}
}
