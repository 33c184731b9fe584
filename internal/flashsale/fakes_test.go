package flashsale

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"

	"campusmarket/internal/clock"
	"campusmarket/internal/logging"
	"campusmarket/internal/metrics"
	"campusmarket/internal/model"
	"campusmarket/internal/queue"
	rediskey "campusmarket/pkg/redis"
)

type fakeItemRepo struct {
	mu       sync.Mutex
	items    map[uint]model.FlashSaleItem
	nextID   uint
	getCalls int
	failGet  error
	failList error
	// gate 非空时 GetByID 阻塞到 gate 关闭，用来让并发回源重叠。
	gate chan struct{}
}

func newFakeItemRepo() *fakeItemRepo {
	return &fakeItemRepo{items: map[uint]model.FlashSaleItem{}}
}

func (f *fakeItemRepo) Create(_ context.Context, it *model.FlashSaleItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	it.ID = f.nextID
	it.CreatedAt = time.Now().UTC()
	f.items[it.ID] = *it
	return nil
}

func (f *fakeItemRepo) GetByID(ctx context.Context, id uint) (*model.FlashSaleItem, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.failGet != nil {
		return nil, f.failGet
	}
	it, ok := f.items[id]
	if !ok {
		return nil, nil
	}
	return &it, nil
}

func (f *fakeItemRepo) ListEndingAfter(_ context.Context, t time.Time) ([]model.FlashSaleItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList != nil {
		return nil, f.failList
	}
	var out []model.FlashSaleItem
	for _, it := range f.items {
		if !it.EndTime.Before(t) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (f *fakeItemRepo) Count(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.items)), nil
}

func (f *fakeItemRepo) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}

type fakeOrderRepo struct {
	mu     sync.Mutex
	orders []model.FlashSaleOrder
	fail   error
}

func (f *fakeOrderRepo) Create(_ context.Context, o *model.FlashSaleOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	for _, existing := range f.orders {
		if existing.RequestID == o.RequestID {
			return errors.New("duplicate request_id")
		}
	}
	o.ID = uint(len(f.orders) + 1)
	o.CreatedAt = time.Now().UTC()
	f.orders = append(f.orders, *o)
	return nil
}

func (f *fakeOrderRepo) CountByItem(_ context.Context, itemID uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, o := range f.orders {
		if o.FlashSaleItemID == itemID {
			n++
		}
	}
	return n, nil
}

func (f *fakeOrderRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

type fakeSink struct {
	mu     sync.Mutex
	events []queue.OrderCreated
	fail   error
}

func (f *fakeSink) Append(_ context.Context, ev queue.OrderCreated) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	f.events = append(f.events, ev)
	return "1-0", nil
}

type harness struct {
	svc     *Service
	mr      *miniredis.Miniredis
	items   *fakeItemRepo
	orders  *fakeOrderRepo
	sink    *fakeSink
	clk     *clock.Manual
	metrics *metrics.Registry
}

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{
		mr:      mr,
		items:   newFakeItemRepo(),
		orders:  &fakeOrderRepo{},
		sink:    &fakeSink{},
		clk:     clock.NewManual(testNow),
		metrics: metrics.NewRegistry(),
	}
	base := []Option{
		WithClock(h.clk),
		WithLogger(logging.Discard()),
		WithMetrics(h.metrics),
		WithEvents(h.sink),
		WithStoreTimeout(time.Second),
	}
	h.svc = NewService(Deps{
		Items:  h.items,
		Orders: h.orders,
		Cache:  rediskey.NewItemCache(rdb),
		Ledger: rediskey.NewStockLedger(rdb),
		Lock:   rediskey.NewAdmissionLock(rdb),
	}, append(base, opts...)...)
	return h
}

// createItem 以当前时钟为基准建一场秒杀。
func (h *harness) createItem(t *testing.T, stock int64, startOffset, duration time.Duration) *ItemView {
	t.Helper()
	start := h.clk.Now().Add(startOffset)
	in := validInput()
	in.TotalStock = stock
	in.StartTime = start
	in.EndTime = start.Add(duration)
	// 过去的场次无法通过创建校验，先把时钟拨回去再恢复。
	now := h.clk.Now()
	if !in.EndTime.After(now) {
		h.clk.Set(in.StartTime)
		defer h.clk.Set(now)
	}
	v, err := h.svc.CreateItem(context.Background(), in)
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	return v
}

func (h *harness) ledger(t *testing.T, id uint) string {
	t.Helper()
	v, err := h.mr.Get(rediskey.StockKey(id))
	if err != nil {
		t.Fatalf("ledger %d: %v", id, err)
	}
	return v
}
