package flashsale

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"campusmarket/internal/model"
)

// 运行期状态，按时钟推导，不读持久化字段。
const (
	StatusScheduled = "SCHEDULED"
	StatusRunning   = "RUNNING"
	StatusEnded     = "ENDED"
)

// ItemView 列表/详情返回给客户端的视图。
type ItemView struct {
	ID             uint            `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	OriginalPrice  decimal.Decimal `json:"originalPrice"`
	FlashPrice     decimal.Decimal `json:"flashPrice"`
	TotalStock     int64           `json:"totalStock"`
	RemainingStock int64           `json:"remainingStock"`
	StartTime      time.Time       `json:"startTime"`
	EndTime        time.Time       `json:"endTime"`
	Status         string          `json:"status"`
}

// DeriveStatus now < start 为 SCHEDULED，now > end 为 ENDED，其余 RUNNING（两端闭区间）。
func DeriveStatus(it *model.FlashSaleItem, now time.Time) string {
	switch {
	case now.Before(it.StartTime):
		return StatusScheduled
	case now.After(it.EndTime):
		return StatusEnded
	default:
		return StatusRunning
	}
}

func newItemView(it *model.FlashSaleItem, now time.Time, remaining int64) ItemView {
	return ItemView{
		ID:             it.ID,
		Title:          it.Title,
		Description:    it.Description,
		OriginalPrice:  it.OriginalPrice,
		FlashPrice:     it.FlashPrice,
		TotalStock:     it.TotalStock,
		RemainingStock: remaining,
		StartTime:      it.StartTime,
		EndTime:        it.EndTime,
		Status:         DeriveStatus(it, now),
	}
}

// ListActiveAndUpcoming 未结束（含 grace 内刚结束）的场次，按开始时间升序。
// 剩余库存读 Redis 失败时退回 total_stock，列表不因缓存故障报错。
func (s *Service) ListActiveAndUpcoming(ctx context.Context) ([]ItemView, error) {
	now := s.clock.Now()

	dctx, cancel := s.storeCtx(ctx)
	defer cancel()
	items, err := s.items.ListEndingAfter(dctx, now.Add(-s.listingGrace))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	if len(items) == 0 {
		return []ItemView{}, nil
	}

	ids := make([]uint, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}
	remaining := s.remainingStock(ctx, ids)

	out := make([]ItemView, 0, len(items))
	for i := range items {
		it := &items[i]
		left, ok := remaining[it.ID]
		if !ok {
			left = it.TotalStock
		}
		out = append(out, newItemView(it, now, left))
	}
	return out, nil
}

// GetItemView 单个场次视图，商品走缓存读穿。
func (s *Service) GetItemView(ctx context.Context, id uint) (*ItemView, error) {
	it, err := s.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	left, ok := s.remainingStock(ctx, []uint{id})[id]
	if !ok {
		left = it.TotalStock
	}
	view := newItemView(it, s.clock.Now(), left)
	return &view, nil
}

// remainingStock 失败时返回空 map，调用方逐个回退 total_stock。
func (s *Service) remainingStock(ctx context.Context, ids []uint) map[uint]int64 {
	v, err := s.breaker.Execute(func() (interface{}, error) {
		rctx, cancel := s.storeCtx(ctx)
		defer cancel()
		return s.ledger.Remaining(rctx, ids)
	})
	if err != nil {
		s.log.WithError(err).WithField("items", len(ids)).Warn("read remaining stock failed, using total stock")
		return map[uint]int64{}
	}
	m, _ := v.(map[uint]int64)
	if m == nil {
		return map[uint]int64{}
	}
	if len(m) < len(ids) {
		s.log.WithField("missing", len(ids)-len(m)).Debug("stock ledger missing for some items")
	}
	return m
}
