package flashsale

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SeedDemo 表为空时创建几场演示秒杀；已有数据则什么都不做，可重复调用。
func (s *Service) SeedDemo(ctx context.Context) (int, error) {
	cctx, cancel := s.storeCtx(ctx)
	n, err := s.items.Count(cctx)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("%w: count items: %v", ErrInfrastructure, err)
	}
	if n > 0 {
		return 0, nil
	}

	now := s.clock.Now().Truncate(time.Minute)
	demos := []CreateItemInput{
		{
			Title:         "二手 iPad Air",
			Description:   "9 成新，含保护壳",
			OriginalPrice: decimal.RequireFromString("2399.00"),
			FlashPrice:    decimal.RequireFromString("999.00"),
			TotalStock:    5,
			StartTime:     now.Add(-5 * time.Minute),
			EndTime:       now.Add(2 * time.Hour),
		},
		{
			Title:         "考研数学全套教材",
			Description:   "有少量笔记",
			OriginalPrice: decimal.RequireFromString("180.00"),
			FlashPrice:    decimal.RequireFromString("19.90"),
			TotalStock:    20,
			StartTime:     now.Add(30 * time.Minute),
			EndTime:       now.Add(3 * time.Hour),
		},
		{
			Title:         "宿舍小冰箱",
			OriginalPrice: decimal.RequireFromString("499.00"),
			FlashPrice:    decimal.RequireFromString("99.00"),
			TotalStock:    2,
			StartTime:     now.Add(24 * time.Hour),
			EndTime:       now.Add(25 * time.Hour),
		},
	}
	for _, in := range demos {
		if _, err := s.CreateItem(ctx, in); err != nil {
			return 0, fmt.Errorf("seed demo item %q: %w", in.Title, err)
		}
	}
	s.log.WithField("items", len(demos)).Info("demo flash sale items seeded")
	return len(demos), nil
}
