package flashsale

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"campusmarket/internal/model"
)

// CreateItemInput 管理员创建秒杀场次的参数。
type CreateItemInput struct {
	Title         string
	Description   string
	OriginalPrice decimal.Decimal
	FlashPrice    decimal.Decimal
	TotalStock    int64
	StartTime     time.Time
	EndTime       time.Time
}

func (in CreateItemInput) validate(now time.Time) error {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return fmt.Errorf("%w: title is required", ErrValidation)
	case in.OriginalPrice.IsNegative():
		return fmt.Errorf("%w: original_price must be >= 0", ErrValidation)
	case in.FlashPrice.IsNegative():
		return fmt.Errorf("%w: flash_price must be >= 0", ErrValidation)
	case in.TotalStock < 1:
		return fmt.Errorf("%w: total_stock must be >= 1", ErrValidation)
	case !in.EndTime.After(in.StartTime):
		return fmt.Errorf("%w: end_time must be after start_time", ErrValidation)
	case !in.EndTime.After(now):
		return fmt.Errorf("%w: end_time must be in the future", ErrValidation)
	}
	return nil
}

// CreateItem 校验 → 落库 → 写商品缓存 → 初始化库存账本。
// 账本写失败时返回基础设施错误，商品已落库，由对账任务补种账本。
func (s *Service) CreateItem(ctx context.Context, in CreateItemInput) (*ItemView, error) {
	now := s.clock.Now()
	if err := in.validate(now); err != nil {
		return nil, err
	}

	it := &model.FlashSaleItem{
		Title:         strings.TrimSpace(in.Title),
		Description:   in.Description,
		OriginalPrice: in.OriginalPrice,
		FlashPrice:    in.FlashPrice,
		TotalStock:    in.TotalStock,
		StartTime:     in.StartTime.UTC(),
		EndTime:       in.EndTime.UTC(),
		Status:        model.ItemStatusScheduled,
	}

	dctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.items.Create(dctx, it); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	log := s.log.WithField("item_id", it.ID)

	cctx, ccancel := s.storeCtx(ctx)
	defer ccancel()
	if err := s.cache.Set(cctx, it, s.itemCacheTTL(it, now)); err != nil {
		log.WithError(err).Warn("item cache write failed")
	}

	lctx, lcancel := s.storeCtx(ctx)
	defer lcancel()
	if err := s.ledger.Seed(lctx, it.ID, it.TotalStock, s.keyTTL(it, now)); err != nil {
		log.WithError(err).Error("seed stock ledger failed")
		return nil, fmt.Errorf("%w: seed stock ledger for item %d: %v", ErrInfrastructure, it.ID, err)
	}

	log.WithField("total_stock", it.TotalStock).Info("flash sale item created")
	view := newItemView(it, now, it.TotalStock)
	return &view, nil
}
