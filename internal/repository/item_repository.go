package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"campusmarket/internal/model"
)

type ItemRepository struct {
	db *gorm.DB
}

func NewItemRepository(db *gorm.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// Create 写入后 it.ID 由数据库分配。
func (r *ItemRepository) Create(ctx context.Context, it *model.FlashSaleItem) error {
	if err := r.db.WithContext(ctx).Create(it).Error; err != nil {
		return fmt.Errorf("create flash sale item: %w", err)
	}
	return nil
}

// GetByID 不存在返回 (nil, nil)。
func (r *ItemRepository) GetByID(ctx context.Context, id uint) (*model.FlashSaleItem, error) {
	var it model.FlashSaleItem
	err := r.db.WithContext(ctx).First(&it, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get flash sale item %d: %w", id, err)
	}
	return &it, nil
}

// ListEndingAfter 结束时间 >= t 的商品，按开始时间升序。
func (r *ItemRepository) ListEndingAfter(ctx context.Context, t time.Time) ([]model.FlashSaleItem, error) {
	var list []model.FlashSaleItem
	err := r.db.WithContext(ctx).
		Where("end_time >= ?", t.UTC()).
		Order("start_time ASC").Order("id ASC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list flash sale items: %w", err)
	}
	return list, nil
}

func (r *ItemRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.FlashSaleItem{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count flash sale items: %w", err)
	}
	return n, nil
}
