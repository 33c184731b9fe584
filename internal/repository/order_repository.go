package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"campusmarket/internal/model"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, o *model.FlashSaleOrder) error {
	if err := r.db.WithContext(ctx).Create(o).Error; err != nil {
		return fmt.Errorf("create flash sale order: %w", err)
	}
	return nil
}

// CountByItem 已落库的订单数，对账时与 Redis 账本比对。
func (r *OrderRepository) CountByItem(ctx context.Context, itemID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.FlashSaleOrder{}).
		Where("flash_sale_item_id = ?", itemID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count orders of item %d: %w", itemID, err)
	}
	return n, nil
}
