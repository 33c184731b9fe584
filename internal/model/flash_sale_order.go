package model

import "time"

// 抢到名额、等待下游履约。
const OrderStatusPreparing = "PREPARING"

// FlashSaleOrder 秒杀成功后落库的订单。
// (item, user) 唯一性由 Redis 用户锁保证，这里不加联合唯一索引。
type FlashSaleOrder struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	FlashSaleItemID uint   `gorm:"not null;index:idx_flash_order_item_user" json:"flash_sale_item_id"`
	UserID          int64  `gorm:"not null;index:idx_flash_order_item_user" json:"user_id"`
	Status          string `gorm:"size:16;not null" json:"status"`
	// RequestID 即用户锁里的 token，串起锁、库存回补与订单事件。
	RequestID string `gorm:"size:64;uniqueIndex;not null" json:"request_id"`
}

func (FlashSaleOrder) TableName() string { return "flash_sale_order" }
