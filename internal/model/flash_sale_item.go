package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 持久化的粗粒度状态，只在创建时写一次；运行期状态一律按时钟推导。
const ItemStatusScheduled = "SCHEDULED"

// FlashSaleItem 一场秒杀：标题、原价/秒杀价、总库存、秒杀时间段。
// TotalStock 创建后不可变，实时剩余库存只在 Redis 账本里。
type FlashSaleItem struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Title         string          `gorm:"size:128;not null" json:"title"`
	Description   string          `gorm:"size:1024" json:"description"`
	OriginalPrice decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"original_price"`
	FlashPrice    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"flash_price"`
	TotalStock    int64           `gorm:"not null" json:"total_stock"`
	StartTime     time.Time       `gorm:"not null;index" json:"start_time"`
	EndTime       time.Time       `gorm:"not null;index" json:"end_time"`
	Status        string          `gorm:"size:16;not null" json:"status"`
}

func (FlashSaleItem) TableName() string { return "flash_sale_item" }
