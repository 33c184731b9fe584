package queue

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// OrderCreated 是秒杀下单成功后写入 outbox / Kafka 的事件。
type OrderCreated struct {
	RequestID  string          `json:"request_id"`
	OrderID    uint            `json:"order_id"`
	ItemID     uint            `json:"flash_sale_item_id"`
	UserID     int64           `json:"user_id"`
	FlashPrice decimal.Decimal `json:"flash_price"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Validate 做最小字段校验，防止下游处理脏消息。
func (m OrderCreated) Validate() error {
	if m.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}
	if m.OrderID == 0 {
		return fmt.Errorf("order_id is required")
	}
	if m.ItemID == 0 {
		return fmt.Errorf("flash_sale_item_id is required")
	}
	if m.UserID <= 0 {
		return fmt.Errorf("user_id is required")
	}
	if m.FlashPrice.IsNegative() {
		return fmt.Errorf("flash_price must be >= 0")
	}
	return nil
}

// streamValues 展开为 Redis Stream 字段。
func (m OrderCreated) streamValues() map[string]interface{} {
	return map[string]interface{}{
		"request_id":  m.RequestID,
		"order_id":    strconv.FormatUint(uint64(m.OrderID), 10),
		"item_id":     strconv.FormatUint(uint64(m.ItemID), 10),
		"user_id":     strconv.FormatInt(m.UserID, 10),
		"flash_price": m.FlashPrice.String(),
		"created_at":  strconv.FormatInt(m.CreatedAt.UnixMilli(), 10),
	}
}
