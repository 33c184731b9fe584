package redis

import "fmt"

// ItemKey 缓存的秒杀商品（版本化 JSON）。
func ItemKey(itemID uint) string {
	return fmt.Sprintf("flash:item:%d", itemID)
}

// StockKey 统一约定秒杀库存账本键名。
func StockKey(itemID uint) string {
	return fmt.Sprintf("flash:stock:%d", itemID)
}

// UserLockKey 标记某用户在某秒杀商品上已有一次抢购尝试。
func UserLockKey(itemID uint, userID int64) string {
	return fmt.Sprintf("flash:user:%d:%d", itemID, userID)
}

// StockReleaseKey 标记某个 request_id 是否已做过库存回补。
func StockReleaseKey(requestID string) string {
	return fmt.Sprintf("flash:stock:released:%s", requestID)
}
