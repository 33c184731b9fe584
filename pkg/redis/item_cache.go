package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rd "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"campusmarket/internal/model"
)

// itemCodecVersion 变更缓存结构时递增，旧版本的缓存会被当作 miss 回源。
const itemCodecVersion = 1

// ErrItemCodec 缓存内容无法解码（格式错误或版本不匹配）。
var ErrItemCodec = errors.New("item cache: undecodable entry")

type cachedItem struct {
	V             int             `json:"v"`
	ID            uint            `json:"id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	FlashPrice    decimal.Decimal `json:"flash_price"`
	TotalStock    int64           `json:"total_stock"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

func EncodeItem(it *model.FlashSaleItem) ([]byte, error) {
	return json.Marshal(cachedItem{
		V:             itemCodecVersion,
		ID:            it.ID,
		Title:         it.Title,
		Description:   it.Description,
		OriginalPrice: it.OriginalPrice,
		FlashPrice:    it.FlashPrice,
		TotalStock:    it.TotalStock,
		StartTime:     it.StartTime,
		EndTime:       it.EndTime,
		Status:        it.Status,
		CreatedAt:     it.CreatedAt,
	})
}

func DecodeItem(b []byte) (*model.FlashSaleItem, error) {
	var c cachedItem
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrItemCodec, err)
	}
	if c.V != itemCodecVersion {
		return nil, fmt.Errorf("%w: version %d", ErrItemCodec, c.V)
	}
	return &model.FlashSaleItem{
		ID:            c.ID,
		CreatedAt:     c.CreatedAt,
		Title:         c.Title,
		Description:   c.Description,
		OriginalPrice: c.OriginalPrice,
		FlashPrice:    c.FlashPrice,
		TotalStock:    c.TotalStock,
		StartTime:     c.StartTime,
		EndTime:       c.EndTime,
		Status:        c.Status,
	}, nil
}

// ItemCache 秒杀商品快照缓存，只读路径使用。
type ItemCache struct {
	rdb *rd.Client
}

func NewItemCache(rdb *rd.Client) *ItemCache { return &ItemCache{rdb: rdb} }

// Get 未命中返回 (nil, nil)。
func (c *ItemCache) Get(ctx context.Context, itemID uint) (*model.FlashSaleItem, error) {
	b, err := c.rdb.Get(ctx, ItemKey(itemID)).Bytes()
	if errors.Is(err, rd.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item cache %d: %w", itemID, err)
	}
	return DecodeItem(b)
}

func (c *ItemCache) Set(ctx context.Context, it *model.FlashSaleItem, ttl time.Duration) error {
	b, err := EncodeItem(it)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, ItemKey(it.ID), b, ttl).Err()
}
