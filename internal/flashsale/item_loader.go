package flashsale

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sony/gobreaker"

	"campusmarket/internal/model"
	rediskey "campusmarket/pkg/redis"
)

// GetItem 读穿缓存：命中直接返回；未命中回源 DB 并回写缓存。
// 缓存异常只降级不报错，DB 异常才算基础设施错误。
func (s *Service) GetItem(ctx context.Context, id uint) (*model.FlashSaleItem, error) {
	if it := s.cachedItem(ctx, id); it != nil {
		return it, nil
	}

	// 合并后的回源由多个请求共享，不能跟随第一个调用方取消；loadItem 自带超时。
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.sf.Do(strconv.FormatUint(uint64(id), 10), func() (interface{}, error) {
		return s.loadItem(shared, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.FlashSaleItem), nil
}

func (s *Service) cachedItem(ctx context.Context, id uint) *model.FlashSaleItem {
	v, err := s.breaker.Execute(func() (interface{}, error) {
		cctx, cancel := s.storeCtx(ctx)
		defer cancel()
		it, err := s.cache.Get(cctx, id)
		if errors.Is(err, rediskey.ErrItemCodec) {
			// 旧版本或损坏的缓存按 miss 处理，不计入熔断失败。
			s.log.WithError(err).WithField("item_id", id).Warn("undecodable item cache entry")
			return nil, nil
		}
		return it, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			s.log.WithField("item_id", id).Debug("item cache skipped, breaker open")
		} else {
			s.log.WithError(err).WithField("item_id", id).Warn("item cache read failed, falling back to db")
		}
		return nil
	}
	it, _ := v.(*model.FlashSaleItem)
	return it
}

func (s *Service) loadItem(ctx context.Context, id uint) (*model.FlashSaleItem, error) {
	dctx, cancel := s.storeCtx(ctx)
	defer cancel()
	it, err := s.items.GetByID(dctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: load item %d: %v", ErrInfrastructure, id, err)
	}
	if it == nil {
		return nil, ErrNotFound
	}

	wctx, wcancel := s.storeCtx(ctx)
	defer wcancel()
	if err := s.cache.Set(wctx, it, s.itemCacheTTL(it, s.clock.Now())); err != nil {
		s.log.WithError(err).WithField("item_id", id).Warn("item cache write failed")
	}
	return it, nil
}
