package flashsale

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"campusmarket/internal/model"
	"campusmarket/internal/queue"
	rediskey "campusmarket/pkg/redis"
)

// PurchaseResult 抢购成功的返回。
type PurchaseResult struct {
	OrderID   uint
	RequestID string
}

// Purchase 一次抢购：时间窗 → 用户锁 → 扣库存 → 落订单。
// 先锁后扣，重复请求不会多占库存；失败路径在返回前同步完成补偿。
func (s *Service) Purchase(ctx context.Context, itemID uint, userID int64) (res PurchaseResult, err error) {
	started := time.Now()
	defer func() {
		s.metrics.Purchases.WithLabelValues(string(ReasonOf(err))).Inc()
		s.metrics.PurchaseLatency.Observe(time.Since(started).Seconds())
	}()

	if itemID == 0 || userID <= 0 {
		return PurchaseResult{}, fmt.Errorf("%w: item and user are required", ErrValidation)
	}

	it, err := s.GetItem(ctx, itemID)
	if err != nil {
		return PurchaseResult{}, err
	}
	now := s.clock.Now()
	if now.Before(it.StartTime) {
		return PurchaseResult{}, ErrNotStarted
	}
	if now.After(it.EndTime) {
		return PurchaseResult{}, ErrEnded
	}

	token := s.newToken()
	log := s.log.WithFields(logrus.Fields{"item_id": itemID, "user_id": userID, "request_id": token})

	lctx, lcancel := s.storeCtx(ctx)
	acquired, err := s.lock.TryAcquire(lctx, itemID, userID, token, s.keyTTL(it, now))
	lcancel()
	if err != nil {
		// SET NX 可能已落地只是回包超时；token 唯一，按 token 删除不会误删别人的锁。
		log.WithError(err).Warn("acquire user lock failed")
		s.releaseLock(ctx, log, itemID, userID, token)
		return PurchaseResult{}, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	if !acquired {
		return PurchaseResult{}, ErrDuplicateRequest
	}

	rctx, rcancel := s.storeCtx(ctx)
	_, err = s.ledger.Reserve(rctx, itemID)
	rcancel()
	switch {
	case err == nil:
	case errors.Is(err, rediskey.ErrSoldOut):
		// 售罄也释放锁：用户之后若有库存回补仍可再抢。
		s.releaseLock(ctx, log, itemID, userID, token)
		return PurchaseResult{}, ErrSoldOut
	default:
		log.WithError(err).Warn("reserve stock failed")
		s.releaseLock(ctx, log, itemID, userID, token)
		return PurchaseResult{}, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}

	order := &model.FlashSaleOrder{
		FlashSaleItemID: itemID,
		UserID:          userID,
		Status:          model.OrderStatusPreparing,
		RequestID:       token,
	}
	octx, ocancel := s.storeCtx(ctx)
	err = s.orders.Create(octx, order)
	ocancel()
	if err != nil {
		log.WithError(err).Error("persist order failed, compensating")
		s.releaseUnit(ctx, log, itemID, token)
		s.releaseLock(ctx, log, itemID, userID, token)
		return PurchaseResult{}, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}

	s.publishOrderCreated(ctx, log, it, order)
	log.WithField("order_id", order.ID).Info("flash sale order created")
	return PurchaseResult{OrderID: order.ID, RequestID: token}, nil
}

// compensationCtx 与调用方取消解耦：请求被取消时补偿仍要跑完。
func compensationCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
}

func (s *Service) releaseLock(ctx context.Context, log logrus.FieldLogger, itemID uint, userID int64, token string) {
	cctx, cancel := compensationCtx(ctx)
	defer cancel()
	if _, err := s.lock.Release(cctx, itemID, userID, token); err != nil {
		s.metrics.CompensationFail.WithLabelValues("lock_release").Inc()
		log.WithError(err).Error("release user lock failed")
	}
}

func (s *Service) releaseUnit(ctx context.Context, log logrus.FieldLogger, itemID uint, token string) {
	cctx, cancel := compensationCtx(ctx)
	defer cancel()
	if _, err := s.ledger.ReleaseOnce(cctx, itemID, token); err != nil {
		s.metrics.CompensationFail.WithLabelValues("stock_release").Inc()
		log.WithError(err).Error("give back reserved stock failed")
	}
}

// publishOrderCreated 尽力而为，失败只记日志，不影响下单结果。
func (s *Service) publishOrderCreated(ctx context.Context, log logrus.FieldLogger, it *model.FlashSaleItem, o *model.FlashSaleOrder) {
	ev := queue.OrderCreated{
		RequestID:  o.RequestID,
		OrderID:    o.ID,
		ItemID:     o.FlashSaleItemID,
		UserID:     o.UserID,
		FlashPrice: it.FlashPrice,
		CreatedAt:  o.CreatedAt,
	}
	ectx, cancel := s.storeCtx(context.WithoutCancel(ctx))
	defer cancel()
	if _, err := s.events.Append(ectx, ev); err != nil {
		log.WithError(err).Warn("append order event failed")
	}
}
