package flashsale

import (
	"context"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// ReconcileReport 一轮对账的汇总。
type ReconcileReport struct {
	Checked  int
	Reseeded int
	Drifted  int
	Failed   int
}

// Reconcile 遍历未结束的场次，用 total_stock - 已落库订单数 校验 Redis 账本：
//   - 账本不存在：SET NX 补种为期望值
//   - 账本存在但不一致：记录漂移，不自动覆盖（在途扣减会让账本暂时低于期望值）
func (s *Service) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var rep ReconcileReport
	now := s.clock.Now()

	dctx, cancel := s.storeCtx(ctx)
	items, err := s.items.ListEndingAfter(dctx, now)
	cancel()
	if err != nil {
		return rep, err
	}
	if len(items) == 0 {
		return rep, nil
	}

	ids := make([]uint, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}
	rctx, rcancel := s.storeCtx(ctx)
	ledger, err := s.ledger.Remaining(rctx, ids)
	rcancel()
	if err != nil {
		return rep, err
	}

	for i := range items {
		it := &items[i]
		rep.Checked++
		log := s.log.WithField("item_id", it.ID)

		octx, ocancel := s.storeCtx(ctx)
		orders, err := s.orders.CountByItem(octx, it.ID)
		ocancel()
		if err != nil {
			rep.Failed++
			log.WithError(err).Warn("count orders failed")
			continue
		}
		expected := it.TotalStock - orders
		if expected < 0 {
			expected = 0
		}

		current, ok := ledger[it.ID]
		if !ok {
			sctx, scancel := s.storeCtx(ctx)
			seeded, err := s.ledger.SeedIfAbsent(sctx, it.ID, expected, s.keyTTL(it, now))
			scancel()
			if err != nil {
				rep.Failed++
				log.WithError(err).Warn("reseed stock ledger failed")
				continue
			}
			if seeded {
				rep.Reseeded++
				s.metrics.LedgerReseeded.Inc()
				log.WithField("stock", expected).Warn("stock ledger missing, reseeded")
			}
			s.metrics.LedgerDrift.WithLabelValues(strconv.FormatUint(uint64(it.ID), 10)).Set(0)
			continue
		}

		drift := expected - current
		s.metrics.LedgerDrift.WithLabelValues(strconv.FormatUint(uint64(it.ID), 10)).Set(float64(drift))
		if drift != 0 {
			rep.Drifted++
			log.WithFields(logrus.Fields{"expected": expected, "ledger": current, "orders": orders}).
				Warn("stock ledger drift")
		}
	}
	return rep, nil
}

// RunReconciler 按 interval 周期对账，直到 ctx 取消。
func (s *Service) RunReconciler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rep, err := s.Reconcile(ctx)
			if err != nil {
				s.log.WithError(err).Warn("reconcile sweep failed")
				continue
			}
			s.log.WithFields(logrus.Fields{
				"checked":  rep.Checked,
				"reseeded": rep.Reseeded,
				"drifted":  rep.Drifted,
				"failed":   rep.Failed,
			}).Debug("reconcile sweep done")
		}
	}
}
