package bot

import (
	"time"

	"spread-grid-bot-go/internal/metrics"
	"spread-grid-bot-go/internal/models"

	"go.uber.org/zap"
)

// CancelStaleOrders 撤单监督，返回本轮发出的撤单请求数量。
//
// 未成交(或 force 时部分成交)的限价单超过 cancel_seconds 或 force 时发出撤单并标记为撤单中，
// 撤单中的订单不会重复撤单。撤单调用失败时乐观地视为已撤销，并走撤单恢复流程。
// 已撤销的订单移入历史；reopen 时以改善一跳的价格重新挂单。
// V1 中追价失败而保留的 FAK 订单在这里再次尝试追价。
func (b *SpreadArbBot) CancelStaleOrders(now time.Time, force, reopen bool) int {
	threshold := time.Duration(b.cfg.CancelSeconds) * time.Second
	requested := 0

	for _, rec := range b.tracker.Active() {
		switch rec.Status {
		case models.StatusCancelled, models.StatusRejected:
			b.settleCancelled(rec, reopen)

		case models.StatusSubmitting, models.StatusNotTraded, models.StatusPartTraded:
			if rec.Kind != models.KindLimit {
				continue
			}
			if rec.Status == models.StatusPartTraded && !force {
				continue
			}
			if !force && now.Sub(rec.SubmitTime) < threshold {
				continue
			}
			rec.Status = models.StatusCancelling
			requested++
			metrics.CancelsRequested.Inc()
			b.trace(nil, "cancel_requested",
				zap.String("order_id", rec.OrderID),
				zap.String("grid_id", rec.GridID),
				zap.Duration("age", now.Sub(rec.SubmitTime)),
				zap.Bool("force", force))
			if !b.gateway.Cancel(rec.OrderID) {
				// 交易所状态最终一致，避免订单卡在撤单中
				b.logger.Warn("撤单请求失败，按已撤销处理", zap.String("order_id", rec.OrderID))
				rec.Status = models.StatusCancelled
				// 与收到撤单回报一样计入重试次数
				b.recoverCancelled(rec, rec.Traded)
			}

		case models.StatusCancelling:
			// 已发出撤单，等待回报
		}
	}
	return requested
}

// settleCancelled 处理仍在跟踪中的已撤销订单
func (b *SpreadArbBot) settleCancelled(rec *models.OrderRecord, reopen bool) {
	remaining := rec.Remaining()
	if !b.trading {
		remaining = 0
	}
	if reopen && remaining > eps {
		b.reopen(rec, remaining)
		return
	}
	if rec.Kind == models.KindFAK && remaining > eps && b.cfg.Policy == models.PolicySimultaneous {
		b.chase(rec, remaining)
		return
	}
	g := b.release(rec, "cancelled")
	b.persist()
	b.settle(g)
}

// reopen 以改善一跳的价格重新挂单，旧订单移入历史
func (b *SpreadArbBot) reopen(rec *models.OrderRecord, remaining float64) {
	g, ok := b.table.Get(rec.GridID)
	if !ok {
		b.release(rec, "orphaned")
		return
	}
	plan := legPlan{
		leg:    rec.Leg,
		symbol: rec.Symbol,
		action: rec.Action(),
		volume: remaining,
		price:  b.reopenPrice(rec),
		lock:   rec.Lock,
	}
	b.release(rec, "reopened")
	if _, err := b.submit(g, plan, rec.Kind, rec.RetryCount); err != nil {
		b.logger.Error("重新挂单失败", zap.String("order_id", rec.OrderID), zap.Error(err))
	}
	b.persist()
}
