package bot

import (
	"fmt"
	"math"

	"spread-grid-bot-go/internal/metrics"
	"spread-grid-bot-go/internal/models"
	"spread-grid-bot-go/internal/notify"

	"go.uber.org/zap"
)

// recoverCancelled 撤单/拒单后的恢复流程，开仓和平仓共用，按 offset 区分日志。
//
//  1. 剩余数量 <= 0: 停止跟踪并告警
//  2. 重试次数(递增后) > max_retry: 放弃该订单并告警，网格保持当前状态等待人工处理
//  3. FAK: 以追价重新提交剩余数量；价格超出涨跌停则放弃本次重提
//  4. LIMIT (V1): 只标记为已撤销，交给撤单监督的重挂流程
//
// V2 不区分订单类型，撤单后一律移出跟踪，由对账循环补单。
func (b *SpreadArbBot) recoverCancelled(rec *models.OrderRecord, evTraded float64) {
	traded := math.Max(rec.Traded, evTraded)
	remaining := rec.Volume - traded
	stage := "开仓"
	if rec.Offset == models.Close {
		stage = "平仓"
	}

	if remaining <= eps {
		g := b.release(rec, "cancelled_filled")
		b.persist()
		b.notifier.Notify(notify.LevelInfo, stage+"撤单无剩余",
			fmt.Sprintf("订单 %s 撤单时已无剩余数量，停止跟踪", rec.OrderID))
		b.settle(g)
		return
	}

	if b.cfg.Policy == models.PolicyTargetVolume {
		b.recoverTargetVolume(rec, stage)
		return
	}

	retry := rec.RetryCount + 1
	if retry > b.cfg.MaxRetry {
		b.abandon(rec, stage, retry)
		return
	}
	rec.RetryCount = retry

	if rec.Kind != models.KindFAK {
		// 保持在途，等待撤单监督处理
		b.logger.Info(stage+"限价单已撤销，等待撤单监督处理",
			zap.String("order_id", rec.OrderID), zap.Int("retry", retry), zap.Float64("remaining", remaining))
		return
	}

	b.chase(rec, remaining)
}

// recoverTargetVolume V2: 撤单计入网格的重试次数，超过上限时网格挂起并告警
func (b *SpreadArbBot) recoverTargetVolume(rec *models.OrderRecord, stage string) {
	g := b.release(rec, "cancelled")
	if g == nil {
		return
	}
	g.RetryCount++
	if g.RetryCount > b.cfg.MaxRetry {
		g.Stalled = true
		metrics.RetryExhausted.WithLabelValues(string(rec.Offset)).Inc()
		b.logger.Error(stage+"重试次数耗尽，网格挂起",
			zap.String("grid", g.ID), zap.String("order_id", rec.OrderID), zap.Int("retry", g.RetryCount))
		b.notifier.Notify(notify.LevelCritical, stage+"重试耗尽",
			fmt.Sprintf("网格 %s 撤单 %d 次，已停止补单，请人工处理", g.ID, g.RetryCount))
	}
	b.persist()
}

// abandon 重试耗尽：移出跟踪、持久化、告警
func (b *SpreadArbBot) abandon(rec *models.OrderRecord, stage string, retry int) {
	g := b.release(rec, "abandoned")
	if g != nil {
		g.Stalled = true
	}
	b.persist()
	metrics.RetryExhausted.WithLabelValues(string(rec.Offset)).Inc()
	b.logger.Error(stage+"订单重试次数耗尽，已放弃",
		zap.String("order_id", rec.OrderID),
		zap.String("grid", rec.GridID),
		zap.String("symbol", rec.Symbol),
		zap.Int("retry", retry),
		zap.Float64("remaining", rec.Remaining()))
	b.notifier.Notify(notify.LevelCritical, stage+"重试耗尽",
		fmt.Sprintf("网格 %s 订单 %s %s %s 重试 %d 次后放弃，剩余 %v",
			rec.GridID, rec.OrderID, rec.Symbol, rec.Action(), rec.RetryCount, rec.Remaining()))
}

// chase 以追价重新提交剩余数量。成功后旧订单移入历史；
// 无法定价或提交失败时旧订单保持已撤销状态，等待下一轮定时处理。
func (b *SpreadArbBot) chase(rec *models.OrderRecord, remaining float64) bool {
	g, ok := b.table.Get(rec.GridID)
	if !ok {
		b.release(rec, "orphaned")
		return false
	}
	price, ok := b.chasePrice(rec)
	if !ok {
		b.logger.Warn("追价超出涨跌停，放弃本次重新提交",
			zap.String("order_id", rec.OrderID), zap.String("symbol", rec.Symbol), zap.Float64("remaining", remaining))
		return false
	}

	plan := legPlan{
		leg:    rec.Leg,
		symbol: rec.Symbol,
		action: rec.Action(),
		volume: remaining,
		price:  price,
		lock:   rec.Lock,
	}
	if _, err := b.submit(g, plan, rec.Kind, rec.RetryCount); err != nil {
		return false
	}
	b.release(rec, "retried")
	b.persist()
	return true
}

// chasePrice 计算追价:
// 买: max(卖一, 最新价, 原价) + 一跳，不超过涨停价；已在涨停价及以上则拒绝。
// 卖: min(买一, 最新价, 原价) - 一跳，不低于跌停价；已在跌停价及以下则拒绝。
func (b *SpreadArbBot) chasePrice(rec *models.OrderRecord) (float64, bool) {
	tick, ok := b.market.Tick(rec.Symbol)
	if !ok {
		return 0, false
	}
	priceTick := b.contract(rec.Symbol).PriceTick

	if rec.Direction == models.Long {
		base := maxPositive(tick.Ask1(), tick.LastPrice, rec.Price)
		if tick.UpLimit > 0 && base >= tick.UpLimit-eps {
			return 0, false
		}
		price := base + priceTick
		if tick.UpLimit > 0 {
			price = math.Min(price, tick.UpLimit)
		}
		return models.RoundToTick(price, priceTick), true
	}

	base := minPositive(tick.Bid1(), tick.LastPrice, rec.Price)
	if base <= 0 || (tick.DownLimit > 0 && base <= tick.DownLimit+eps) {
		return 0, false
	}
	price := base - priceTick
	if tick.DownLimit > 0 {
		price = math.Max(price, tick.DownLimit)
	}
	return models.RoundToTick(price, priceTick), true
}

// reopenPrice 重挂价格：在原价基础上改善一跳，受涨跌停限制
func (b *SpreadArbBot) reopenPrice(rec *models.OrderRecord) float64 {
	priceTick := b.contract(rec.Symbol).PriceTick
	tick, _ := b.market.Tick(rec.Symbol)
	if rec.Direction == models.Long {
		price := rec.Price + priceTick
		if tick.UpLimit > 0 {
			price = math.Min(price, tick.UpLimit)
		}
		return models.RoundToTick(price, priceTick)
	}
	price := rec.Price - priceTick
	if tick.DownLimit > 0 {
		price = math.Max(price, tick.DownLimit)
	}
	return models.RoundToTick(price, priceTick)
}

func maxPositive(values ...float64) float64 {
	var m float64
	for _, v := range values {
		if v > m {
			m = v
		}
	}
	return m
}

func minPositive(values ...float64) float64 {
	var m float64
	for _, v := range values {
		if v > 0 && (m == 0 || v < m) {
			m = v
		}
	}
	return m
}
