package bot

import (
	"spread-grid-bot-go/internal/metrics"
	"spread-grid-bot-go/internal/models"

	"go.uber.org/zap"
)

// EnterLongSpread 正套开仓: 买主动腿、卖空被动腿。返回提交的订单号，任何检查失败返回空。
func (b *SpreadArbBot) EnterLongSpread(g *models.Grid, force bool) []string {
	return b.trade(g, models.GridLong, models.Open, force)
}

// EnterShortSpread 反套开仓: 卖空主动腿、买被动腿
func (b *SpreadArbBot) EnterShortSpread(g *models.Grid, force bool) []string {
	return b.trade(g, models.GridShort, models.Open, force)
}

// ExitLongSpread 正套平仓: 卖平主动腿、买平被动腿
func (b *SpreadArbBot) ExitLongSpread(g *models.Grid, force bool) []string {
	return b.trade(g, models.GridLong, models.Close, force)
}

// ExitShortSpread 反套平仓: 买平主动腿、卖平被动腿
func (b *SpreadArbBot) ExitShortSpread(g *models.Grid, force bool) []string {
	return b.trade(g, models.GridShort, models.Close, force)
}

// trade 按顺序执行下单前检查，然后提交腿单。
// force 跳过流动性、涨跌停、价格和保证金检查，但不跳过交易开关和重试上限。
func (b *SpreadArbBot) trade(g *models.Grid, dir models.GridDirection, offset models.Offset, force bool) []string {
	if g.Direction != dir {
		b.logger.Error("网格方向与操作不符", zap.String("grid", g.ID), zap.String("direction", string(g.Direction)), zap.String("want", string(dir)))
		return nil
	}
	b.trace(g, "evaluate", zap.String("offset", string(offset)), zap.Bool("force", force))

	switch {
	case offset == models.Open && g.OpenStatus:
		b.reject(g, "stage", "网格已开仓")
		return nil
	case offset == models.Close && (g.CloseStatus || (!g.OpenStatus && !b.unwinding(g))):
		b.reject(g, "stage", "网格不处于可平仓阶段")
		return nil
	case g.Stalled:
		b.reject(g, "stalled", "网格重试耗尽，等待人工处理")
		return nil
	case b.busy(g):
		b.reject(g, "single_flight", "已有在途订单")
		return nil
	case !b.trading:
		b.reject(g, "trading_disabled", "交易已暂停")
		return nil
	case offset == models.Open && b.flattening:
		b.reject(g, "force_flatten", "强制平仓模式下禁止开仓")
		return nil
	}

	q, ok := b.loadQuotes()
	if !ok {
		b.reject(g, "market", "缺少行情")
		return nil
	}

	legs := []legPlan{
		b.planLeg(g, models.LegActive, offset, q),
		b.planLeg(g, models.LegPassive, offset, q),
	}

	if !force {
		if !b.checkLiquidity(g, q, legs) || !b.checkLimitProximity(g, q, legs) || !b.checkPrice(g, offset, q) {
			return nil
		}
		if offset == models.Open && b.cfg.Policy == models.PolicyTargetVolume && !b.checkMargin(g, q) {
			return nil
		}
	}

	// V1 两腿同时下单；V2 只下先行腿，另一条腿由对账循环补齐。
	// 单腿平仓时两条腿各自平掉已成交的数量。
	plans := legs
	if b.cfg.Policy == models.PolicyTargetVolume && !b.unwinding(g) {
		lead := b.cfg.LeadLegOpen
		if offset == models.Close {
			lead = b.cfg.LeadLegClose
		}
		plans = []legPlan{legs[0]}
		if lead == models.LegPassive {
			plans = []legPlan{legs[1]}
		}
	}
	plans = nonEmpty(plans)

	if offset == models.Close && !b.checkPositions(g, plans) {
		return nil
	}

	var ids []string
	for _, p := range plans {
		legIDs, err := b.submit(g, p, b.cfg.OrderKind, 0)
		if err != nil {
			// 已提交的腿保持在途，由撤单/重试流程处理
			break
		}
		ids = append(ids, legIDs...)
	}
	if len(ids) == 0 && len(plans) > 0 {
		return nil
	}

	g.OrderStatus = true
	g.OrderTime = b.now()
	if offset == models.Open {
		g.Snapshot.SetTargets(b.cfg.LegVolume(models.LegActive, g.Volume), b.cfg.LegVolume(models.LegPassive, g.Volume))
	} else {
		g.Snapshot.SetTargets(0, 0)
	}
	b.persist()
	b.logger.Info("网格下单",
		zap.String("grid", g.ID),
		zap.String("direction", string(g.Direction)),
		zap.String("offset", string(offset)),
		zap.Strings("order_ids", ids),
		zap.Bool("force", force))
	return ids
}

func nonEmpty(plans []legPlan) []legPlan {
	out := plans[:0:0]
	for _, p := range plans {
		if p.volume > eps {
			out = append(out, p)
		}
	}
	return out
}

// planLeg 计算某条腿在当前阶段还需要成交的数量和可成交价格
func (b *SpreadArbBot) planLeg(g *models.Grid, leg models.Leg, offset models.Offset, q quotes) legPlan {
	action := models.LegAction(g.Direction, offset, leg)
	symbol := b.cfg.LegSymbol(leg)
	volume := g.Snapshot.OpenVolume(leg)
	if offset == models.Open {
		volume = b.cfg.LegVolume(leg, g.Volume) - volume
	}
	return legPlan{
		leg:    leg,
		symbol: symbol,
		action: action,
		volume: volume,
		price:  models.RoundToTick(marketablePrice(q.of(leg), action.Direction), b.contract(symbol).PriceTick),
	}
}

// submit 提交一条腿并登记到订单跟踪器和网格
func (b *SpreadArbBot) submit(g *models.Grid, p legPlan, kind models.OrderKind, retry int) ([]string, error) {
	req := models.OrderRequest{
		Symbol:    p.symbol,
		Direction: p.action.Direction,
		Offset:    p.action.Offset,
		Volume:    p.volume,
		Price:     p.price,
		Kind:      kind,
		Lock:      p.lock,
	}
	ids, err := b.gateway.Submit(req)
	if err != nil {
		b.logger.Error("下单失败",
			zap.String("grid", g.ID),
			zap.String("leg", string(p.leg)),
			zap.String("action", p.action.String()),
			zap.Float64("volume", p.volume),
			zap.Float64("price", p.price),
			zap.Error(err))
		return nil, err
	}

	now := b.now()
	// 锁仓拆单返回多个订单号时按数量平均分配
	volume := p.volume
	if len(ids) > 1 {
		volume = p.volume / float64(len(ids))
	}
	for _, id := range ids {
		b.tracker.Add(&models.OrderRecord{
			OrderID:    id,
			GridID:     g.ID,
			Symbol:     p.symbol,
			Leg:        p.leg,
			Direction:  p.action.Direction,
			Offset:     p.action.Offset,
			Kind:       kind,
			Volume:     volume,
			Price:      p.price,
			Lock:       p.lock,
			RetryCount: retry,
			SubmitTime: now,
			Status:     models.StatusSubmitting,
		})
		g.AddOrderID(id)
		metrics.OrdersSubmitted.WithLabelValues(string(p.leg), p.action.String()).Inc()
	}
	b.trace(g, "submitted",
		zap.String("leg", string(p.leg)),
		zap.String("action", p.action.String()),
		zap.Float64("volume", p.volume),
		zap.Float64("price", p.price),
		zap.Bool("lock", p.lock),
		zap.Int("retry", retry),
		zap.Strings("order_ids", ids))
	return ids, nil
}
