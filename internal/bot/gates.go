package bot

import (
	"math"

	"spread-grid-bot-go/internal/metrics"
	"spread-grid-bot-go/internal/models"
	"spread-grid-bot-go/internal/notify"

	"go.uber.org/zap"
)

// legPlan 是一次开平仓中单条腿的下单计划
type legPlan struct {
	leg    models.Leg
	symbol string
	action models.Action
	volume float64
	price  float64
	lock   bool
}

// quotes 两腿的最新行情
type quotes struct {
	act models.Tick
	pas models.Tick
}

func (q quotes) of(leg models.Leg) models.Tick {
	if leg == models.LegActive {
		return q.act
	}
	return q.pas
}

func (b *SpreadArbBot) reject(g *models.Grid, gate, reason string, fields ...zap.Field) {
	metrics.GateRejections.WithLabelValues(gate).Inc()
	b.trace(g, "gate_rejected", append([]zap.Field{zap.String("gate", gate), zap.String("reason", reason)}, fields...)...)
}

// busy 单飞检查。V1 任一在途订单都会阻塞；V2 只看本网格。
// 在途标志由订单跟踪器计算，不单独维护。
func (b *SpreadArbBot) busy(g *models.Grid) bool {
	if b.cfg.Policy == models.PolicySimultaneous {
		return b.tracker.ActiveCount() > 0
	}
	return g.OrderStatus || b.tracker.ActiveCountForGrid(g.ID) > 0
}

// loadQuotes 读取两腿行情
func (b *SpreadArbBot) loadQuotes() (quotes, bool) {
	act, ok := b.market.Tick(b.cfg.ActiveSymbol)
	if !ok {
		return quotes{}, false
	}
	pas, ok := b.market.Tick(b.cfg.PassiveSymbol)
	if !ok {
		return quotes{}, false
	}
	return quotes{act: act, pas: pas}, true
}

// spreadQuote 两腿合成的价差报价
func (b *SpreadArbBot) spreadQuote(q quotes) models.SpreadQuote {
	return models.NewSpreadQuote(q.act, q.pas, b.cfg.ActVolRatio, b.cfg.PasVolRatio)
}

// marketablePrice 买单取卖一，卖单取买一
func marketablePrice(tick models.Tick, dir models.Direction) float64 {
	if dir == models.Long {
		return tick.Ask1()
	}
	return tick.Bid1()
}

// checkLiquidity 一档盘口数量必须覆盖下单数量
func (b *SpreadArbBot) checkLiquidity(g *models.Grid, q quotes, plans []legPlan) bool {
	for _, p := range plans {
		tick := q.of(p.leg)
		depth := tick.BidVolumes[0]
		if p.action.Direction == models.Long {
			depth = tick.AskVolumes[0]
		}
		if depth+eps < p.volume {
			b.reject(g, "liquidity", "盘口数量不足",
				zap.String("leg", string(p.leg)), zap.Float64("depth", depth), zap.Float64("volume", p.volume))
			return false
		}
	}
	return true
}

// checkLimitProximity 任一腿价格距离涨跌停不足 limit_guard_ticks 跳时拒绝
func (b *SpreadArbBot) checkLimitProximity(g *models.Grid, q quotes, plans []legPlan) bool {
	for _, p := range plans {
		tick := q.of(p.leg)
		guard := float64(b.cfg.LimitGuardTicks) * b.contract(p.symbol).PriceTick
		if p.action.Direction == models.Long && tick.UpLimit > 0 && tick.Ask1() >= tick.UpLimit-guard-eps {
			b.reject(g, "limit_proximity", "接近涨停",
				zap.String("leg", string(p.leg)), zap.Float64("ask", tick.Ask1()), zap.Float64("up_limit", tick.UpLimit))
			return false
		}
		if p.action.Direction == models.Short && tick.DownLimit > 0 && tick.Bid1() <= tick.DownLimit+guard+eps {
			b.reject(g, "limit_proximity", "接近跌停",
				zap.String("leg", string(p.leg)), zap.Float64("bid", tick.Bid1()), zap.Float64("down_limit", tick.DownLimit))
			return false
		}
	}
	return true
}

// priceEligible 价差价格必须不差于网格阈值。
// 做多价差按卖价(act.ask - pas.bid)成交，做空价差按买价(act.bid - pas.ask)成交。
func (b *SpreadArbBot) priceEligible(g *models.Grid, offset models.Offset, q quotes) (bool, float64, float64) {
	sq := b.spreadQuote(q)
	buySpread := (g.Direction == models.GridLong) == (offset == models.Open)
	if offset == models.Open {
		if buySpread {
			return sq.Ask <= g.OpenPrice+eps, sq.Ask, g.OpenPrice
		}
		return sq.Bid >= g.OpenPrice-eps, sq.Bid, g.OpenPrice
	}
	if buySpread {
		return sq.Ask <= g.ClosePrice+eps, sq.Ask, g.ClosePrice
	}
	return sq.Bid >= g.ClosePrice-eps, sq.Bid, g.ClosePrice
}

func (b *SpreadArbBot) checkPrice(g *models.Grid, offset models.Offset, q quotes) bool {
	ok, spread, threshold := b.priceEligible(g, offset, q)
	if !ok {
		b.reject(g, "price", "价差未达到阈值",
			zap.String("offset", string(offset)), zap.Float64("spread", spread), zap.Float64("threshold", threshold))
	}
	return ok
}

// legMargin 估算一条腿的保证金
func (b *SpreadArbBot) legMargin(leg models.Leg, tick models.Tick, volume float64) float64 {
	c := b.contract(b.cfg.LegSymbol(leg))
	price := tick.LastPrice
	if price <= 0 {
		price = (tick.Bid1() + tick.Ask1()) / 2
	}
	return volume * price * c.Size * c.MarginRate
}

// checkMargin V2 开仓时检查保证金占用上限:
// 当前占用% + max(主动腿保证金, 被动腿保证金)/权益 <= 上限
func (b *SpreadArbBot) checkMargin(g *models.Grid, q quotes) bool {
	if b.cfg.MarginCapPercent <= 0 || b.account == nil {
		return true
	}
	snap := b.account.Snapshot()
	if snap.Equity <= 0 {
		b.reject(g, "margin", "账户权益无效", zap.Float64("equity", snap.Equity))
		return false
	}
	act := b.legMargin(models.LegActive, q.act, b.cfg.LegVolume(models.LegActive, g.Volume))
	pas := b.legMargin(models.LegPassive, q.pas, b.cfg.LegVolume(models.LegPassive, g.Volume))
	projected := snap.OccupiedPercent + math.Max(act, pas)/snap.Equity*100
	if projected > b.cfg.MarginCapPercent+eps {
		b.reject(g, "margin", "保证金占用超过上限",
			zap.Float64("projected_percent", projected), zap.Float64("cap_percent", b.cfg.MarginCapPercent))
		if !b.marginAlerted {
			b.marginAlerted = true
			b.notifier.Notify(notify.LevelWarning, "保证金占用超限",
				b.cfg.StrategyName+" 开仓被保证金上限拒绝，网格 "+g.ID)
		}
		return false
	}
	b.marginAlerted = false
	return true
}

// checkPositions 平仓前检查账户两腿持仓是否足够。
// 不足时若合约所在交易所允许锁仓则改为锁仓单，否则拒绝。
func (b *SpreadArbBot) checkPositions(g *models.Grid, plans []legPlan) bool {
	if b.account == nil {
		return true
	}
	snap := b.account.Snapshot()
	for i := range plans {
		p := &plans[i]
		if p.action.Offset != models.Close {
			continue
		}
		h := snap.Holding(p.symbol)
		held := h.ShortPos
		if p.action.Direction == models.Short {
			held = h.LongPos
		}
		if held+eps >= p.volume {
			continue
		}
		if b.cfg.IsLockExchange(b.contract(p.symbol).Exchange) {
			p.lock = true
			b.trace(g, "lock_position", zap.String("leg", string(p.leg)), zap.Float64("held", held), zap.Float64("volume", p.volume))
			continue
		}
		b.reject(g, "position", "账户持仓不足以平仓",
			zap.String("leg", string(p.leg)), zap.Float64("held", held), zap.Float64("volume", p.volume))
		return false
	}
	return true
}
