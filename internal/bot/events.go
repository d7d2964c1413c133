package bot

import (
	"fmt"

	"spread-grid-bot-go/internal/metrics"
	"spread-grid-bot-go/internal/models"

	"go.uber.org/zap"
)

// OnOrder 处理交易所订单状态回报
func (b *SpreadArbBot) OnOrder(ev models.OrderEvent) {
	rec, ok := b.tracker.Get(ev.OrderID)
	if !ok {
		if _, done := b.tracker.History(ev.OrderID); done {
			b.logger.Debug("忽略已终结订单的回报", zap.String("order_id", ev.OrderID), zap.String("status", string(ev.Status)))
		} else {
			b.logger.Warn("收到未知订单的回报", zap.String("order_id", ev.OrderID), zap.String("status", string(ev.Status)))
		}
		return
	}

	b.trace(nil, "order_update",
		zap.String("order_id", ev.OrderID),
		zap.String("grid_id", rec.GridID),
		zap.String("status", string(ev.Status)),
		zap.Float64("traded", ev.Traded))

	switch ev.Status {
	case models.StatusAllTraded:
		rec.Status = models.StatusAllTraded
		b.finishFilled(rec)
	case models.StatusCancelled:
		rec.Status = models.StatusCancelled
		b.recoverCancelled(rec, ev.Traded)
	case models.StatusRejected:
		side := "开仓"
		if rec.Offset == models.Close {
			side = "平仓"
		}
		b.logger.Error(side+"订单被拒绝",
			zap.String("order_id", rec.OrderID),
			zap.String("grid", rec.GridID),
			zap.String("symbol", rec.Symbol),
			zap.String("action", rec.Action().String()))
		rec.Status = models.StatusRejected
		b.recoverCancelled(rec, ev.Traded)
	case models.StatusSubmitting, models.StatusNotTraded, models.StatusPartTraded, models.StatusCancelling:
		// 本地已发出撤单时不回退状态，避免重复撤单
		if rec.Status != models.StatusCancelling {
			rec.Status = ev.Status
		}
		b.logger.Debug("订单状态更新", zap.String("order_id", rec.OrderID), zap.String("status", string(ev.Status)))
	default:
		b.logger.Warn("无法识别的订单状态", zap.String("order_id", rec.OrderID), zap.String("status", string(ev.Status)))
	}
}

// OnTrade 成交归属：更新网格快照中对应腿的成交均价和数量。
// 同一成交编号只处理一次；订单已进入历史时成交仍然归属。
func (b *SpreadArbBot) OnTrade(ev models.TradeEvent) {
	rec, ok := b.tracker.Lookup(ev.OrderID)
	if !ok {
		b.logger.Warn("收到未知订单的成交", zap.String("order_id", ev.OrderID), zap.String("trade_id", ev.TradeID))
		return
	}
	if !rec.MarkTrade(ev.TradeID) {
		b.logger.Warn("重复的成交回报", zap.String("order_id", ev.OrderID), zap.String("trade_id", ev.TradeID))
		return
	}
	rec.Traded += ev.Volume

	g, ok := b.table.Get(rec.GridID)
	if !ok {
		b.logger.Warn("成交对应的网格已不存在", zap.String("order_id", ev.OrderID), zap.String("grid", rec.GridID))
		return
	}

	b.attribute(g, rec, ev)
	b.persist()

	if _, active := b.tracker.Get(rec.OrderID); active && rec.Status == models.StatusAllTraded {
		b.finishFilled(rec)
		return
	}
	b.settle(g)
}

// attribute 按加权平均更新成交价格；平仓成交同时扣减该腿的剩余开仓数量。
// 超出名义数量或剩余数量为负时只标记异常，不做修正。
func (b *SpreadArbBot) attribute(g *models.Grid, rec *models.OrderRecord, ev models.TradeEvent) {
	fill := g.Snapshot.Fill(rec.Leg, rec.Offset)
	avg := models.WeightedAverage(fill.AvgPrice(), fill.Volume, ev.Price, ev.Volume, b.cfg.PricePrecision)
	fill.Price = &avg
	fill.Volume += ev.Volume

	open := g.Snapshot.Fill(rec.Leg, models.Open)
	if rec.Offset == models.Close {
		open.Volume -= ev.Volume
		if open.Volume < -eps {
			b.flag(g, "negative_remaining", fmt.Sprintf("%s 腿剩余待平数量为负: %v", rec.Leg, open.Volume))
		}
	} else if nominal := b.cfg.LegVolume(rec.Leg, g.Volume); open.Volume > nominal+eps {
		b.flag(g, "over_nominal", fmt.Sprintf("%s 腿开仓数量 %v 超过名义数量 %v", rec.Leg, open.Volume, nominal))
	}

	b.trace(g, "fill",
		zap.String("order_id", rec.OrderID),
		zap.String("trade_id", ev.TradeID),
		zap.String("leg", string(rec.Leg)),
		zap.String("offset", string(rec.Offset)),
		zap.Float64("price", ev.Price),
		zap.Float64("volume", ev.Volume),
		zap.Float64("avg_price", avg),
		zap.Float64("leg_volume", fill.Volume))
}

// flag 记录数据不一致
func (b *SpreadArbBot) flag(g *models.Grid, kind, detail string) {
	g.Flag(detail)
	metrics.FillAnomalies.WithLabelValues(kind).Inc()
	b.logger.Error("成交数据不一致", zap.String("grid", g.ID), zap.String("kind", kind), zap.String("detail", detail))
}

// finishFilled 全部成交且成交回报已到齐时终结订单，并在网格无在途订单时检查完成
func (b *SpreadArbBot) finishFilled(rec *models.OrderRecord) {
	if rec.Traded+eps < rec.Volume {
		// 成交回报尚未到齐，等待 OnTrade
		return
	}
	g := b.release(rec, "filled")
	if g == nil {
		return
	}
	b.persist()
	b.settle(g)
}

// settle 网格没有在途订单时检查完成。
// V1 未完成的网格回到空闲状态，下一次行情时只为缺少的数量重新下单。
func (b *SpreadArbBot) settle(g *models.Grid) {
	if g == nil || len(g.OrderIDs) > 0 {
		return
	}
	b.checkCompletion(g)
	if b.cfg.Policy == models.PolicySimultaneous && g.OrderStatus && !g.CloseStatus {
		g.OrderStatus = false
		b.persist()
	}
}

// release 将订单移入历史并从网格的在途订单中移除
func (b *SpreadArbBot) release(rec *models.OrderRecord, reason string) *models.Grid {
	b.tracker.Finish(rec.OrderID)
	b.journalOrder(rec, reason)
	g, ok := b.table.Get(rec.GridID)
	if !ok {
		return nil
	}
	g.RemoveOrderID(rec.OrderID)
	return g
}

// checkCompletion 两腿都达到目标时完成开仓或平仓，并更新价差持仓。
// 平仓完成后网格从网格表删除。
func (b *SpreadArbBot) checkCompletion(g *models.Grid) {
	act := g.Snapshot.OpenVolume(models.LegActive)
	pas := g.Snapshot.OpenVolume(models.LegPassive)

	if !g.OpenStatus {
		if act <= eps && pas <= eps && g.Snapshot.ActClose.Volume+g.Snapshot.PasClose.Volume > eps {
			b.discardUnwound(g)
			return
		}
		if act+eps < b.cfg.LegVolume(models.LegActive, g.Volume) || pas+eps < b.cfg.LegVolume(models.LegPassive, g.Volume) {
			return
		}
		g.OpenStatus = true
		g.OrderStatus = false
		g.RetryCount = 0
		b.ledger.OpenPos(g.Direction, g.Volume)
		b.persist()
		b.logger.Info("网格开仓完成",
			zap.String("grid", g.ID),
			zap.String("direction", string(g.Direction)),
			zap.Float64("act_price", g.Snapshot.ActOpen.AvgPrice()),
			zap.Float64("pas_price", g.Snapshot.PasOpen.AvgPrice()),
			zap.Float64("pos", b.ledger.Pos()))
		return
	}

	if g.CloseStatus || act > eps || pas > eps {
		return
	}
	g.CloseStatus = true
	g.OrderStatus = false
	b.ledger.ClosePos(g.Direction, g.Volume)
	if err := b.ledger.Check(); err != nil {
		b.logger.Error("持仓校验失败", zap.Error(err))
	}
	b.table.Remove(g.ID)
	b.persist()
	b.logger.Info("网格平仓完成",
		zap.String("grid", g.ID),
		zap.String("direction", string(g.Direction)),
		zap.Float64("act_close_price", g.Snapshot.ActClose.AvgPrice()),
		zap.Float64("pas_close_price", g.Snapshot.PasClose.AvgPrice()),
		zap.Float64("pos", b.ledger.Pos()))
}

// discardUnwound 未完成开仓的网格已平掉所有单腿成交，不经过价差持仓直接删除
func (b *SpreadArbBot) discardUnwound(g *models.Grid) {
	g.CloseStatus = true
	g.OrderStatus = false
	b.table.Remove(g.ID)
	b.persist()
	b.logger.Warn("未完成开仓的网格已平掉单腿持仓并删除",
		zap.String("grid", g.ID),
		zap.String("direction", string(g.Direction)),
		zap.Float64("act_close_volume", g.Snapshot.ActClose.Volume),
		zap.Float64("pas_close_volume", g.Snapshot.PasClose.Volume))
}
