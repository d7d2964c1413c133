package bot

import (
	"math"

	"spread-grid-bot-go/internal/models"

	"go.uber.org/zap"
)

// Reconcile 对账循环 (V2)：扫描下单中的网格，比较两腿按比例折算后的成交数量。
//
// 两腿相等且未达目标时，价格满足阈值则提交先行腿；
// 两腿不等时补齐落后的一条腿，不看价格，尽快消除单腿敞口。
// 平仓阶段同理，只是目标为零。网格有在途订单时不做任何操作。
func (b *SpreadArbBot) Reconcile() {
	if b.cfg.Policy != models.PolicyTargetVolume {
		return
	}
	for _, g := range b.table.Active() {
		if g.Stalled || b.tracker.ActiveCountForGrid(g.ID) > 0 {
			continue
		}
		b.reconcileGrid(g)
	}
}

func (b *SpreadArbBot) reconcileGrid(g *models.Grid) {
	offset := g.Stage()
	act := g.Snapshot.OpenVolume(models.LegActive) / b.cfg.ActVolRatio
	pas := g.Snapshot.OpenVolume(models.LegPassive) / b.cfg.PasVolRatio

	target := g.Volume
	lead := b.cfg.LeadLegOpen
	if offset == models.Close {
		target = 0
		lead = b.cfg.LeadLegClose
	}

	balanced := math.Abs(act-pas) <= eps
	if balanced && math.Abs(act-target) <= eps {
		b.checkCompletion(g)
		return
	}
	if !b.trading {
		return
	}
	if balanced {
		b.reconcileLead(g, offset, lead)
		return
	}

	// 开仓阶段成交少的腿落后；平仓阶段剩余多的腿落后
	lag := models.LegActive
	if (offset == models.Open) == (pas < act) {
		lag = models.LegPassive
	}
	diff := math.Abs(act-pas) * b.cfg.LegRatio(lag)
	b.reconcileLeg(g, offset, lag, diff, "catch_up")
}

// reconcileLead 两腿持平时推进先行腿，需要满足价格条件（强制平仓时除外）
func (b *SpreadArbBot) reconcileLead(g *models.Grid, offset models.Offset, lead models.Leg) {
	if offset == models.Open && b.flattening {
		return
	}
	q, ok := b.loadQuotes()
	if !ok {
		return
	}
	force := offset == models.Close && b.flattening
	if !force {
		if ok, spread, threshold := b.priceEligible(g, offset, q); !ok {
			b.trace(g, "reconcile_wait_price", zap.Float64("spread", spread), zap.Float64("threshold", threshold))
			return
		}
	}
	plan := b.planLeg(g, lead, offset, q)
	if plan.volume <= eps {
		return
	}
	if !force && !b.checkLimitProximity(g, q, []legPlan{plan}) {
		return
	}
	b.reconcileSubmit(g, plan, "lead")
}

// reconcileLeg 提交指定腿的补单
func (b *SpreadArbBot) reconcileLeg(g *models.Grid, offset models.Offset, leg models.Leg, volume float64, reason string) {
	q, ok := b.loadQuotes()
	if !ok {
		return
	}
	plan := b.planLeg(g, leg, offset, q)
	plan.volume = volume
	b.reconcileSubmit(g, plan, reason)
}

func (b *SpreadArbBot) reconcileSubmit(g *models.Grid, plan legPlan, reason string) {
	plans := []legPlan{plan}
	if plan.action.Offset == models.Close && !b.checkPositions(g, plans) {
		return
	}
	b.trace(g, "reconcile",
		zap.String("reason", reason),
		zap.String("leg", string(plan.leg)),
		zap.Float64("volume", plan.volume),
		zap.Float64("act_volume", g.Snapshot.OpenVolume(models.LegActive)),
		zap.Float64("pas_volume", g.Snapshot.OpenVolume(models.LegPassive)))
	if _, err := b.submit(g, plans[0], b.cfg.OrderKind, 0); err != nil {
		return
	}
	g.OrderTime = b.now()
	b.persist()
}
