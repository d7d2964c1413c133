package bot

import (
	"testing"

	"spread-grid-bot-go/internal/gridtable"
	"spread-grid-bot-go/internal/metrics"
	"spread-grid-bot-go/internal/models"
	"spread-grid-bot-go/internal/notify"
	"spread-grid-bot-go/internal/persistence"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// openLongGrid 正套网格完成开仓
func openLongGrid(t *testing.T, h *harness, id string) *models.Grid {
	t.Helper()
	g := h.addGrid(id, models.GridLong, 1, 5.0, 3.0)
	ids := h.bot.EnterLongSpread(g, false)
	require.Len(t, ids, 2)
	h.fill(t, ids[0], 105)
	h.fill(t, ids[1], 100)
	require.True(t, g.OpenStatus)
	return g
}

func TestEnterLongSpreadEndToEnd(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindFAK))
	// 正套开仓看价差卖价 (主动腿卖一 105 - 被动腿买一 100 = 5)，不高于阈值 5.0 才下单。
	// 价差买价高于阈值并不足以开仓，取舍见 DESIGN.md 的开放问题第 3 条。
	g := h.addGrid("g1", models.GridLong, 1, 5.0, 3.0)

	ids := h.bot.EnterLongSpread(g, false)
	require.Len(t, ids, 2)
	assert.True(t, g.OrderStatus)
	assert.Equal(t, ids, g.OrderIDs)
	assert.Equal(t, 2, h.bot.Tracker().ActiveCount())

	act, pas := h.gw.submits[0], h.gw.submits[1]
	assert.Equal(t, "ACT", act.Symbol)
	assert.Equal(t, models.ActionBuy, act.Action())
	assert.Equal(t, 105.0, act.Price)
	assert.Equal(t, "PAS", pas.Symbol)
	assert.Equal(t, models.ActionShort, pas.Action())
	assert.Equal(t, 100.0, pas.Price)
	assert.Equal(t, models.KindFAK, act.Kind)

	h.fill(t, ids[0], 105)
	assert.False(t, g.OpenStatus, "one leg filled is not an open grid")
	assert.Equal(t, 0.0, h.bot.Ledger().LongPos)

	h.fill(t, ids[1], 100)
	assert.True(t, g.OpenStatus)
	assert.False(t, g.OrderStatus)
	assert.Empty(t, g.OrderIDs)
	assert.Equal(t, 1.0, h.bot.Ledger().LongPos)
	assert.Equal(t, 1.0, h.bot.Ledger().Pos())
	assert.Equal(t, 105.0, g.Snapshot.ActOpen.AvgPrice())
	assert.Equal(t, 100.0, g.Snapshot.PasOpen.AvgPrice())
	assert.Equal(t, 0, h.bot.Tracker().ActiveCount())
	assert.Equal(t, "filled", h.journal.reasons[ids[0]])
}

func TestEnterShortSpreadLegMapping(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindFAK))
	g := h.addGrid("s1", models.GridShort, 2, 3.0, 1.0)

	ids := h.bot.EnterShortSpread(g, false)
	require.Len(t, ids, 2)
	assert.Equal(t, models.ActionShort, h.gw.submits[0].Action())
	assert.Equal(t, 104.0, h.gw.submits[0].Price)
	assert.Equal(t, models.ActionBuy, h.gw.submits[1].Action())
	assert.Equal(t, 101.0, h.gw.submits[1].Price)
	assert.Equal(t, 2.0, h.gw.submits[0].Volume)

	h.fill(t, ids[0], 104)
	h.fill(t, ids[1], 101)
	assert.Equal(t, -2.0, h.bot.Ledger().ShortPos)
	assert.Nil(t, h.bot.EnterLongSpread(g, false), "direction mismatch")
}

func TestEntryPriceGate(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindFAK))
	g := h.addGrid("g1", models.GridLong, 1, 4.0, 3.0)
	before := testutil.ToFloat64(metrics.GateRejections.WithLabelValues("price"))

	assert.Nil(t, h.bot.EnterLongSpread(g, false))
	assert.Empty(t, h.gw.submits)
	assert.False(t, g.OrderStatus)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.GateRejections.WithLabelValues("price")))

	assert.Len(t, h.bot.EnterLongSpread(g, true), 2, "force bypasses the price gate")
}

func TestSingleFlightGlobalInSimultaneousPolicy(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindFAK))
	a := h.addGrid("a", models.GridLong, 1, 5.0, 3.0)
	b := h.addGrid("b", models.GridLong, 1, 6.0, 3.0)

	require.Len(t, h.bot.EnterLongSpread(a, false), 2)
	assert.Nil(t, h.bot.EnterLongSpread(b, false))
	assert.Nil(t, h.bot.EnterLongSpread(b, true), "force never bypasses single flight")
	assert.Len(t, h.gw.submits, 2)
}

func TestTradingDisabledRefusesForcedEntry(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindFAK))
	g := h.addGrid("g1", models.GridLong, 1, 5.0, 3.0)
	h.bot.SetTrading(false)

	assert.Nil(t, h.bot.EnterLongSpread(g, true))
	assert.Empty(t, h.gw.submits)
}

func TestLiquidityGate(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindFAK))
	pas := h.market["PAS"]
	pas.BidVolumes[0] = 0.5
	h.market["PAS"] = pas
	g := h.addGrid("g1", models.GridLong, 1, 5.0, 3.0)

	assert.Nil(t, h.bot.EnterLongSpread(g, false))
	assert.Empty(t, h.gw.submits)
}

func TestLimitProximityGate(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindFAK))
	act := h.market["ACT"]
	act.UpLimit = 114 // ask 105 距离涨停 9 跳
	h.market["ACT"] = act
	g := h.addGrid("g1", models.GridLong, 1, 5.0, 3.0)

	assert.Nil(t, h.bot.EnterLongSpread(g, false))

	act.UpLimit = 116
	h.market["ACT"] = act
	assert.Len(t, h.bot.EnterLongSpread(g, false), 2)
}

func TestSubmissionFailureCommitsNothing(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindFAK))
	h.gw.fail = true
	g := h.addGrid("g1", models.GridLong, 1, 5.0, 3.0)

	assert.Nil(t, h.bot.EnterLongSpread(g, false))
	assert.False(t, g.OrderStatus)
	assert.Equal(t, 0, h.bot.Tracker().ActiveCount())
}

func TestOpenCancelRetriesThenAbandons(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindFAK))
	g := h.addGrid("g1", models.GridLong, 1, 5.0, 3.0)
	exhausted := testutil.ToFloat64(metrics.RetryExhausted.WithLabelValues("OPEN"))

	ids := h.bot.EnterLongSpread(g, false)
	require.Len(t, ids, 2)
	h.fill(t, ids[0], 105)

	pending := ids[1]
	for i := 1; i <= 10; i++ {
		h.cancel(pending, 0)
		require.Len(t, h.gw.submits, 2+i, "cancellation %d should resubmit", i)
		pending = h.gw.lastID()

		rec, ok := h.bot.Tracker().Get(pending)
		require.True(t, ok)
		assert.Equal(t, i, rec.RetryCount)
		assert.Equal(t, 100.0-float64(i), rec.Price, "sell chase moves one tick below the previous price")
		assert.Equal(t, models.ActionShort, rec.Action())
		assert.Equal(t, []string{pending}, g.OrderIDs)
	}
	assert.Zero(t, h.notifier.count(notify.LevelCritical))

	h.cancel(pending, 0)
	assert.Len(t, h.gw.submits, 12, "the 11th cancellation does not resubmit")
	assert.Equal(t, 1, h.notifier.count(notify.LevelCritical))
	assert.Equal(t, 0, h.bot.Tracker().ActiveCount())
	assert.Empty(t, g.OrderIDs)
	assert.False(t, g.OpenStatus)
	assert.True(t, g.Stalled)
	assert.Equal(t, "abandoned", h.journal.reasons[pending])
	assert.Equal(t, exhausted+1, testutil.ToFloat64(metrics.RetryExhausted.WithLabelValues("OPEN")))
	assert.Equal(t, 0.0, h.bot.Ledger().Pos())
}

func TestPartialCancelResubmitsRemaining(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindFAK))
	g := h.addGrid("g1", models.GridLong, 3, 5.0, 3.0)

	ids := h.bot.EnterLongSpread(g, false)
	h.trade(ids[0], 105, 1)
	h.cancel(ids[0], 1)

	require.Len(t, h.gw.submits, 3)
	assert.Equal(t, 2.0, h.gw.lastSubmit().Volume)
	assert.Equal(t, 106.0, h.gw.lastSubmit().Price, "buy chase is one tick above the ask")
	assert.Equal(t, 1.0, g.Snapshot.ActOpen.Volume)
}

func TestCancelWithNothingRemainingDropsAndAlerts(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindFAK))
	g := h.addGrid("g1", models.GridLong, 1, 5.0, 3.0)
	ids := h.bot.EnterLongSpread(g, false)

	h.fill(t, ids[0], 105)
	h.trade(ids[1], 100, 1)
	h.cancel(ids[1], 1)

	assert.Len(t, h.gw.submits, 2)
	assert.Equal(t, 1, h.notifier.count(notify.LevelInfo))
	assert.True(t, g.OpenStatus)
	assert.Equal(t, 1.0, h.bot.Ledger().LongPos)
}

func TestRejectedRoutesToRecovery(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindFAK))
	g := h.addGrid("g1", models.GridLong, 1, 5.0, 3.0)
	ids := h.bot.EnterLongSpread(g, false)

	h.bot.OnOrder(models.OrderEvent{OrderID: ids[1], Status: models.StatusRejected})
	require.Len(t, h.gw.submits, 3)
	assert.Equal(t, "PAS", h.gw.lastSubmit().Symbol)
}

func TestChasePriceLimits(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindFAK))
	act := h.market["ACT"]
	act.UpLimit = 106
	h.market["ACT"] = act

	buy := &models.OrderRecord{Symbol: "ACT", Direction: models.Long, Offset: models.Open, Price: 105}
	price, ok := h.bot.chasePrice(buy)
	require.True(t, ok)
	assert.Equal(t, 106.0, price)

	buy.Price = 106
	_, ok = h.bot.chasePrice(buy)
	assert.False(t, ok, "already at the up limit")

	pas := h.market["PAS"]
	pas.DownLimit = 99
	h.market["PAS"] = pas
	sell := &models.OrderRecord{Symbol: "PAS", Direction: models.Short, Offset: models.Open, Price: 100}
	price, ok = h.bot.chasePrice(sell)
	require.True(t, ok)
	assert.Equal(t, 99.0, price)

	sell.Price = 99
	_, ok = h.bot.chasePrice(sell)
	assert.False(t, ok, "already at the down limit")
}

func TestExitLongSpreadRemovesGridWhenBothLegsFlat(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindFAK))
	g := openLongGrid(t, h, "g1")
	h.holdings(1, 0, 0, 1)

	ids := h.bot.ExitLongSpread(g, false)
	require.Len(t, ids, 2)
	assert.Equal(t, models.ActionSell, h.gw.submits[2].Action())
	assert.Equal(t, 104.0, h.gw.submits[2].Price)
	assert.Equal(t, models.ActionCover, h.gw.submits[3].Action())
	assert.Equal(t, 101.0, h.gw.submits[3].Price)

	h.fill(t, ids[0], 104)
	_, ok := h.bot.Table().Get("g1")
	assert.True(t, ok, "grid stays while the passive leg is still open")
	assert.Equal(t, 0.0, g.Snapshot.ActOpen.Volume)

	h.trade(ids[1], 101, 0.5)
	_, ok = h.bot.Table().Get("g1")
	assert.True(t, ok)
	assert.Equal(t, 0.5, g.Snapshot.PasOpen.Volume)

	h.fill(t, ids[1], 101)
	_, ok = h.bot.Table().Get("g1")
	assert.False(t, ok)
	assert.True(t, g.CloseStatus)
	assert.Equal(t, 0.0, h.bot.Ledger().LongPos)
	assert.Equal(t, 101.0, g.Snapshot.PasClose.AvgPrice())
	assert.Equal(t, 1.0, g.Snapshot.PasClose.Volume)
	assert.Empty(t, g.Anomalies)
}

func TestExitRequiresPositionsUnlessLockExchange(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindFAK))
	g := openLongGrid(t, h, "g1")
	h.holdings(0, 0, 0, 0)

	assert.Nil(t, h.bot.ExitLongSpread(g, false))
	assert.Nil(t, h.bot.ExitLongSpread(g, true), "position sufficiency is not bypassed by force")

	h.cfg.LockExchanges = []string{"SHFE"}
	ids := h.bot.ExitLongSpread(g, false)
	require.Len(t, ids, 2)
	assert.True(t, h.gw.submits[2].Lock)
	assert.True(t, h.gw.submits[3].Lock)
}

func TestExitPriceGate(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindFAK))
	g := openLongGrid(t, h, "g1")
	h.holdings(1, 0, 0, 1)
	g.ClosePrice = 3.5

	assert.Nil(t, h.bot.ExitLongSpread(g, false), "spread bid 3 is below the close price")
	assert.Nil(t, h.bot.EnterLongSpread(g, true), "an opened grid cannot enter again")
}

func TestFillAnomalyFlaggedNotClamped(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindFAK))
	g := openLongGrid(t, h, "g1")
	assert.Empty(t, g.Anomalies, "fills summing to nominal are consistent")

	before := testutil.ToFloat64(metrics.FillAnomalies.WithLabelValues("over_nominal"))
	// 已终结订单上的额外成交仍然归属
	h.trade(h.gw.ids[0], 105, 1)
	require.Len(t, g.Anomalies, 1)
	assert.Equal(t, 2.0, g.Snapshot.ActOpen.Volume, "volume is not clamped")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.FillAnomalies.WithLabelValues("over_nominal")))
}

func TestNegativeRemainingFlagged(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindFAK))
	g := openLongGrid(t, h, "g1")
	h.holdings(1, 0, 0, 1)
	ids := h.bot.ExitLongSpread(g, false)

	h.trade(ids[0], 104, 1)
	h.trade(ids[0], 104, 0.5)
	require.Len(t, g.Anomalies, 1)
	assert.Equal(t, -0.5, g.Snapshot.ActOpen.Volume)
}

func TestDuplicateTradeIgnored(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindFAK))
	g := h.addGrid("g1", models.GridLong, 2, 5.0, 3.0)
	ids := h.bot.EnterLongSpread(g, false)

	ev := models.TradeEvent{TradeID: "dup", OrderID: ids[0], Price: 105, Volume: 1}
	h.bot.OnTrade(ev)
	h.bot.OnTrade(ev)
	assert.Equal(t, 1.0, g.Snapshot.ActOpen.Volume)
}

func TestWeightedAverageAttribution(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindLimit))
	g := h.addGrid("g1", models.GridLong, 150, 5.0, 3.0)
	rec := &models.OrderRecord{OrderID: "x", GridID: g.ID, Symbol: "ACT", Leg: models.LegActive,
		Direction: models.Long, Offset: models.Open, Kind: models.KindLimit, Volume: 150}
	h.bot.Tracker().Add(rec)
	g.AddOrderID("x")

	h.trade("x", 10.0, 100)
	h.trade("x", 10.2, 50)
	assert.Equal(t, 10.0667, g.Snapshot.ActOpen.AvgPrice())
	assert.Equal(t, 150.0, g.Snapshot.ActOpen.Volume)
}

func TestOrderBeforeTradeWaitsForFills(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindFAK))
	g := h.addGrid("g1", models.GridLong, 1, 5.0, 3.0)
	ids := h.bot.EnterLongSpread(g, false)

	for _, id := range ids {
		h.bot.OnOrder(models.OrderEvent{OrderID: id, Status: models.StatusAllTraded, Traded: 1})
	}
	assert.False(t, g.OpenStatus)
	assert.Equal(t, 2, h.bot.Tracker().ActiveCount())

	h.trade(ids[0], 105, 1)
	h.trade(ids[1], 100, 1)
	assert.True(t, g.OpenStatus)
	assert.Equal(t, 0, h.bot.Tracker().ActiveCount())
}

func TestOnTickEvaluatesGrids(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindFAK))
	h.addGrid("g1", models.GridLong, 1, 5.0, 3.0)

	h.bot.OnTick(models.Tick{Symbol: "OTHER"})
	assert.Empty(t, h.gw.submits)

	h.bot.OnTick(h.market["ACT"])
	assert.Len(t, h.gw.submits, 2)
}

func TestForceFlattenExitsOpenedGrids(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindFAK))
	g := openLongGrid(t, h, "g1")
	pending := h.addGrid("g2", models.GridLong, 1, 5.0, 3.0)
	h.holdings(1, 0, 0, 1)
	g.ClosePrice = 10 // 正常情况下不会平仓

	h.bot.ForceFlatten()
	assert.True(t, h.bot.Flattening())
	require.Len(t, h.gw.submits, 4)
	assert.Equal(t, models.Close, h.gw.submits[2].Offset)
	assert.Equal(t, models.Close, h.gw.submits[3].Offset)
	assert.False(t, pending.OrderStatus)
	assert.Nil(t, h.bot.EnterLongSpread(pending, true))
	assert.Equal(t, 1, h.notifier.count(notify.LevelWarning))
}

func TestForceFlattenUnwindsHalfOpenedGrid(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindLimit))
	g := h.addGrid("g1", models.GridLong, 1, 5.0, 3.0)
	ids := h.bot.EnterLongSpread(g, false)
	require.Len(t, ids, 2)

	// 主动腿成交，被动腿限价单被撤，网格回到空闲但持有单腿
	h.fill(t, ids[0], 105)
	h.cancel(ids[1], 0)
	h.bot.OnTimer(h.now)
	require.False(t, g.OrderStatus)
	require.False(t, g.OpenStatus)
	require.Len(t, h.gw.submits, 2)

	h.holdings(1, 0, 0, 0)
	h.bot.ForceFlatten()
	require.Len(t, h.gw.submits, 3)
	unwind := h.gw.lastSubmit()
	assert.Equal(t, "ACT", unwind.Symbol)
	assert.Equal(t, models.ActionSell, unwind.Action())
	assert.Equal(t, 1.0, unwind.Volume)
	assert.True(t, g.OrderStatus)

	h.fill(t, h.gw.lastID(), 104)
	_, ok := h.bot.Table().Get("g1")
	assert.False(t, ok, "an unwound grid is removed")
	assert.Zero(t, h.bot.Ledger().LongPos)
	assert.Equal(t, 0, h.bot.Tracker().ActiveCount())
}

func TestHalfOpenedGridIsNotClosedOutsideFlatten(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindLimit))
	g := h.addGrid("g1", models.GridLong, 1, 5.0, 3.0)
	ids := h.bot.EnterLongSpread(g, false)
	h.fill(t, ids[0], 105)
	h.cancel(ids[1], 0)
	h.bot.OnTimer(h.now)
	h.holdings(1, 0, 0, 0)

	assert.Nil(t, h.bot.ExitLongSpread(g, true))

	// 下一次评估只补被动腿
	h.bot.OnTick(h.market["ACT"])
	require.Len(t, h.gw.submits, 3)
	assert.Equal(t, "PAS", h.gw.lastSubmit().Symbol)
	assert.Equal(t, models.Open, h.gw.lastSubmit().Offset)
}

func TestStartRestoresGridsAndClearsStaleOrders(t *testing.T) {
	repo, err := persistence.NewInMemoryRepository("test")
	require.NoError(t, err)
	defer repo.Close()

	seed := gridtable.New(repo, zap.NewNop())
	opened := models.NewGrid("opened", models.GridLong, 2, 5, 3)
	opened.OpenStatus = true
	working := models.NewGrid("working", models.GridShort, 1, 3, 1)
	working.OrderStatus = true
	working.AddOrderID("stale")
	seed.Add(opened)
	seed.Add(working)
	require.NoError(t, seed.Save())

	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindFAK))
	h.bot.table = gridtable.New(repo, zap.NewNop())
	require.NoError(t, h.bot.Start())

	restored, ok := h.bot.Table().Get("working")
	require.True(t, ok)
	assert.Empty(t, restored.OrderIDs)
	assert.False(t, restored.OrderStatus)
	assert.Equal(t, 2.0, h.bot.Ledger().LongPos)

	// 重启后的状态已经写回存储
	reloaded := gridtable.New(repo, zap.NewNop())
	require.NoError(t, reloaded.Load())
	g, ok := reloaded.Get("working")
	require.True(t, ok)
	assert.Empty(t, g.OrderIDs)
}

func TestStartKeepsTargetVolumeGridsWorking(t *testing.T) {
	repo, err := persistence.NewInMemoryRepository("test")
	require.NoError(t, err)
	defer repo.Close()

	seed := gridtable.New(repo, zap.NewNop())
	working := models.NewGrid("working", models.GridLong, 1, 5, 3)
	working.OrderStatus = true
	working.AddOrderID("stale")
	seed.Add(working)
	require.NoError(t, seed.Save())

	h := newHarness(t, testConfig(models.PolicyTargetVolume, models.KindFAK))
	h.bot.table = gridtable.New(repo, zap.NewNop())
	require.NoError(t, h.bot.Start())

	g, _ := h.bot.Table().Get("working")
	assert.True(t, g.OrderStatus)
	assert.Empty(t, g.OrderIDs)

	h.bot.Reconcile()
	require.Len(t, h.gw.submits, 1, "reconciliation resumes the lead leg")
	assert.Equal(t, "PAS", h.gw.submits[0].Symbol)
}
