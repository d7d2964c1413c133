package bot

import (
	"testing"
	"time"

	"spread-grid-bot-go/internal/metrics"
	"spread-grid-bot-go/internal/models"
	"spread-grid-bot-go/internal/notify"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func status(t *testing.T, h *harness, orderID string) models.OrderStatus {
	t.Helper()
	rec, ok := h.bot.Tracker().Get(orderID)
	require.True(t, ok, "order %s should be active", orderID)
	return rec.Status
}

func TestStaleLimitOrdersCancelledOnce(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindLimit))
	g := h.addGrid("g1", models.GridLong, 1, 5.0, 3.0)
	ids := h.bot.EnterLongSpread(g, false)
	require.Len(t, ids, 2)
	before := testutil.ToFloat64(metrics.CancelsRequested)

	assert.Equal(t, 0, h.bot.CancelStaleOrders(h.now.Add(119*time.Second), false, false))
	assert.Empty(t, h.gw.cancels)

	assert.Equal(t, 2, h.bot.CancelStaleOrders(h.now.Add(120*time.Second), false, false))
	assert.Equal(t, ids, h.gw.cancels)
	assert.Equal(t, models.StatusCancelling, status(t, h, ids[0]))
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.CancelsRequested))

	assert.Equal(t, 0, h.bot.CancelStaleOrders(h.now.Add(121*time.Second), false, false))

	// 迟到的未成交回报不会让订单回到可撤状态
	h.bot.OnOrder(models.OrderEvent{OrderID: ids[0], Status: models.StatusNotTraded})
	assert.Equal(t, models.StatusCancelling, status(t, h, ids[0]))
	assert.Equal(t, 0, h.bot.CancelStaleOrders(h.now.Add(122*time.Second), false, false))
	assert.Len(t, h.gw.cancels, 2)

	h.cancel(ids[0], 0)
	h.cancel(ids[1], 0)
	assert.Equal(t, models.StatusCancelled, status(t, h, ids[0]))
	assert.Equal(t, 2, h.bot.Tracker().ActiveCount(), "cancelled limit orders wait for the supervisor")

	h.bot.CancelStaleOrders(h.now.Add(123*time.Second), false, false)
	assert.Equal(t, 0, h.bot.Tracker().ActiveCount())
	assert.Equal(t, 2, h.bot.Tracker().HistoryCount())
	assert.Equal(t, "cancelled", h.journal.reasons[ids[0]])
	assert.Empty(t, g.OrderIDs)
	assert.False(t, g.OrderStatus, "an idle grid can be evaluated again")
	assert.Len(t, h.gw.submits, 2)
}

func TestPartTradedOnlyCancelledWhenForced(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindLimit))
	g := h.addGrid("g1", models.GridLong, 2, 5.0, 3.0)
	ids := h.bot.EnterLongSpread(g, false)

	h.trade(ids[0], 105, 1)
	h.bot.OnOrder(models.OrderEvent{OrderID: ids[0], Status: models.StatusPartTraded, Traded: 1})

	later := h.now.Add(time.Hour)
	assert.Equal(t, 1, h.bot.CancelStaleOrders(later, false, false))
	assert.Equal(t, []string{ids[1]}, h.gw.cancels)
	assert.Equal(t, 1, h.bot.CancelStaleOrders(later, true, false))
	assert.Equal(t, []string{ids[1], ids[0]}, h.gw.cancels)
}

func TestFAKOrdersAreNotCancelledBySupervisor(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindFAK))
	g := h.addGrid("g1", models.GridLong, 1, 5.0, 3.0)
	require.Len(t, h.bot.EnterLongSpread(g, false), 2)

	assert.Equal(t, 0, h.bot.CancelStaleOrders(h.now.Add(time.Hour), true, false))
	assert.Empty(t, h.gw.cancels)
}

func TestCancelFailureTreatedAsCancelled(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindLimit))
	h.gw.cancelOK = false
	g := h.addGrid("g1", models.GridLong, 1, 5.0, 3.0)
	ids := h.bot.EnterLongSpread(g, false)

	assert.Equal(t, 2, h.bot.CancelStaleOrders(h.now, true, false))
	assert.Equal(t, models.StatusCancelled, status(t, h, ids[0]))
	assert.Equal(t, models.StatusCancelled, status(t, h, ids[1]))

	assert.Equal(t, 0, h.bot.CancelStaleOrders(h.now, true, false))
	assert.Equal(t, 0, h.bot.Tracker().ActiveCount())
	assert.Len(t, h.gw.cancels, 2)
}

func TestFailedCancelsCountTowardsRetryLimit(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindLimit))
	h.gw.cancelOK = false
	g := h.addGrid("g1", models.GridLong, 1, 5.0, 3.0)
	require.Len(t, h.bot.EnterLongSpread(g, false), 2)

	for i := 0; i < 30; i++ {
		h.bot.CancelStaleOrders(h.now, true, true)
	}

	// 每条腿重挂 10 次，第 11 次撤单失败后放弃
	assert.Len(t, h.gw.submits, 22)
	assert.Equal(t, 0, h.bot.Tracker().ActiveCount())
	assert.True(t, g.Stalled)
	assert.Equal(t, 2, h.notifier.count(notify.LevelCritical))
	assert.Equal(t, "abandoned", h.journal.reasons[h.gw.lastID()])
}

func TestForcedReopenImprovesByOneTick(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindLimit))
	g := h.addGrid("g1", models.GridLong, 1, 5.0, 3.0)
	ids := h.bot.EnterLongSpread(g, false)

	assert.Equal(t, 2, h.bot.CancelStaleOrders(h.now, true, true))
	h.cancel(ids[0], 0)
	h.cancel(ids[1], 0)
	h.bot.CancelStaleOrders(h.now, true, true)

	require.Len(t, h.gw.submits, 4)
	assert.Equal(t, 106.0, h.gw.submits[2].Price)
	assert.Equal(t, models.ActionBuy, h.gw.submits[2].Action())
	assert.Equal(t, 99.0, h.gw.submits[3].Price)
	assert.Equal(t, models.ActionShort, h.gw.submits[3].Action())
	assert.Equal(t, models.KindLimit, h.gw.submits[3].Kind)
	assert.Equal(t, "reopened", h.journal.reasons[ids[0]])
	assert.Equal(t, []string{"o3", "o4"}, g.OrderIDs)

	rec, ok := h.bot.Tracker().Get("o3")
	require.True(t, ok)
	assert.Equal(t, 1, rec.RetryCount)
}

func TestRefusedChaseRetriedBySupervisor(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindFAK))
	g := h.addGrid("g1", models.GridLong, 1, 5.0, 3.0)
	ids := h.bot.EnterLongSpread(g, false)
	h.fill(t, ids[0], 105)

	pas := h.market["PAS"]
	pas.DownLimit = 100
	h.market["PAS"] = pas
	h.cancel(ids[1], 0)
	assert.Len(t, h.gw.submits, 2, "chase refused at the down limit")
	assert.Equal(t, models.StatusCancelled, status(t, h, ids[1]))

	pas.DownLimit = 50
	h.market["PAS"] = pas
	h.bot.CancelStaleOrders(h.now, false, false)
	require.Len(t, h.gw.submits, 3)
	assert.Equal(t, 99.0, h.gw.lastSubmit().Price)
	assert.Equal(t, []string{h.gw.lastID()}, g.OrderIDs)
}

func TestStopCancelsEverythingWithoutResubmitting(t *testing.T) {
	h := newHarness(t, testConfig(models.PolicySimultaneous, models.KindLimit))
	g := h.addGrid("g1", models.GridLong, 1, 5.0, 3.0)
	ids := h.bot.EnterLongSpread(g, false)

	h.bot.Stop()
	assert.False(t, h.bot.Trading())
	assert.Equal(t, ids, h.gw.cancels)

	h.cancel(ids[0], 0)
	h.cancel(ids[1], 0)
	h.bot.OnTimer(h.now)
	assert.Equal(t, 0, h.bot.Tracker().ActiveCount())
	assert.Len(t, h.gw.submits, 2)
}
