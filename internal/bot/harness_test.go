package bot

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"spread-grid-bot-go/internal/config"
	"spread-grid-bot-go/internal/gridtable"
	"spread-grid-bot-go/internal/models"
	"spread-grid-bot-go/internal/notify"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockGateway 记录所有下单与撤单请求，订单号按顺序生成
type mockGateway struct {
	submits  []models.OrderRequest
	ids      []string
	cancels  []string
	fail     bool
	cancelOK bool
}

func (m *mockGateway) Submit(req models.OrderRequest) ([]string, error) {
	if m.fail {
		return nil, errors.New("gateway down")
	}
	id := fmt.Sprintf("o%d", len(m.ids)+1)
	m.submits = append(m.submits, req)
	m.ids = append(m.ids, id)
	return []string{id}, nil
}

func (m *mockGateway) Cancel(orderID string) bool {
	m.cancels = append(m.cancels, orderID)
	return m.cancelOK
}

func (m *mockGateway) lastID() string { return m.ids[len(m.ids)-1] }

func (m *mockGateway) lastSubmit() models.OrderRequest { return m.submits[len(m.submits)-1] }

type mockMarket map[string]models.Tick

func (m mockMarket) Tick(symbol string) (models.Tick, bool) {
	t, ok := m[symbol]
	return t, ok
}

type mockAccount struct {
	snap models.AccountSnapshot
}

func (m *mockAccount) Snapshot() models.AccountSnapshot { return m.snap }

type alert struct {
	level notify.Level
	title string
}

type mockNotifier struct {
	alerts []alert
}

func (m *mockNotifier) Notify(level notify.Level, title, message string) {
	m.alerts = append(m.alerts, alert{level: level, title: title})
}

func (m *mockNotifier) count(level notify.Level) int {
	n := 0
	for _, a := range m.alerts {
		if a.level == level {
			n++
		}
	}
	return n
}

type mockJournal struct {
	reasons map[string]string
}

func (m *mockJournal) RecordOrder(rec *models.OrderRecord, reason string) error {
	m.reasons[rec.OrderID] = reason
	return nil
}

type harness struct {
	bot      *SpreadArbBot
	cfg      *models.Config
	gw       *mockGateway
	market   mockMarket
	account  *mockAccount
	notifier *mockNotifier
	journal  *mockJournal
	now      time.Time
	trades   int
}

func testConfig(policy models.Policy, kind models.OrderKind) *models.Config {
	cfg := &models.Config{
		StrategyName:  "test",
		Policy:        policy,
		ActiveSymbol:  "ACT",
		PassiveSymbol: "PAS",
		OrderKind:     kind,
		Contracts: map[string]models.Contract{
			"ACT": {Exchange: "SHFE", PriceTick: 1, Size: 10, MarginRate: 0.1},
			"PAS": {Exchange: "SHFE", PriceTick: 1, Size: 10, MarginRate: 0.1},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func quote(symbol string, bid, ask float64) models.Tick {
	return models.Tick{
		Symbol:     symbol,
		LastPrice:  (bid + ask) / 2,
		BidPrices:  [models.Depth]float64{bid},
		AskPrices:  [models.Depth]float64{ask},
		BidVolumes: [models.Depth]float64{10},
		AskVolumes: [models.Depth]float64{10},
		UpLimit:    200,
		DownLimit:  50,
	}
}

// newHarness 默认行情: 主动腿 104/105，被动腿 100/101，价差买价 3、卖价 5
func newHarness(t *testing.T, cfg *models.Config) *harness {
	t.Helper()
	h := &harness{
		cfg:      cfg,
		gw:       &mockGateway{cancelOK: true},
		market:   mockMarket{"ACT": quote("ACT", 104, 105), "PAS": quote("PAS", 100, 101)},
		account:  &mockAccount{snap: models.AccountSnapshot{Equity: 1000000}},
		notifier: &mockNotifier{},
		journal:  &mockJournal{reasons: make(map[string]string)},
		now:      time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
	}
	h.bot = New(cfg, Deps{
		Gateway:  h.gw,
		Market:   h.market,
		Account:  h.account,
		Table:    gridtable.New(nil, zap.NewNop()),
		Journal:  h.journal,
		Notifier: h.notifier,
		Logger:   zap.NewNop(),
		Clock:    func() time.Time { return h.now },
	})
	return h
}

func (h *harness) addGrid(id string, dir models.GridDirection, volume, open, close float64) *models.Grid {
	g := models.NewGrid(id, dir, volume, open, close)
	h.bot.AddGrid(g)
	return g
}

// trade 推送一笔成交
func (h *harness) trade(orderID string, price, volume float64) {
	h.trades++
	h.bot.OnTrade(models.TradeEvent{
		TradeID: fmt.Sprintf("t%d", h.trades),
		OrderID: orderID,
		Price:   price,
		Volume:  volume,
		Time:    h.now,
	})
}

// fill 推送全部成交和 ALLTRADED 回报
func (h *harness) fill(t *testing.T, orderID string, price float64) {
	t.Helper()
	rec, ok := h.bot.Tracker().Get(orderID)
	require.True(t, ok, "order %s should be active", orderID)
	h.trade(orderID, price, rec.Remaining())
	h.bot.OnOrder(models.OrderEvent{OrderID: orderID, Status: models.StatusAllTraded, Traded: rec.Volume, Time: h.now})
}

func (h *harness) cancel(orderID string, traded float64) {
	h.bot.OnOrder(models.OrderEvent{OrderID: orderID, Status: models.StatusCancelled, Traded: traded, Time: h.now})
}

func (h *harness) holdings(actLong, actShort, pasLong, pasShort float64) {
	h.account.snap.Positions = map[string]models.PositionHolding{
		"ACT": {Symbol: "ACT", LongPos: actLong, ShortPos: actShort},
		"PAS": {Symbol: "PAS", LongPos: pasLong, ShortPos: pasShort},
	}
}
