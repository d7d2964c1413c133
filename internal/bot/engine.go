package bot

import (
	"time"

	"spread-grid-bot-go/internal/exchange"
	"spread-grid-bot-go/internal/gridtable"
	"spread-grid-bot-go/internal/ledger"
	"spread-grid-bot-go/internal/metrics"
	"spread-grid-bot-go/internal/models"
	"spread-grid-bot-go/internal/notify"
	"spread-grid-bot-go/internal/tracker"

	"go.uber.org/zap"
)

// 浮点比较容差
const eps = 1e-9

// OrderJournal 记录已终结订单，写入失败只影响复盘
type OrderJournal interface {
	RecordOrder(rec *models.OrderRecord, reason string) error
}

// Deps 是 SpreadArbBot 的外部协作者
type Deps struct {
	Gateway       exchange.Gateway
	Market        exchange.MarketData
	Account       exchange.Account
	Table         *gridtable.Table
	Journal       OrderJournal     // 可选
	Notifier      notify.Notifier  // 可选，默认写日志
	Logger        *zap.Logger      // 可选
	ProcessLogger *zap.Logger      // 可选，默认使用 Logger
	Clock         func() time.Time // 可选，默认 time.Now
}

// SpreadArbBot 是价差套利网格的订单生命周期核心。
// 所有方法都假定由同一个事件循环串行调用，内部没有锁。
type SpreadArbBot struct {
	cfg      *models.Config
	gateway  exchange.Gateway
	market   exchange.MarketData
	account  exchange.Account
	table    *gridtable.Table
	tracker  *tracker.Tracker
	ledger   *ledger.Ledger
	journal  OrderJournal
	notifier notify.Notifier
	logger   *zap.Logger
	plog     *zap.Logger
	now      func() time.Time

	trading       bool
	flattening    bool
	marginAlerted bool
}

// New 创建套利引擎
func New(cfg *models.Config, deps Deps) *SpreadArbBot {
	b := &SpreadArbBot{
		cfg:      cfg,
		gateway:  deps.Gateway,
		market:   deps.Market,
		account:  deps.Account,
		table:    deps.Table,
		tracker:  tracker.New(),
		ledger:   &ledger.Ledger{},
		journal:  deps.Journal,
		notifier: deps.Notifier,
		logger:   deps.Logger,
		plog:     deps.ProcessLogger,
		now:      deps.Clock,
		trading:  !cfg.PauseTrading,
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.plog == nil {
		b.plog = b.logger.Named("process")
	}
	if b.notifier == nil {
		b.notifier = notify.NewLogNotifier(b.logger)
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.table == nil {
		b.table = gridtable.New(nil, b.logger)
	}
	return b
}

// Table 返回网格表
func (b *SpreadArbBot) Table() *gridtable.Table { return b.table }

// Tracker 返回订单跟踪器
func (b *SpreadArbBot) Tracker() *tracker.Tracker { return b.tracker }

// Ledger 返回价差持仓
func (b *SpreadArbBot) Ledger() *ledger.Ledger { return b.ledger }

// Trading 返回是否允许交易
func (b *SpreadArbBot) Trading() bool { return b.trading }

// Flattening 返回是否处于强制平仓模式
func (b *SpreadArbBot) Flattening() bool { return b.flattening }

// SetTrading 开启或暂停交易。暂停后在途订单仍被维护。
func (b *SpreadArbBot) SetTrading(enabled bool) {
	b.trading = enabled
	b.logger.Info("交易开关已切换", zap.Bool("trading", enabled))
}

// AddGrid 加入一个新网格并持久化
func (b *SpreadArbBot) AddGrid(g *models.Grid) {
	if g.ID == "" {
		g.ID = gridtable.NewGridID()
	}
	b.table.Add(g)
	b.persist()
	b.logger.Info("新增网格",
		zap.String("grid", g.ID),
		zap.String("direction", string(g.Direction)),
		zap.Float64("volume", g.Volume),
		zap.Float64("open_price", g.OpenPrice),
		zap.Float64("close_price", g.ClosePrice))
}

// Start 从存储恢复网格表。
// 订单不跨重启存活：恢复出的订单号被清除；V1 的下单中标志被复位，V2 交由对账循环继续。
func (b *SpreadArbBot) Start() error {
	if err := b.table.Load(); err != nil {
		return err
	}

	for _, g := range b.table.All() {
		if len(g.OrderIDs) > 0 {
			b.logger.Warn("清除重启前的在途订单号", zap.String("grid", g.ID), zap.Strings("order_ids", g.OrderIDs))
			g.OrderIDs = make([]string, 0)
		}
		if g.OrderStatus && b.cfg.Policy == models.PolicySimultaneous {
			b.logger.Warn("网格在重启前处于下单中状态，已复位，请人工核对两腿持仓",
				zap.String("grid", g.ID),
				zap.Float64("act_open", g.Snapshot.ActOpen.Volume),
				zap.Float64("pas_open", g.Snapshot.PasOpen.Volume))
			g.OrderStatus = false
		}
	}

	b.ledger = ledger.Rebuild(b.table.All())
	if err := b.ledger.Check(); err != nil {
		b.logger.Error("持仓校验失败", zap.Error(err))
	}
	b.persist()
	b.logger.Info("策略已启动",
		zap.String("policy", string(b.cfg.Policy)),
		zap.Int("grids", b.table.Len()),
		zap.Float64("long_pos", b.ledger.LongPos),
		zap.Float64("short_pos", b.ledger.ShortPos))
	return nil
}

// Stop 暂停交易，强制撤销所有挂单并保存网格表
func (b *SpreadArbBot) Stop() {
	b.trading = false
	b.CancelStaleOrders(b.now(), true, false)
	b.persist()
	b.logger.Info("策略已停止", zap.Int("active_orders", b.tracker.ActiveCount()))
}

// OnTick 行情驱动：评估每个网格的开平仓条件，然后执行对账
func (b *SpreadArbBot) OnTick(tick models.Tick) {
	if tick.Symbol != b.cfg.ActiveSymbol && tick.Symbol != b.cfg.PassiveSymbol {
		return
	}
	b.evaluateGrids()
	b.Reconcile()
	b.updateGauges()
}

// OnTimer 定时驱动：撤销超时挂单，执行对账
func (b *SpreadArbBot) OnTimer(now time.Time) {
	b.CancelStaleOrders(now, false, b.flattening)
	if b.flattening {
		b.evaluateGrids()
	}
	b.Reconcile()
	b.updateGauges()
}

// ForceFlatten 进入强制平仓模式：停止开仓，撤单后按新价格重挂，并强制平掉已开仓网格
func (b *SpreadArbBot) ForceFlatten() {
	if !b.flattening {
		b.flattening = true
		b.logger.Warn("进入强制平仓模式")
		b.notifier.Notify(notify.LevelWarning, "强制平仓", b.cfg.StrategyName+" 进入强制平仓模式")
	}
	b.CancelStaleOrders(b.now(), true, true)
	b.evaluateGrids()
	b.updateGauges()
}

// evaluateGrids 对空闲网格尝试开仓或平仓
func (b *SpreadArbBot) evaluateGrids() {
	for _, g := range b.table.All() {
		if g.OrderStatus || g.Stalled {
			continue
		}
		switch {
		case !g.OpenStatus && !b.flattening:
			if g.Direction == models.GridLong {
				b.EnterLongSpread(g, false)
			} else {
				b.EnterShortSpread(g, false)
			}
		case g.OpenStatus && !g.CloseStatus, b.unwinding(g):
			if g.Direction == models.GridLong {
				b.ExitLongSpread(g, b.flattening)
			} else {
				b.ExitShortSpread(g, b.flattening)
			}
		}
	}
}

// unwinding 强制平仓时，开仓未完成但已有单腿成交的网格直接平掉已成交的腿
func (b *SpreadArbBot) unwinding(g *models.Grid) bool {
	if !b.flattening || g.OpenStatus {
		return false
	}
	return g.Snapshot.OpenVolume(models.LegActive) > eps || g.Snapshot.OpenVolume(models.LegPassive) > eps
}

// persist 保存网格表并检查订单归属唯一
func (b *SpreadArbBot) persist() {
	if err := b.table.Validate(); err != nil {
		b.logger.Error("网格表不一致", zap.Error(err))
	}
	b.table.Save()
}

// trace 写决策过程日志，仅用于复盘
func (b *SpreadArbBot) trace(g *models.Grid, step string, fields ...zap.Field) {
	base := []zap.Field{zap.String("step", step)}
	if g != nil {
		base = append(base, zap.String("grid", g.ID), zap.String("direction", string(g.Direction)))
	}
	b.plog.Info(step, append(base, fields...)...)
}

func (b *SpreadArbBot) updateGauges() {
	var pending, working, opened, stalled float64
	for _, g := range b.table.All() {
		switch {
		case g.Stalled:
			stalled++
		case g.OrderStatus:
			working++
		case g.OpenStatus:
			opened++
		default:
			pending++
		}
	}
	metrics.Grids.WithLabelValues("pending").Set(pending)
	metrics.Grids.WithLabelValues("working").Set(working)
	metrics.Grids.WithLabelValues("opened").Set(opened)
	metrics.Grids.WithLabelValues("stalled").Set(stalled)
	metrics.Position.WithLabelValues("long").Set(b.ledger.LongPos)
	metrics.Position.WithLabelValues("short").Set(b.ledger.ShortPos)
}

func (b *SpreadArbBot) contract(symbol string) models.Contract {
	return b.cfg.Contracts[symbol]
}

func (b *SpreadArbBot) journalOrder(rec *models.OrderRecord, reason string) {
	if b.journal == nil {
		return
	}
	if err := b.journal.RecordOrder(rec, reason); err != nil {
		b.logger.Error("写入订单历史失败", zap.String("order_id", rec.OrderID), zap.Error(err))
	}
}
