package exchange

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"spread-grid-bot-go/internal/models"

	"github.com/jxskiss/base62"
)

// paperOrder 模拟撮合中的一笔订单
type paperOrder struct {
	id     string
	seq    int64
	req    models.OrderRequest
	traded float64
	status models.OrderStatus
}

// PaperExchange 实现了 Gateway、MarketData 和 Account 接口，用于模拟交易所撮合。
// FAK 订单按一档盘口即时成交，剩余部分撤销；LIMIT 订单挂单，在后续行情穿价时成交。
type PaperExchange struct {
	contracts map[string]models.Contract
	ticks     map[string]models.Tick
	positions map[string]*models.PositionHolding
	orders    map[string]*paperOrder
	equity    float64
	sink      EventSink
	nextID    int64
	nextTrade int64
	now       func() time.Time
	mu        sync.Mutex

	// 待投递的事件在锁外发送，避免回调重入
	pending []func()
}

// NewPaperExchange 创建一个新的 PaperExchange 实例。
func NewPaperExchange(contracts map[string]models.Contract, equity float64) *PaperExchange {
	return &PaperExchange{
		contracts: contracts,
		ticks:     make(map[string]models.Tick),
		positions: make(map[string]*models.PositionHolding),
		orders:    make(map[string]*paperOrder),
		equity:    equity,
		nextID:    1,
		nextTrade: 1,
		now:       time.Now,
	}
}

// SetSink 设置事件接收者
func (e *PaperExchange) SetSink(sink EventSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
}

// SetClock 替换时间来源，用于测试
func (e *PaperExchange) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// SetPosition 直接设置某合约持仓，用于模拟已有仓位
func (e *PaperExchange) SetPosition(h models.PositionHolding) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := h
	e.positions[h.Symbol] = &cp
}

// SetTick 是模拟的核心：更新行情，检查挂单是否被穿价成交，然后推送行情。
func (e *PaperExchange) SetTick(tick models.Tick) {
	e.mu.Lock()
	e.ticks[tick.Symbol] = tick
	e.matchResting(tick)
	e.queue(func(s EventSink) { s.OnTick(tick) })
	e.mu.Unlock()
	e.flush()
}

// OnTick 让模拟撮合挂在外部行情源上运行；订单和成交推送由本地撮合产生，外部的忽略
func (e *PaperExchange) OnTick(tick models.Tick) { e.SetTick(tick) }

func (e *PaperExchange) OnOrder(models.OrderEvent) {}

func (e *PaperExchange) OnTrade(models.TradeEvent) {}

// Tick 返回缓存的行情
func (e *PaperExchange) Tick(symbol string) (models.Tick, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.ticks[symbol]
	return t, ok
}

// Submit 提交订单
func (e *PaperExchange) Submit(req models.OrderRequest) ([]string, error) {
	if req.Volume <= 0 {
		return nil, fmt.Errorf("无效的下单数量: %v", req.Volume)
	}

	e.mu.Lock()
	tick, ok := e.ticks[req.Symbol]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("合约 %s 没有行情，无法下单", req.Symbol)
	}

	o := &paperOrder{
		id:     string(base62.FormatInt(e.nextID)),
		seq:    e.nextID,
		req:    req,
		status: models.StatusNotTraded,
	}
	e.nextID++
	e.orders[o.id] = o

	if req.Offset == models.Close && !e.closable(req) {
		if !req.Lock {
			o.status = models.StatusRejected
			e.emitOrder(o)
			e.mu.Unlock()
			e.flush()
			return []string{o.id}, nil
		}
		// 锁仓: 平仓不足时以反向开仓代替
		o.req.Offset = models.Open
	}

	e.emitOrder(o)
	if e.crosses(o, tick) {
		e.fill(o, tick)
	}
	if o.req.Kind == models.KindFAK && !o.status.IsTerminal() {
		o.status = models.StatusCancelled
		e.emitOrder(o)
	}
	e.mu.Unlock()
	e.flush()
	return []string{o.id}, nil
}

// Cancel 撤销挂单
func (e *PaperExchange) Cancel(orderID string) bool {
	e.mu.Lock()
	o, ok := e.orders[orderID]
	if !ok || o.status.IsTerminal() {
		e.mu.Unlock()
		return false
	}
	o.status = models.StatusCancelled
	e.emitOrder(o)
	e.mu.Unlock()
	e.flush()
	return true
}

// Snapshot 返回账户快照，保证金按最新价计算
func (e *PaperExchange) Snapshot() models.AccountSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := models.AccountSnapshot{
		Equity:    e.equity,
		Positions: make(map[string]models.PositionHolding, len(e.positions)),
	}
	var occupied float64
	for symbol, h := range e.positions {
		snap.Positions[symbol] = *h
		c := e.contracts[symbol]
		occupied += (h.LongPos + h.ShortPos) * e.ticks[symbol].LastPrice * c.Size * c.MarginRate
	}
	snap.Available = e.equity - occupied
	if e.equity > 0 {
		snap.OccupiedPercent = occupied / e.equity * 100
	}
	return snap
}

// Status 返回订单当前状态，用于测试和排查
func (e *PaperExchange) Status(orderID string) (models.OrderStatus, float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return "", 0, false
	}
	return o.status, o.traded, true
}

// matchResting 检查挂单在指定行情下能否成交。必须在持有锁的情况下调用。
func (e *PaperExchange) matchResting(tick models.Tick) {
	var resting []*paperOrder
	for _, o := range e.orders {
		if o.req.Symbol == tick.Symbol && !o.status.IsTerminal() {
			resting = append(resting, o)
		}
	}
	sort.Slice(resting, func(i, j int) bool { return resting[i].seq < resting[j].seq })
	for _, o := range resting {
		if e.crosses(o, tick) {
			e.fill(o, tick)
		}
	}
}

// crosses 买单价格不低于卖一，或卖单价格不高于买一时可成交
func (e *PaperExchange) crosses(o *paperOrder, tick models.Tick) bool {
	if o.req.Direction == models.Long {
		return tick.Ask1() > 0 && o.req.Price >= tick.Ask1()
	}
	return tick.Bid1() > 0 && o.req.Price <= tick.Bid1()
}

// fill 按一档价格和数量成交。必须在持有锁的情况下调用。
func (e *PaperExchange) fill(o *paperOrder, tick models.Tick) {
	price, depth := tick.Ask1(), tick.AskVolumes[0]
	if o.req.Direction == models.Short {
		price, depth = tick.Bid1(), tick.BidVolumes[0]
	}
	volume := o.req.Volume - o.traded
	if depth < volume {
		volume = depth
	}
	if volume <= 0 {
		return
	}

	o.traded += volume
	if o.traded >= o.req.Volume {
		o.status = models.StatusAllTraded
	} else {
		o.status = models.StatusPartTraded
	}
	e.applyPosition(o.req, volume)

	trade := models.TradeEvent{
		TradeID: "T" + string(base62.FormatInt(e.nextTrade)),
		OrderID: o.id,
		Symbol:  o.req.Symbol,
		Price:   price,
		Volume:  volume,
		Time:    e.now(),
	}
	e.nextTrade++
	e.queue(func(s EventSink) { s.OnTrade(trade) })
	e.emitOrder(o)
}

// closable 判断平仓数量是否足够。必须在持有锁的情况下调用。
func (e *PaperExchange) closable(req models.OrderRequest) bool {
	h := e.holding(req.Symbol)
	if req.Direction == models.Short {
		return h.LongPos >= req.Volume
	}
	return h.ShortPos >= req.Volume
}

func (e *PaperExchange) holding(symbol string) *models.PositionHolding {
	h, ok := e.positions[symbol]
	if !ok {
		h = &models.PositionHolding{Symbol: symbol}
		e.positions[symbol] = h
	}
	return h
}

// applyPosition 更新持仓，今仓优先平
func (e *PaperExchange) applyPosition(req models.OrderRequest, volume float64) {
	h := e.holding(req.Symbol)
	switch {
	case req.Direction == models.Long && req.Offset == models.Open:
		h.LongPos += volume
		h.LongTd += volume
	case req.Direction == models.Short && req.Offset == models.Open:
		h.ShortPos += volume
		h.ShortTd += volume
	case req.Direction == models.Short:
		h.LongPos -= volume
		h.LongTd, h.LongYd = reduce(h.LongTd, h.LongYd, volume)
	default:
		h.ShortPos -= volume
		h.ShortTd, h.ShortYd = reduce(h.ShortTd, h.ShortYd, volume)
	}
}

func reduce(td, yd, volume float64) (float64, float64) {
	if td >= volume {
		return td - volume, yd
	}
	return 0, yd - (volume - td)
}

func (e *PaperExchange) emitOrder(o *paperOrder) {
	event := models.OrderEvent{
		OrderID: o.id,
		Symbol:  o.req.Symbol,
		Status:  o.status,
		Traded:  o.traded,
		Price:   o.req.Price,
		Time:    e.now(),
	}
	e.queue(func(s EventSink) { s.OnOrder(event) })
}

func (e *PaperExchange) queue(fn func(EventSink)) {
	if e.sink == nil {
		return
	}
	sink := e.sink
	e.pending = append(e.pending, func() { fn(sink) })
}

// flush 在锁外按顺序投递事件
func (e *PaperExchange) flush() {
	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}
