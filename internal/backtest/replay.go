package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"spread-grid-bot-go/internal/bot"
	"spread-grid-bot-go/internal/exchange"
	"spread-grid-bot-go/internal/gridtable"
	"spread-grid-bot-go/internal/models"
	"spread-grid-bot-go/internal/persistence"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// tickColumns 回放文件的表头
var tickColumns = []string{"time_ms", "symbol", "bid", "ask", "bid_volume", "ask_volume", "last", "up_limit", "down_limit"}

// LoadTicks 从CSV文件读取两腿的一档行情，按文件顺序回放
func LoadTicks(path string) ([]models.Tick, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "无法打开行情文件")
	}
	defer file.Close()
	return ReadTicks(file)
}

// ReadTicks 解析行情CSV，第一行必须是表头
func ReadTicks(r io.Reader) ([]models.Tick, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "无法读取CSV记录")
	}
	if len(records) <= 1 { // 至少需要表头和一行数据
		return nil, errors.New("行情文件为空或只有表头")
	}

	ticks := make([]models.Tick, 0, len(records)-1)
	for i, record := range records[1:] {
		if len(record) < len(tickColumns) {
			return nil, fmt.Errorf("第 %d 行字段数不足: %v", i+2, record)
		}
		values := make([]float64, len(tickColumns))
		for j := range tickColumns {
			if j == 1 {
				continue
			}
			v, err := strconv.ParseFloat(record[j], 64)
			if err != nil {
				return nil, errors.Wrapf(err, "第 %d 行 %s 无法解析", i+2, tickColumns[j])
			}
			values[j] = v
		}
		tick := models.Tick{
			Symbol:    record[1],
			Time:      time.UnixMilli(int64(values[0])),
			LastPrice: values[6],
			UpLimit:   values[7],
			DownLimit: values[8],
		}
		tick.BidPrices[0] = values[2]
		tick.AskPrices[0] = values[3]
		tick.BidVolumes[0] = values[4]
		tick.AskVolumes[0] = values[5]
		ticks = append(ticks, tick)
	}
	return ticks, nil
}

// Result 回放结束后的统计
type Result struct {
	StartTime    time.Time
	EndTime      time.Time
	Ticks        int
	OrderEvents  int
	TradeEvents  int
	ActiveOrders int
	Grids        []*models.Grid
	ClosedGrids  int
	LongPos      float64
	ShortPos     float64
	Account      models.AccountSnapshot
}

// eventQueue 缓存模拟撮合推送的事件，回放循环逐个投递给策略，避免回调重入
type eventQueue struct {
	events []interface{}
}

func (q *eventQueue) OnTick(tick models.Tick)         { q.events = append(q.events, tick) }
func (q *eventQueue) OnOrder(event models.OrderEvent) { q.events = append(q.events, event) }
func (q *eventQueue) OnTrade(event models.TradeEvent) { q.events = append(q.events, event) }

// Replayer 用模拟撮合回放历史行情
type Replayer struct {
	cfg    *models.Config
	paper  *exchange.PaperExchange
	bot    *bot.SpreadArbBot
	repo   persistence.GridRepository
	queue  *eventQueue
	now    time.Time
	result Result
	logger *zap.Logger
}

// NewReplayer 创建回放器，网格取自配置，网格表保存在内存中的 badger
func NewReplayer(cfg *models.Config, equity float64, logger *zap.Logger) (*Replayer, error) {
	repo, err := persistence.NewInMemoryRepository(cfg.StrategyName)
	if err != nil {
		return nil, errors.Wrap(err, "无法创建回放网格存储")
	}
	r := &Replayer{
		cfg:    cfg,
		paper:  exchange.NewPaperExchange(cfg.Contracts, equity),
		repo:   repo,
		queue:  &eventQueue{},
		logger: logger,
	}
	clock := func() time.Time { return r.now }
	r.paper.SetClock(clock)
	r.paper.SetSink(r.queue)
	r.bot = bot.New(cfg, bot.Deps{
		Gateway: r.paper,
		Market:  r.paper,
		Account: r.paper,
		Table:   gridtable.New(repo, logger),
		Logger:  logger,
		Clock:   clock,
	})
	for _, gc := range cfg.Grids {
		r.bot.AddGrid(models.NewGrid("", gc.Direction, gc.Volume, gc.OpenPrice, gc.ClosePrice))
	}
	return r, nil
}

// Bot 返回被回放的策略
func (r *Replayer) Bot() *bot.SpreadArbBot { return r.bot }

// Close 释放网格存储
func (r *Replayer) Close() error { return r.repo.Close() }

// Run 依次回放行情：撮合挂单、投递事件、再触发一次定时检查
func (r *Replayer) Run(ticks []models.Tick) Result {
	initial := r.bot.Table().Len()
	for _, tick := range ticks {
		r.now = tick.Time
		if r.result.StartTime.IsZero() {
			r.result.StartTime = tick.Time
		}
		r.result.EndTime = tick.Time
		r.result.Ticks++

		r.paper.SetTick(tick)
		r.drain()
		r.bot.OnTimer(r.now)
		r.drain()
	}

	r.result.ActiveOrders = r.bot.Tracker().ActiveCount()
	r.result.Grids = r.bot.Table().All()
	r.result.ClosedGrids = initial - len(r.result.Grids)
	r.result.LongPos = r.bot.Ledger().LongPos
	r.result.ShortPos = r.bot.Ledger().ShortPos
	r.result.Account = r.paper.Snapshot()
	r.logger.Info("回放结束",
		zap.Int("ticks", r.result.Ticks),
		zap.Int("order_events", r.result.OrderEvents),
		zap.Int("trade_events", r.result.TradeEvents),
		zap.Int("closed_grids", r.result.ClosedGrids))
	return r.result
}

func (r *Replayer) drain() {
	for len(r.queue.events) > 0 {
		event := r.queue.events[0]
		r.queue.events = r.queue.events[1:]
		switch e := event.(type) {
		case models.Tick:
			r.bot.OnTick(e)
		case models.OrderEvent:
			r.result.OrderEvents++
			r.bot.OnOrder(e)
		case models.TradeEvent:
			r.result.TradeEvents++
			r.bot.OnTrade(e)
		}
	}
}
