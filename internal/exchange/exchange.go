package exchange

import "spread-grid-bot-go/internal/models"

// Gateway 定义了所有交易网关实现必须提供的下单与撤单方法。
// 这使得策略可以在模拟撮合和真实网关之间轻松切换。
type Gateway interface {
	// Submit 提交一笔腿单，返回交易所订单号（锁仓拆单时可能有多个）
	Submit(req models.OrderRequest) ([]string, error)
	// Cancel 发出撤单请求。返回值只表示请求是否发出，真实状态以后续订单回报为准。
	Cancel(orderID string) bool
}

// MarketData 提供按合约缓存的最新行情，读取不阻塞
type MarketData interface {
	Tick(symbol string) (models.Tick, bool)
}

// Account 提供缓存的账户资金与持仓
type Account interface {
	Snapshot() models.AccountSnapshot
}

// EventSink 接收网关推送的行情与回报
type EventSink interface {
	OnTick(tick models.Tick)
	OnOrder(event models.OrderEvent)
	OnTrade(event models.TradeEvent)
}
