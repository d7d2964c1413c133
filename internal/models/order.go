package models

import "time"

// OrderRecord 是订单跟踪器中一笔在途订单的元数据。
// GridID 是对网格的非拥有引用，网格由网格表持有。
type OrderRecord struct {
	OrderID    string      `json:"order_id"`
	GridID     string      `json:"grid_id"`
	Symbol     string      `json:"symbol"`
	Leg        Leg         `json:"leg"`
	Direction  Direction   `json:"direction"`
	Offset     Offset      `json:"offset"`
	Kind       OrderKind   `json:"kind"`
	Volume     float64     `json:"volume"`
	Traded     float64     `json:"traded"`
	Price      float64     `json:"price"`
	Lock       bool        `json:"lock"`
	RetryCount int         `json:"retry_count"`
	SubmitTime time.Time   `json:"submit_time"`
	Status     OrderStatus `json:"status"`

	seenTrades map[string]struct{}
}

// Remaining 返回未成交数量
func (r *OrderRecord) Remaining() float64 {
	return r.Volume - r.Traded
}

// Action 返回订单对应的腿操作
func (r *OrderRecord) Action() Action {
	return Action{Direction: r.Direction, Offset: r.Offset}
}

// MarkTrade 记录成交编号，重复的编号返回 false
func (r *OrderRecord) MarkTrade(tradeID string) bool {
	if tradeID == "" {
		return true
	}
	if r.seenTrades == nil {
		r.seenTrades = make(map[string]struct{})
	}
	if _, ok := r.seenTrades[tradeID]; ok {
		return false
	}
	r.seenTrades[tradeID] = struct{}{}
	return true
}

// OrderRequest 是提交给交易网关的下单请求
type OrderRequest struct {
	Symbol    string
	Direction Direction
	Offset    Offset
	Volume    float64
	Price     float64
	Kind      OrderKind
	Lock      bool
}

// Action 返回请求对应的腿操作
func (r OrderRequest) Action() Action {
	return Action{Direction: r.Direction, Offset: r.Offset}
}

// OrderEvent 交易所推送的订单状态更新
type OrderEvent struct {
	OrderID string      `json:"order_id"`
	Symbol  string      `json:"symbol"`
	Status  OrderStatus `json:"status"`
	Traded  float64     `json:"traded"` // 累计成交数量
	Price   float64     `json:"price"`
	Time    time.Time   `json:"time"`
}

// TradeEvent 交易所推送的单笔成交
type TradeEvent struct {
	TradeID string    `json:"trade_id"`
	OrderID string    `json:"order_id"`
	Symbol  string    `json:"symbol"`
	Price   float64   `json:"price"`
	Volume  float64   `json:"volume"`
	Time    time.Time `json:"time"`
}
