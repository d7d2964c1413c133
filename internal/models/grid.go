package models

import "time"

// Grid 代表一次套利交易意图：固定手数、开平仓价差阈值，以及两腿的成交快照。
// Volume 在创建后不可变。
type Grid struct {
	ID          string        `json:"id"`
	Direction   GridDirection `json:"direction"`
	Volume      float64       `json:"volume"`
	OpenPrice   float64       `json:"open_price"`
	ClosePrice  float64       `json:"close_price"`
	OpenStatus  bool          `json:"open_status"`  // 两腿均已开仓完成
	CloseStatus bool          `json:"close_status"` // 两腿均已平仓完成
	OrderStatus bool          `json:"order_status"` // 正在下单/对账中
	OrderIDs    []string      `json:"order_ids"`    // 当前未完结的交易所订单
	OrderTime   time.Time     `json:"order_time"`
	RetryCount  int           `json:"retry_count"` // V2: 该网格累计被撤单次数
	Stalled     bool          `json:"stalled"`     // 重试耗尽，等待人工处理
	Anomalies   []string      `json:"anomalies,omitempty"`
	Snapshot    GridSnapshot  `json:"snapshot"`
}

// LegFill 记录某条腿在开仓或平仓阶段的成交均价与数量
type LegFill struct {
	Price  *float64 `json:"price,omitempty"` // 首笔成交前为空
	Volume float64  `json:"volume"`
}

// AvgPrice 返回成交均价，未成交时返回 0
func (f LegFill) AvgPrice() float64 {
	if f.Price == nil {
		return 0
	}
	return *f.Price
}

// GridSnapshot 替代原先的字典快照，按 腿 × 开平 显式存放
type GridSnapshot struct {
	ActOpen         LegFill `json:"act_open"`
	PasOpen         LegFill `json:"pas_open"`
	ActClose        LegFill `json:"act_close"`
	PasClose        LegFill `json:"pas_close"`
	ActTargetVolume float64 `json:"act_target_volume"`
	PasTargetVolume float64 `json:"pas_target_volume"`
}

// Fill 返回指定腿、开平阶段的成交记录指针
func (s *GridSnapshot) Fill(leg Leg, offset Offset) *LegFill {
	switch {
	case leg == LegActive && offset == Open:
		return &s.ActOpen
	case leg == LegActive:
		return &s.ActClose
	case offset == Open:
		return &s.PasOpen
	default:
		return &s.PasClose
	}
}

// OpenVolume 返回某条腿当前持有的开仓数量（平仓成交会递减）
func (s *GridSnapshot) OpenVolume(leg Leg) float64 {
	return s.Fill(leg, Open).Volume
}

// Target 返回某条腿的目标数量
func (s *GridSnapshot) Target(leg Leg) float64 {
	if leg == LegActive {
		return s.ActTargetVolume
	}
	return s.PasTargetVolume
}

// SetTargets 同时设置两条腿的目标数量
func (s *GridSnapshot) SetTargets(act, pas float64) {
	s.ActTargetVolume = act
	s.PasTargetVolume = pas
}

// NewGrid 创建一个新网格
func NewGrid(id string, dir GridDirection, volume, openPrice, closePrice float64) *Grid {
	return &Grid{
		ID:         id,
		Direction:  dir,
		Volume:     volume,
		OpenPrice:  openPrice,
		ClosePrice: closePrice,
		OrderIDs:   make([]string, 0),
	}
}

// AddOrderID 登记一个未完结订单
func (g *Grid) AddOrderID(orderID string) {
	if g.HasOrder(orderID) {
		return
	}
	g.OrderIDs = append(g.OrderIDs, orderID)
}

// RemoveOrderID 移除一个订单，返回是否存在
func (g *Grid) RemoveOrderID(orderID string) bool {
	for i, id := range g.OrderIDs {
		if id == orderID {
			g.OrderIDs = append(g.OrderIDs[:i], g.OrderIDs[i+1:]...)
			return true
		}
	}
	return false
}

// HasOrder 判断订单是否属于该网格
func (g *Grid) HasOrder(orderID string) bool {
	for _, id := range g.OrderIDs {
		if id == orderID {
			return true
		}
	}
	return false
}

// Flag 记录一个数据不一致，不做修正
func (g *Grid) Flag(anomaly string) {
	g.Anomalies = append(g.Anomalies, anomaly)
}

// Stage 返回网格当前所处阶段的开平标志
func (g *Grid) Stage() Offset {
	if g.OpenStatus {
		return Close
	}
	return Open
}
