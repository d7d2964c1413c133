package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Depth 为五档行情
const Depth = 5

// Tick 单个合约的行情快照
type Tick struct {
	Symbol     string         `json:"symbol"`
	Time       time.Time      `json:"time"`
	LastPrice  float64        `json:"last_price"`
	BidPrices  [Depth]float64 `json:"bid_prices"`
	BidVolumes [Depth]float64 `json:"bid_volumes"`
	AskPrices  [Depth]float64 `json:"ask_prices"`
	AskVolumes [Depth]float64 `json:"ask_volumes"`
	UpLimit    float64        `json:"up_limit"`
	DownLimit  float64        `json:"down_limit"`
}

// Bid1 买一价
func (t Tick) Bid1() float64 { return t.BidPrices[0] }

// Ask1 卖一价
func (t Tick) Ask1() float64 { return t.AskPrices[0] }

// SpreadQuote 由两腿盘口合成的价差报价 (主动 - 被动)
type SpreadQuote struct {
	Bid       float64 // 卖出价差可成交的价格: act.bid - pas.ask
	Ask       float64 // 买入价差需支付的价格: act.ask - pas.bid
	BidVolume float64
	AskVolume float64
}

// NewSpreadQuote 根据两腿 tick 计算价差报价；数量按腿比例折算
func NewSpreadQuote(act, pas Tick, actRatio, pasRatio float64) SpreadQuote {
	q := SpreadQuote{
		Bid: act.Bid1() - pas.Ask1(),
		Ask: act.Ask1() - pas.Bid1(),
	}
	if actRatio > 0 && pasRatio > 0 {
		q.BidVolume = minFloat(act.BidVolumes[0]/actRatio, pas.AskVolumes[0]/pasRatio)
		q.AskVolume = minFloat(act.AskVolumes[0]/actRatio, pas.BidVolumes[0]/pasRatio)
	}
	return q
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// PositionHolding 账户中某个合约的持仓
type PositionHolding struct {
	Symbol   string  `json:"symbol"`
	LongPos  float64 `json:"long_pos"`
	LongTd   float64 `json:"long_td"`
	LongYd   float64 `json:"long_yd"`
	ShortPos float64 `json:"short_pos"`
	ShortTd  float64 `json:"short_td"`
	ShortYd  float64 `json:"short_yd"`
}

// AccountSnapshot 账户资金与持仓快照
type AccountSnapshot struct {
	Equity          float64                    `json:"equity"`
	Available       float64                    `json:"available"`
	OccupiedPercent float64                    `json:"occupied_percent"` // 当前保证金占用百分比
	Positions       map[string]PositionHolding `json:"positions"`
}

// Holding 返回指定合约的持仓，未持仓时返回零值
func (a AccountSnapshot) Holding(symbol string) PositionHolding {
	if a.Positions == nil {
		return PositionHolding{Symbol: symbol}
	}
	h, ok := a.Positions[symbol]
	if !ok {
		return PositionHolding{Symbol: symbol}
	}
	return h
}

// RoundToTick 将价格按最小变动价位取整
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	t := decimal.NewFromFloat(tick)
	f, _ := decimal.NewFromFloat(price).Div(t).Round(0).Mul(t).Float64()
	return f
}

// RoundTo 按小数位数四舍五入
func RoundTo(value float64, precision int32) float64 {
	f, _ := decimal.NewFromFloat(value).Round(precision).Float64()
	return f
}

// WeightedAverage 计算 (oldAvg*oldVol + price*vol) / (oldVol + vol) 并按精度取整
func WeightedAverage(oldAvg, oldVol, price, vol float64, precision int32) float64 {
	total := decimal.NewFromFloat(oldVol).Add(decimal.NewFromFloat(vol))
	if total.IsZero() {
		return RoundTo(price, precision)
	}
	amount := decimal.NewFromFloat(oldAvg).Mul(decimal.NewFromFloat(oldVol)).
		Add(decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(vol)))
	f, _ := amount.Div(total).Round(precision).Float64()
	return f
}
