package models

// Policy 决定网格的下单方式
type Policy string

const (
	// PolicySimultaneous 两腿同时下单 (V1)
	PolicySimultaneous Policy = "simultaneous"
	// PolicyTargetVolume 先行腿下单，对账循环按目标手数补齐另一腿 (V2)
	PolicyTargetVolume Policy = "target_volume"
)

// GridDirection 网格方向
type GridDirection string

const (
	GridLong  GridDirection = "LONG"  // 正套: 买主动腿、卖空被动腿
	GridShort GridDirection = "SHORT" // 反套: 卖空主动腿、买被动腿
)

// Leg 标识套利组合中的一条腿
type Leg string

const (
	LegActive  Leg = "act"
	LegPassive Leg = "pas"
)

// Other 返回另一条腿
func (l Leg) Other() Leg {
	if l == LegActive {
		return LegPassive
	}
	return LegActive
}

// Direction 订单买卖方向
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Offset 开平标志
type Offset string

const (
	Open  Offset = "OPEN"
	Close Offset = "CLOSE"
)

// OrderKind 订单类型
type OrderKind string

const (
	KindLimit OrderKind = "LIMIT"
	KindFAK   OrderKind = "FAK" // 立即成交剩余撤销
)

// OrderStatus 订单状态
type OrderStatus string

const (
	StatusSubmitting OrderStatus = "SUBMITTING"
	StatusNotTraded  OrderStatus = "NOTTRADED"
	StatusPartTraded OrderStatus = "PARTTRADED"
	StatusAllTraded  OrderStatus = "ALLTRADED"
	StatusCancelling OrderStatus = "CANCELLING"
	StatusCancelled  OrderStatus = "CANCELLED"
	StatusRejected   OrderStatus = "REJECTED"
)

// IsTerminal 判断是否为最终状态
func (s OrderStatus) IsTerminal() bool {
	return s == StatusAllTraded || s == StatusCancelled || s == StatusRejected
}

// IsActive 判断订单是否仍可能在交易所成交
func (s OrderStatus) IsActive() bool {
	switch s {
	case StatusSubmitting, StatusNotTraded, StatusPartTraded, StatusCancelling:
		return true
	}
	return false
}

// Action 是方向和开平的组合，对应 buy/sell/short/cover 四种腿操作
type Action struct {
	Direction Direction
	Offset    Offset
}

var (
	ActionBuy   = Action{Direction: Long, Offset: Open}
	ActionSell  = Action{Direction: Short, Offset: Close}
	ActionShort = Action{Direction: Short, Offset: Open}
	ActionCover = Action{Direction: Long, Offset: Close}
)

// String 返回操作名称
func (a Action) String() string {
	switch a {
	case ActionBuy:
		return "buy"
	case ActionSell:
		return "sell"
	case ActionShort:
		return "short"
	case ActionCover:
		return "cover"
	}
	return string(a.Direction) + "/" + string(a.Offset)
}

// LegAction 返回网格在某个阶段对某条腿的操作
//
//	正套开仓: 买主动腿 + 卖空被动腿；平仓: 卖主动腿 + 买平被动腿
//	反套开仓: 卖空主动腿 + 买被动腿；平仓: 买平主动腿 + 卖被动腿
func LegAction(dir GridDirection, offset Offset, leg Leg) Action {
	longActive := dir == GridLong
	if leg == LegPassive {
		longActive = !longActive
	}
	switch {
	case offset == Open && longActive:
		return ActionBuy
	case offset == Open:
		return ActionShort
	case longActive:
		return ActionSell
	default:
		return ActionCover
	}
}
