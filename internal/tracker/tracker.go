package tracker

import (
	"sort"

	"spread-grid-bot-go/internal/models"
)

// Tracker 维护交易所订单号到在途订单记录的映射。
// 订单终结后移入历史映射；在途标志都由这里的内容计算得出。
type Tracker struct {
	active  map[string]*models.OrderRecord
	history map[string]*models.OrderRecord
}

// New 创建订单跟踪器
func New() *Tracker {
	return &Tracker{
		active:  make(map[string]*models.OrderRecord),
		history: make(map[string]*models.OrderRecord),
	}
}

// Add 登记一笔在途订单
func (t *Tracker) Add(rec *models.OrderRecord) {
	t.active[rec.OrderID] = rec
}

// Get 返回在途订单
func (t *Tracker) Get(orderID string) (*models.OrderRecord, bool) {
	rec, ok := t.active[orderID]
	return rec, ok
}

// History 返回已终结订单
func (t *Tracker) History(orderID string) (*models.OrderRecord, bool) {
	rec, ok := t.history[orderID]
	return rec, ok
}

// Lookup 先查在途再查历史
func (t *Tracker) Lookup(orderID string) (*models.OrderRecord, bool) {
	if rec, ok := t.active[orderID]; ok {
		return rec, true
	}
	return t.History(orderID)
}

// Finish 将订单移入历史，返回被移动的记录
func (t *Tracker) Finish(orderID string) *models.OrderRecord {
	rec, ok := t.active[orderID]
	if !ok {
		return nil
	}
	delete(t.active, orderID)
	t.history[orderID] = rec
	return rec
}

// Active 按提交时间返回所有在途订单
func (t *Tracker) Active() []*models.OrderRecord {
	list := make([]*models.OrderRecord, 0, len(t.active))
	for _, rec := range t.active {
		list = append(list, rec)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].SubmitTime.Equal(list[j].SubmitTime) {
			return list[i].OrderID < list[j].OrderID
		}
		return list[i].SubmitTime.Before(list[j].SubmitTime)
	})
	return list
}

// ActiveCount 返回在途订单数量
func (t *Tracker) ActiveCount() int {
	return len(t.active)
}

// ActiveCountForGrid 返回某网格的在途订单数量
func (t *Tracker) ActiveCountForGrid(gridID string) int {
	n := 0
	for _, rec := range t.active {
		if rec.GridID == gridID {
			n++
		}
	}
	return n
}

// HistoryCount 返回历史订单数量
func (t *Tracker) HistoryCount() int {
	return len(t.history)
}
