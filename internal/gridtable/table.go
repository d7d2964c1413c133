package gridtable

import (
	"fmt"

	"spread-grid-bot-go/internal/models"
	"spread-grid-bot-go/internal/persistence"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Table 网格交易表。Up 保存反套(做空价差)网格，Down 保存正套(做多价差)网格。
// 网格由表持有，订单记录只通过 ID 引用网格。
type Table struct {
	Up   []*models.Grid
	Down []*models.Grid

	repo   persistence.GridRepository
	logger *zap.Logger
}

// New 创建网格表，repo 可以为 nil（仅内存）
func New(repo persistence.GridRepository, logger *zap.Logger) *Table {
	return &Table{
		Up:     make([]*models.Grid, 0),
		Down:   make([]*models.Grid, 0),
		repo:   repo,
		logger: logger,
	}
}

// NewGridID 生成新的网格编号
func NewGridID() string {
	return uuid.NewString()
}

// Add 按方向加入网格
func (t *Table) Add(g *models.Grid) {
	if g.Direction == models.GridShort {
		t.Up = append(t.Up, g)
	} else {
		t.Down = append(t.Down, g)
	}
}

// Remove 删除网格，返回是否找到
func (t *Table) Remove(id string) bool {
	for _, list := range []*[]*models.Grid{&t.Up, &t.Down} {
		for i, g := range *list {
			if g.ID == id {
				*list = append((*list)[:i], (*list)[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Get 按编号查找网格
func (t *Table) Get(id string) (*models.Grid, bool) {
	for _, g := range t.All() {
		if g.ID == id {
			return g, true
		}
	}
	return nil, false
}

// All 返回全部网格，先反套后正套
func (t *Table) All() []*models.Grid {
	all := make([]*models.Grid, 0, len(t.Up)+len(t.Down))
	all = append(all, t.Up...)
	return append(all, t.Down...)
}

// Active 返回正在下单/对账的网格
func (t *Table) Active() []*models.Grid {
	var list []*models.Grid
	for _, g := range t.All() {
		if g.OrderStatus {
			list = append(list, g)
		}
	}
	return list
}

// OwnerOf 返回持有该订单号的网格
func (t *Table) OwnerOf(orderID string) (*models.Grid, bool) {
	for _, g := range t.All() {
		if g.HasOrder(orderID) {
			return g, true
		}
	}
	return nil, false
}

// Len 网格总数
func (t *Table) Len() int {
	return len(t.Up) + len(t.Down)
}

// Validate 检查两个网格不能登记同一个在途订单
func (t *Table) Validate() error {
	owners := make(map[string]string)
	for _, g := range t.All() {
		for _, id := range g.OrderIDs {
			if other, ok := owners[id]; ok && other != g.ID {
				return fmt.Errorf("订单 %s 同时属于网格 %s 和 %s", id, other, g.ID)
			}
			owners[id] = g.ID
		}
	}
	return nil
}

// Save 持久化整个网格表。失败只记录日志，内存状态仍然有效。
func (t *Table) Save() error {
	if t.repo == nil {
		return nil
	}
	if err := t.repo.Save(t.Up, t.Down); err != nil {
		t.logger.Error("保存网格表失败", zap.Error(err))
		return err
	}
	return nil
}

// Load 从存储恢复两个方向的全部网格，覆盖内存中的内容
func (t *Table) Load() error {
	if t.repo == nil {
		return nil
	}
	up, err := t.repo.Load(models.GridShort, persistence.FilterAll)
	if err != nil {
		return err
	}
	down, err := t.repo.Load(models.GridLong, persistence.FilterAll)
	if err != nil {
		return err
	}
	t.Up, t.Down = up, down
	t.logger.Info("网格表已加载", zap.Int("up", len(up)), zap.Int("down", len(down)))
	return nil
}
