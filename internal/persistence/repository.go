package persistence

import "spread-grid-bot-go/internal/models"

// StatusFilter 控制加载哪些网格
type StatusFilter int

const (
	FilterAll     StatusFilter = iota // 全部网格
	FilterOpened                      // 已开仓完成的网格
	FilterPending                     // 尚未开仓完成的网格
)

// Match 判断网格是否满足过滤条件
func (f StatusFilter) Match(g *models.Grid) bool {
	switch f {
	case FilterOpened:
		return g.OpenStatus
	case FilterPending:
		return !g.OpenStatus
	}
	return true
}

// GridRepository defines the interface for grid table persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type GridRepository interface {
	// Save writes the full grid table. Grids missing from up/down are deleted from storage.
	Save(up, down []*models.Grid) error

	// Load returns the stored grids of one direction that match the filter.
	// If nothing is stored it returns an empty slice and no error.
	Load(dir models.GridDirection, filter StatusFilter) ([]*models.Grid, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
