package ledger

import (
	"fmt"

	"spread-grid-bot-go/internal/models"
)

// Ledger 记录价差合成品种的多空手数。
// 空头以负数保存，Pos = LongPos + ShortPos。
// 只能通过网格开/平仓完成事件调用 OpenPos/ClosePos 修改。
type Ledger struct {
	LongPos  float64 `json:"long_pos"`
	ShortPos float64 `json:"short_pos"`
}

// Pos 返回净持仓
func (l *Ledger) Pos() float64 {
	return l.LongPos + l.ShortPos
}

// OpenPos 网格开仓完成后增加持仓
func (l *Ledger) OpenPos(dir models.GridDirection, volume float64) {
	if dir == models.GridLong {
		l.LongPos += volume
	} else {
		l.ShortPos -= volume
	}
}

// ClosePos 网格平仓完成后减少持仓
func (l *Ledger) ClosePos(dir models.GridDirection, volume float64) {
	if dir == models.GridLong {
		l.LongPos -= volume
	} else {
		l.ShortPos += volume
	}
}

// Check 检查多空手数的符号约定，不做修正
func (l *Ledger) Check() error {
	if l.LongPos < 0 {
		return fmt.Errorf("多头持仓为负: %v", l.LongPos)
	}
	if l.ShortPos > 0 {
		return fmt.Errorf("空头持仓为正: %v", l.ShortPos)
	}
	return nil
}

// Rebuild 根据已开仓网格重建持仓，用于重启恢复
func Rebuild(grids []*models.Grid) *Ledger {
	l := &Ledger{}
	for _, g := range grids {
		if g.OpenStatus && !g.CloseStatus {
			l.OpenPos(g.Direction, g.Volume)
		}
	}
	return l
}
