package reporter

import (
	"fmt"
	"strings"

	"spread-grid-bot-go/internal/backtest"
	"spread-grid-bot-go/internal/ledger"
	"spread-grid-bot-go/internal/models"
	"spread-grid-bot-go/internal/storage"

	"github.com/jedib0t/go-pretty/v6/table"
)

// gridState 网格所处状态的简短描述
func gridState(g *models.Grid) string {
	switch {
	case g.Stalled:
		return "挂起"
	case g.CloseStatus:
		return "已平仓"
	case g.OrderStatus && g.OpenStatus:
		return "平仓中"
	case g.OrderStatus:
		return "开仓中"
	case g.OpenStatus:
		return "持仓"
	}
	return "等待"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// RenderGrids 输出网格表和价差持仓
func RenderGrids(grids []*models.Grid, led *ledger.Ledger, activeOrders int) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("网格 %d 个 | 在途订单 %d | 多 %.4g 空 %.4g 净 %.4g",
		len(grids), activeOrders, led.LongPos, led.ShortPos, led.Pos()))
	t.AppendHeader(table.Row{"ID", "方向", "手数", "开仓价差", "平仓价差", "状态", "主动腿", "被动腿", "重试", "订单"})
	for _, g := range grids {
		t.AppendRow(table.Row{
			shortID(g.ID),
			g.Direction,
			g.Volume,
			g.OpenPrice,
			g.ClosePrice,
			gridState(g),
			legSummary(g.Snapshot.ActOpen, g.Snapshot.ActClose),
			legSummary(g.Snapshot.PasOpen, g.Snapshot.PasClose),
			g.RetryCount,
			strings.Join(g.OrderIDs, ","),
		})
	}
	t.SetStyle(table.StyleLight)
	return t.Render()
}

// legSummary 剩余开仓数量@开仓均价，已有平仓成交时附上平仓均价
func legSummary(open, close models.LegFill) string {
	s := fmt.Sprintf("%.4g@%.4f", open.Volume, open.AvgPrice())
	if close.Volume > 0 {
		s += fmt.Sprintf(" 平%.4g@%.4f", close.Volume, close.AvgPrice())
	}
	return s
}

// RenderOrders 输出某个网格的订单历史
func RenderOrders(gridID string, entries []storage.JournalEntry) string {
	t := table.NewWriter()
	t.SetTitle("网格 " + gridID + " 订单历史")
	t.AppendHeader(table.Row{"订单号", "合约", "腿", "操作", "类型", "价格", "数量", "成交", "重试", "状态", "原因", "提交时间"})
	for _, e := range entries {
		t.AppendRow(table.Row{
			e.OrderID,
			e.Symbol,
			e.Leg,
			e.Action(),
			e.Kind,
			e.Price,
			e.Volume,
			e.Traded,
			e.RetryCount,
			e.Status,
			e.Reason,
			e.SubmitTime.Format("2006-01-02 15:04:05"),
		})
	}
	t.SetStyle(table.StyleLight)
	return t.Render()
}

// RenderBacktest 输出回放结果
func RenderBacktest(dataPath string, r backtest.Result) string {
	t := table.NewWriter()
	t.SetTitle("回放结果报告")
	t.AppendRows([]table.Row{
		{"数据文件", dataPath},
		{"回放周期", r.StartTime.Format("2006-01-02 15:04:05") + " 到 " + r.EndTime.Format("2006-01-02 15:04:05")},
		{"行情数量", r.Ticks},
		{"订单回报", r.OrderEvents},
		{"成交回报", r.TradeEvents},
		{"完成平仓网格", r.ClosedGrids},
		{"剩余网格", len(r.Grids)},
		{"在途订单", r.ActiveOrders},
		{"价差多头", r.LongPos},
		{"价差空头", r.ShortPos},
		{"保证金占用", fmt.Sprintf("%.2f%%", r.Account.OccupiedPercent)},
	})
	t.SetStyle(table.StyleLight)
	return t.Render()
}
