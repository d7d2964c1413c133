// Package metrics 定义策略运行时导出的 Prometheus 指标。
//
//	spread_orders_submitted_total{leg,action}  腿单提交次数
//	spread_cancels_requested_total             撤单请求次数
//	spread_gate_rejections_total{gate}         下单前检查被拒次数
//	spread_retry_exhausted_total{offset}       重试耗尽被放弃的订单
//	spread_fill_anomalies_total{kind}          成交归属中发现的数据不一致
//	spread_grids{state}                        各状态网格数量
//	spread_position{side}                      价差持仓
//
// 指标在 init() 中注册，由 cmd/bot 在 /metrics 暴露。
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spread_orders_submitted_total",
			Help: "Leg orders submitted to the gateway",
		},
		[]string{"leg", "action"},
	)

	CancelsRequested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spread_cancels_requested_total",
			Help: "Cancel requests issued by the supervisor",
		},
	)

	GateRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spread_gate_rejections_total",
			Help: "Entry/exit attempts refused by a pre-trade gate",
		},
		[]string{"gate"},
	)

	RetryExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spread_retry_exhausted_total",
			Help: "Orders abandoned after exceeding the retry budget",
		},
		[]string{"offset"},
	)

	FillAnomalies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spread_fill_anomalies_total",
			Help: "Consistency violations detected during fill attribution",
		},
		[]string{"kind"},
	)

	Grids = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spread_grids",
			Help: "Grids by lifecycle state",
		},
		[]string{"state"},
	)

	Position = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spread_position",
			Help: "Spread position held by the ledger",
		},
		[]string{"side"},
	)
)

func init() {
	prometheus.MustRegister(OrdersSubmitted, CancelsRequested, GateRejections)
	prometheus.MustRegister(RetryExhausted, FillAnomalies)
	prometheus.MustRegister(Grids, Position)
}
