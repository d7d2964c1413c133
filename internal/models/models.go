package models

// Config 结构体定义了套利策略的所有配置参数
type Config struct {
	StrategyName     string    `json:"strategy_name" yaml:"strategy_name"`           // 策略实例名称，用于日志和持久化键
	Policy           Policy    `json:"policy" yaml:"policy"`                         // 下单策略: simultaneous (V1) 或 target_volume (V2)
	ActiveSymbol     string    `json:"active_symbol" yaml:"active_symbol"`           // 主动腿合约
	PassiveSymbol    string    `json:"passive_symbol" yaml:"passive_symbol"`         // 被动腿合约
	ActVolRatio      float64   `json:"act_vol_ratio" yaml:"act_vol_ratio"`           // 主动腿手数比例
	PasVolRatio      float64   `json:"pas_vol_ratio" yaml:"pas_vol_ratio"`           // 被动腿手数比例
	OrderKind        OrderKind `json:"order_kind" yaml:"order_kind"`                 // 腿单类型: FAK 或 LIMIT
	CancelSeconds    int       `json:"cancel_seconds" yaml:"cancel_seconds"`         // 限价单超时撤单秒数
	MaxRetry         int       `json:"max_retry" yaml:"max_retry"`                   // 撤单后最大重试次数
	LimitGuardTicks  int       `json:"limit_guard_ticks" yaml:"limit_guard_ticks"`   // 距离涨跌停多少跳内拒绝开平仓
	PricePrecision   int32     `json:"price_precision" yaml:"price_precision"`       // 成交均价保留的小数位
	MarginCapPercent float64   `json:"margin_cap_percent" yaml:"margin_cap_percent"` // 保证金占用上限(百分比)，0 表示不限制
	LeadLegOpen      Leg       `json:"lead_leg_open" yaml:"lead_leg_open"`           // V2 开仓时先行的腿
	LeadLegClose     Leg       `json:"lead_leg_close" yaml:"lead_leg_close"`         // V2 平仓时先行的腿
	LockExchanges    []string  `json:"lock_exchanges" yaml:"lock_exchanges"`         // 允许锁仓的交易所
	PauseTrading     bool      `json:"pause_trading" yaml:"pause_trading"`           // 启动后暂停交易，仅维护已有订单

	Contracts map[string]Contract `json:"contracts" yaml:"contracts"` // 合约元数据，按合约代码索引
	Grids     []GridConfig        `json:"grids" yaml:"grids"`         // 启动时追加的网格定义

	DBPath            string        `json:"db_path" yaml:"db_path"`                         // 网格持久化 (badger) 目录
	JournalPath       string        `json:"journal_path" yaml:"journal_path"`               // 订单历史 (sqlite) 文件
	Gateway           GatewayConfig `json:"gateway" yaml:"gateway"`                         // 交易网关配置
	NotifyWebhookURL  string        `json:"notify_webhook_url" yaml:"notify_webhook_url"`   // 告警推送地址
	MetricsAddr       string        `json:"metrics_addr" yaml:"metrics_addr"`               // Prometheus 监听地址，为空则不启动
	TimerIntervalMs   int           `json:"timer_interval_ms" yaml:"timer_interval_ms"`     // 定时事件间隔(毫秒)
	StatusIntervalSec int           `json:"status_interval_sec" yaml:"status_interval_sec"` // 状态打印间隔(秒)
	LogConfig         LogConfig     `json:"log" yaml:"log"`                                 // 日志配置
}

// GridConfig 定义了一个初始网格
type GridConfig struct {
	Direction  GridDirection `json:"direction" yaml:"direction"`
	Volume     float64       `json:"volume" yaml:"volume"`
	OpenPrice  float64       `json:"open_price" yaml:"open_price"`
	ClosePrice float64       `json:"close_price" yaml:"close_price"`
}

// GatewayConfig 定义了交易网关的连接方式
type GatewayConfig struct {
	Mode            string  `json:"mode" yaml:"mode"`                           // paper 或 ws
	WSURL           string  `json:"ws_url" yaml:"ws_url"`                       // ws 模式的网关地址
	PingIntervalSec int     `json:"ping_interval_sec" yaml:"ping_interval_sec"` // WebSocket Ping 间隔(秒)
	PongTimeoutSec  int     `json:"pong_timeout_sec" yaml:"pong_timeout_sec"`   // WebSocket Pong 超时(秒)
	PaperEquity     float64 `json:"paper_equity" yaml:"paper_equity"`           // 模拟账户初始权益
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level          string `json:"level" yaml:"level"`                       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output         string `json:"output" yaml:"output"`                     // 输出模式: "console", "file", "both"
	File           string `json:"file" yaml:"file"`                         // 日志文件路径
	ProcessLogFile string `json:"process_log_file" yaml:"process_log_file"` // 决策过程日志文件，为空则不单独输出
	MaxSize        int    `json:"max_size" yaml:"max_size"`                 // 单个日志文件的最大大小 (MB)
	MaxBackups     int    `json:"max_backups" yaml:"max_backups"`           // 保留的旧日志文件最大数量
	MaxAge         int    `json:"max_age" yaml:"max_age"`                   // 旧日志文件的最大保留天数
	Compress       bool   `json:"compress" yaml:"compress"`                 // 是否压缩旧日志文件
}

// Contract 合约元数据
type Contract struct {
	Symbol     string  `json:"symbol" yaml:"symbol"`
	Exchange   string  `json:"exchange" yaml:"exchange"`
	PriceTick  float64 `json:"price_tick" yaml:"price_tick"`   // 最小变动价位
	Size       float64 `json:"size" yaml:"size"`               // 合约乘数
	MarginRate float64 `json:"margin_rate" yaml:"margin_rate"` // 保证金率
}

// LegVolume 返回某条腿在给定网格手数下的名义手数
func (c *Config) LegVolume(leg Leg, gridVolume float64) float64 {
	if leg == LegActive {
		return gridVolume * c.ActVolRatio
	}
	return gridVolume * c.PasVolRatio
}

// LegSymbol 返回腿对应的合约代码
func (c *Config) LegSymbol(leg Leg) string {
	if leg == LegActive {
		return c.ActiveSymbol
	}
	return c.PassiveSymbol
}

// LegRatio 返回腿的手数比例
func (c *Config) LegRatio(leg Leg) float64 {
	if leg == LegActive {
		return c.ActVolRatio
	}
	return c.PasVolRatio
}

// IsLockExchange 判断交易所是否允许锁仓
func (c *Config) IsLockExchange(exchange string) bool {
	for _, ex := range c.LockExchanges {
		if ex == exchange {
			return true
		}
	}
	return false
}
