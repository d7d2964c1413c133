package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"spread-grid-bot-go/internal/models"

	"gopkg.in/yaml.v3"
)

const (
	defaultCancelSeconds   = 120
	defaultMaxRetry        = 10
	defaultLimitGuardTicks = 10
	defaultPricePrecision  = 4
	defaultTimerIntervalMs = 1000
	defaultStatusInterval  = 30
)

// LoadConfig 从指定路径加载配置文件并解析到Config结构体中。
// 根据扩展名选择 YAML 或 JSON 解析，随后补齐默认值并校验。
func LoadConfig(path string) (*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := &models.Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}

	ApplyDefaults(config)
	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyDefaults 为未设置的字段填充默认值
func ApplyDefaults(c *models.Config) {
	if c.StrategyName == "" {
		c.StrategyName = "spread_grid"
	}
	if c.Policy == "" {
		c.Policy = models.PolicySimultaneous
	}
	if c.ActVolRatio <= 0 {
		c.ActVolRatio = 1
	}
	if c.PasVolRatio <= 0 {
		c.PasVolRatio = 1
	}
	if c.OrderKind == "" {
		c.OrderKind = models.KindFAK
	}
	if c.CancelSeconds <= 0 {
		c.CancelSeconds = defaultCancelSeconds
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = defaultMaxRetry
	}
	if c.LimitGuardTicks <= 0 {
		c.LimitGuardTicks = defaultLimitGuardTicks
	}
	if c.PricePrecision <= 0 {
		c.PricePrecision = defaultPricePrecision
	}
	// 被动腿流动性较差，开仓时先行；平仓时先平主动腿
	if c.LeadLegOpen == "" {
		c.LeadLegOpen = models.LegPassive
	}
	if c.LeadLegClose == "" {
		c.LeadLegClose = models.LegActive
	}
	if c.TimerIntervalMs <= 0 {
		c.TimerIntervalMs = defaultTimerIntervalMs
	}
	if c.StatusIntervalSec <= 0 {
		c.StatusIntervalSec = defaultStatusInterval
	}
	if c.Gateway.Mode == "" {
		c.Gateway.Mode = "paper"
	}
	if c.Gateway.PingIntervalSec <= 0 {
		c.Gateway.PingIntervalSec = 54
	}
	if c.Gateway.PongTimeoutSec <= 0 {
		c.Gateway.PongTimeoutSec = 60
	}
	if c.DBPath == "" {
		c.DBPath = "data/" + c.StrategyName
	}
	if c.Contracts == nil {
		c.Contracts = make(map[string]models.Contract)
	}
	for symbol, contract := range c.Contracts {
		if contract.Symbol == "" {
			contract.Symbol = symbol
		}
		if contract.Size <= 0 {
			contract.Size = 1
		}
		c.Contracts[symbol] = contract
	}
}

// Validate 检查配置的一致性
func Validate(c *models.Config) error {
	if c.ActiveSymbol == "" || c.PassiveSymbol == "" {
		return fmt.Errorf("active_symbol 和 passive_symbol 必须配置")
	}
	// 策略名用作网格存储的键前缀
	if strings.Contains(c.StrategyName, ":") {
		return fmt.Errorf("strategy_name 不能包含 ':': %s", c.StrategyName)
	}
	if c.ActiveSymbol == c.PassiveSymbol {
		return fmt.Errorf("主动腿与被动腿不能是同一合约: %s", c.ActiveSymbol)
	}
	switch c.Policy {
	case models.PolicySimultaneous, models.PolicyTargetVolume:
	default:
		return fmt.Errorf("未知的下单策略: %s", c.Policy)
	}
	switch c.OrderKind {
	case models.KindFAK, models.KindLimit:
	default:
		return fmt.Errorf("未知的订单类型: %s", c.OrderKind)
	}
	for _, leg := range []models.Leg{c.LeadLegOpen, c.LeadLegClose} {
		if leg != models.LegActive && leg != models.LegPassive {
			return fmt.Errorf("未知的先行腿: %s", leg)
		}
	}
	for _, symbol := range []string{c.ActiveSymbol, c.PassiveSymbol} {
		contract, ok := c.Contracts[symbol]
		if !ok {
			return fmt.Errorf("缺少合约 %s 的元数据", symbol)
		}
		if contract.PriceTick <= 0 {
			return fmt.Errorf("合约 %s 的 price_tick 必须大于0", symbol)
		}
	}
	for i, g := range c.Grids {
		if g.Volume <= 0 {
			return fmt.Errorf("第 %d 个网格的 volume 必须大于0", i)
		}
		if g.Direction != models.GridLong && g.Direction != models.GridShort {
			return fmt.Errorf("第 %d 个网格的方向无效: %s", i, g.Direction)
		}
	}
	return nil
}
