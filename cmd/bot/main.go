package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spread-grid-bot-go/internal/backtest"
	"spread-grid-bot-go/internal/bot"
	"spread-grid-bot-go/internal/config"
	"spread-grid-bot-go/internal/exchange"
	"spread-grid-bot-go/internal/gridtable"
	"spread-grid-bot-go/internal/ledger"
	"spread-grid-bot-go/internal/logger"
	"spread-grid-bot-go/internal/models"
	"spread-grid-bot-go/internal/notify"
	"spread-grid-bot-go/internal/persistence"
	"spread-grid-bot-go/internal/reporter"
	"spread-grid-bot-go/internal/statemanager"
	"spread-grid-bot-go/internal/storage"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.yaml", "path to the config file (yaml or json)")
	mode := flag.String("mode", "live", "running mode: live, backtest or history")
	dataPath := flag.String("data", "", "path to the tick csv file for backtesting")
	equity := flag.Float64("equity", 1000000, "initial equity of the simulated account for backtesting")
	gridID := flag.String("grid", "", "grid id whose order history to print (history mode)")
	flag.Parse()

	// 为了在加载.env或配置时就能记录日志，先用默认配置初始化
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}
	// 网关地址和告警地址可能带有凭证，允许从环境变量覆盖
	if url := os.Getenv("SPREAD_GATEWAY_URL"); url != "" {
		cfg.Gateway.WSURL = url
	}
	if url := os.Getenv("SPREAD_WEBHOOK_URL"); url != "" {
		cfg.NotifyWebhookURL = url
	}

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.LogConfig)
	logger.InitProcessLogger(cfg.LogConfig)
	defer logger.S().Sync() // 确保在main函数退出时刷新所有缓冲的日志

	switch *mode {
	case "live":
		runLiveMode(cfg)
	case "backtest":
		if *dataPath == "" {
			logger.S().Fatal("回测模式需要通过 --data 指定行情文件")
		}
		runBacktestMode(cfg, *dataPath, *equity)
	case "history":
		runHistoryMode(cfg, *gridID)
	default:
		logger.S().Fatalf("未知的运行模式: %s。请选择 'live'、'backtest' 或 'history'。", *mode)
	}
}

// runLiveMode 连接网关运行策略，直到收到退出信号
func runLiveMode(cfg *models.Config) {
	logger.S().Infof("--- 启动实时交易模式 (%s, 网关 %s) ---", cfg.Policy, cfg.Gateway.Mode)
	if cfg.Gateway.WSURL == "" {
		logger.S().Fatal("实时模式需要配置 gateway.ws_url 或环境变量 SPREAD_GATEWAY_URL")
	}

	repo, err := persistence.NewBadgerRepository(cfg.DBPath, cfg.StrategyName)
	if err != nil {
		logger.S().Fatalf("无法打开网格存储: %v", err)
	}
	defer repo.Close()

	var journal bot.OrderJournal
	if cfg.JournalPath != "" {
		j, err := storage.OpenJournal(cfg.JournalPath)
		if err != nil {
			logger.S().Fatalf("无法打开订单历史: %v", err)
		}
		defer j.Close()
		journal = j
	}

	// ws 模式下单、行情、账户都走网关；paper 模式只从网关取行情，撮合在本地模拟
	ws := exchange.NewWSGateway(cfg.Gateway, nil, logger.L().Named("gateway"))
	deps := bot.Deps{
		Gateway:       ws,
		Market:        ws,
		Account:       ws,
		Table:         gridtable.New(repo, logger.L()),
		Journal:       journal,
		Notifier:      notify.New(cfg.NotifyWebhookURL, cfg.StrategyName, logger.L()),
		Logger:        logger.L(),
		ProcessLogger: logger.P(),
	}
	var paper *exchange.PaperExchange
	if cfg.Gateway.Mode == "paper" {
		equity := cfg.Gateway.PaperEquity
		if equity <= 0 {
			equity = 1000000
		}
		paper = exchange.NewPaperExchange(cfg.Contracts, equity)
		deps.Gateway, deps.Market, deps.Account = paper, paper, paper
	}

	spreadBot := bot.New(cfg, deps)
	if err := spreadBot.Start(); err != nil {
		logger.S().Fatalf("策略启动失败: %v", err)
	}
	// 网格表为空时按配置创建初始网格
	if spreadBot.Table().Len() == 0 {
		for _, gc := range cfg.Grids {
			spreadBot.AddGrid(models.NewGrid("", gc.Direction, gc.Volume, gc.OpenPrice, gc.ClosePrice))
		}
	}

	manager := statemanager.NewStateManager(spreadBot, statemanager.Options{
		TimerInterval:  time.Duration(cfg.TimerIntervalMs) * time.Millisecond,
		StatusInterval: time.Duration(cfg.StatusIntervalSec) * time.Second,
		StatusFunc: func() {
			logger.S().Info("\n" + reporter.RenderGrids(spreadBot.Table().All(), spreadBot.Ledger(), spreadBot.Tracker().ActiveCount()))
		},
	}, logger.L().Named("events"))
	if paper != nil {
		// 模拟撮合在事件循环内同步产生回报，经转发器投递，避免事件循环等待自己
		forwarder := exchange.NewAsyncSink(manager)
		defer forwarder.Close()
		paper.SetSink(forwarder)
		ws.SetSink(paper)
	} else {
		ws.SetSink(manager)
	}
	manager.Start()

	srv := startMetricsServer(cfg.MetricsAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ws.Run(ctx)

	// SIGUSR1 触发强制平仓；SIGINT/SIGTERM 优雅退出
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	for sig := range signals {
		if sig == syscall.SIGUSR1 {
			logger.S().Warn("收到 SIGUSR1，进入强制平仓模式")
			manager.ForceFlatten()
			continue
		}
		break
	}

	logger.S().Info("正在停止策略...")
	manager.Stop()
	cancel()
	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	}
	logger.S().Info("策略已成功停止，网格已保存。")
}

// startMetricsServer 暴露 /metrics 和 /healthz
func startMetricsServer(addr string) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.S().Infof("serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.S().Errorf("metrics server: %v", err)
		}
	}()
	return srv
}

// runBacktestMode 用模拟撮合回放行情文件并打印报告
func runBacktestMode(cfg *models.Config, dataPath string, equity float64) {
	logger.S().Info("--- 启动回测模式 ---")
	ticks, err := backtest.LoadTicks(dataPath)
	if err != nil {
		logger.S().Fatalf("无法加载行情文件: %v", err)
	}
	if len(cfg.Grids) == 0 {
		logger.S().Fatal("回测模式需要在配置中定义 grids")
	}

	replayer, err := backtest.NewReplayer(cfg, equity, logger.L())
	if err != nil {
		logger.S().Fatalf("无法创建回放器: %v", err)
	}
	defer replayer.Close()
	result := replayer.Run(ticks)

	fmt.Println(reporter.RenderBacktest(dataPath, result))
	fmt.Println(reporter.RenderGrids(result.Grids, replayer.Bot().Ledger(), result.ActiveOrders))
}

// runHistoryMode 打印网格表，或指定网格的订单历史
func runHistoryMode(cfg *models.Config, gridID string) {
	if gridID == "" {
		repo, err := persistence.NewBadgerRepository(cfg.DBPath, cfg.StrategyName)
		if err != nil {
			logger.S().Fatalf("无法打开网格存储: %v", err)
		}
		defer repo.Close()
		table := gridtable.New(repo, logger.L())
		if err := table.Load(); err != nil {
			logger.S().Fatalf("无法加载网格: %v", err)
		}
		fmt.Println(reporter.RenderGrids(table.All(), ledger.Rebuild(table.All()), 0))
		return
	}

	if cfg.JournalPath == "" {
		logger.S().Fatal("未配置 journal_path，没有订单历史")
	}
	journal, err := storage.OpenJournal(cfg.JournalPath)
	if err != nil {
		logger.S().Fatalf("无法打开订单历史: %v", err)
	}
	defer journal.Close()
	entries, err := journal.OrdersForGrid(gridID)
	if err != nil {
		logger.S().Fatalf("查询订单历史失败: %v", err)
	}
	fmt.Println(reporter.RenderOrders(gridID, entries))
}
