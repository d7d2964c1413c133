package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"spread-grid-bot-go/internal/models"

	"github.com/gorilla/websocket"
	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

const reconnectDelay = 5 * time.Second

// wsFrame 是与网关之间交换的 JSON 帧
type wsFrame struct {
	Type    string                  `json:"type"`
	OrderID string                  `json:"order_id,omitempty"`
	Order   *wsOrder                `json:"order,omitempty"`
	Tick    *models.Tick            `json:"tick,omitempty"`
	Update  *models.OrderEvent      `json:"update,omitempty"`
	Trade   *models.TradeEvent      `json:"trade,omitempty"`
	Account *models.AccountSnapshot `json:"account,omitempty"`
}

type wsOrder struct {
	OrderID   string           `json:"order_id"`
	Symbol    string           `json:"symbol"`
	Direction models.Direction `json:"direction"`
	Offset    models.Offset    `json:"offset"`
	Volume    float64          `json:"volume"`
	Price     float64          `json:"price"`
	Kind      models.OrderKind `json:"kind"`
	Lock      bool             `json:"lock"`
}

// WSGateway 通过 WebSocket 连接外部交易网关。
// 订单号由本地生成并随下单帧发送，Submit 不等待网关应答；
// 行情与账户推送被缓存，供策略无阻塞读取。
type WSGateway struct {
	url        string
	pingPeriod time.Duration
	pongWait   time.Duration
	prefix     string
	seq        int64

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.RWMutex
	ticks   map[string]models.Tick
	account models.AccountSnapshot

	sink   EventSink
	logger *zap.Logger
}

// NewWSGateway 创建网关连接，sink 接收解码后的事件
func NewWSGateway(cfg models.GatewayConfig, sink EventSink, logger *zap.Logger) *WSGateway {
	pongWait := time.Duration(cfg.PongTimeoutSec) * time.Second
	if pongWait <= 0 {
		pongWait = 60 * time.Second
	}
	pingPeriod := time.Duration(cfg.PingIntervalSec) * time.Second
	if pingPeriod <= 0 || pingPeriod >= pongWait {
		pingPeriod = (pongWait * 9) / 10 // Must be less than pongWait
	}
	return &WSGateway{
		url:        cfg.WSURL,
		pingPeriod: pingPeriod,
		pongWait:   pongWait,
		prefix:     strconv.FormatInt(time.Now().Unix(), 36),
		ticks:      make(map[string]models.Tick),
		sink:       sink,
		logger:     logger,
	}
}

// SetSink 替换事件接收者，必须在 Run 之前调用
func (g *WSGateway) SetSink(sink EventSink) {
	g.sink = sink
}

// Run 是一个守护循环，负责维持WebSocket的连接和重连，直到 ctx 结束
func (g *WSGateway) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			g.logger.Info("WebSocket循环已停止。")
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, g.url, nil)
		if err != nil {
			g.logger.Warn("WebSocket连接失败，5秒后重试", zap.Error(err))
			if !sleepCtx(ctx, reconnectDelay) {
				return
			}
			continue
		}

		g.setConn(conn)
		g.logger.Info("WebSocket连接成功。", zap.String("url", g.url))
		// readLoop 会阻塞直到连接断开
		if err := g.readLoop(ctx, conn); err != nil {
			g.logger.Warn("WebSocket处理时发生错误", zap.Error(err))
		}
		g.setConn(nil)
		conn.Close()
		g.logger.Info("WebSocket连接已断开，准备重连...")
		if !sleepCtx(ctx, reconnectDelay) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (g *WSGateway) setConn(conn *websocket.Conn) {
	g.writeMu.Lock()
	g.conn = conn
	g.writeMu.Unlock()
}

// readLoop 为一个已建立的连接处理消息，并实现心跳机制
func (g *WSGateway) readLoop(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(g.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(g.pongWait))
	})

	pingStop := make(chan struct{})
	defer close(pingStop)
	go func() {
		ticker := time.NewTicker(g.pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
				g.writeMu.Unlock()
				if err != nil {
					g.logger.Warn("发送Ping失败", zap.Error(err))
					return
				}
			case <-pingStop:
				return
			case <-ctx.Done():
				// 关闭连接以唤醒阻塞的读取
				conn.Close()
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("读取消息失败: %w", err)
		}
		// 任何读取成功都说明连接存活
		conn.SetReadDeadline(time.Now().Add(g.pongWait))
		g.handleMessage(message)
	}
}

func (g *WSGateway) handleMessage(message []byte) {
	var frame wsFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		g.logger.Warn("解析网关消息失败", zap.Error(err))
		return
	}
	switch frame.Type {
	case "tick":
		if frame.Tick == nil {
			return
		}
		g.mu.Lock()
		g.ticks[frame.Tick.Symbol] = *frame.Tick
		g.mu.Unlock()
		g.sink.OnTick(*frame.Tick)
	case "order":
		if frame.Update != nil {
			g.sink.OnOrder(*frame.Update)
		}
	case "trade":
		if frame.Trade != nil {
			g.sink.OnTrade(*frame.Trade)
		}
	case "account":
		if frame.Account != nil {
			g.mu.Lock()
			g.account = *frame.Account
			g.mu.Unlock()
		}
	default:
		g.logger.Debug("忽略未知类型的网关消息", zap.String("type", frame.Type))
	}
}

func (g *WSGateway) write(frame wsFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	if g.conn == nil {
		return fmt.Errorf("网关未连接")
	}
	g.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return g.conn.WriteMessage(websocket.TextMessage, data)
}

// Submit 生成本地订单号并发送下单帧
func (g *WSGateway) Submit(req models.OrderRequest) ([]string, error) {
	g.writeMu.Lock()
	g.seq++
	id := g.prefix + "-" + string(base62.FormatInt(g.seq))
	g.writeMu.Unlock()

	order := &wsOrder{
		OrderID:   id,
		Symbol:    req.Symbol,
		Direction: req.Direction,
		Offset:    req.Offset,
		Volume:    req.Volume,
		Price:     req.Price,
		Kind:      req.Kind,
		Lock:      req.Lock,
	}
	if err := g.write(wsFrame{Type: "submit", Order: order}); err != nil {
		return nil, fmt.Errorf("发送下单请求失败: %w", err)
	}
	return []string{id}, nil
}

// Cancel 发送撤单帧
func (g *WSGateway) Cancel(orderID string) bool {
	if err := g.write(wsFrame{Type: "cancel", OrderID: orderID}); err != nil {
		g.logger.Warn("发送撤单请求失败", zap.String("order_id", orderID), zap.Error(err))
		return false
	}
	return true
}

// Tick 返回缓存的行情
func (g *WSGateway) Tick(symbol string) (models.Tick, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.ticks[symbol]
	return t, ok
}

// Snapshot 返回最近一次推送的账户快照
func (g *WSGateway) Snapshot() models.AccountSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.account
}
