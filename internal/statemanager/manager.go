package statemanager

import (
	"sync"
	"time"

	"spread-grid-bot-go/internal/models"

	"go.uber.org/zap"
)

// EventType defines the type of a normalized event
type EventType int

const (
	TickEvent EventType = iota
	OrderUpdateEvent
	TradeEvent
	TimerEvent
	StatusEvent
	ForceFlattenEvent
	SetTradingEvent
	StopEvent
)

func (t EventType) String() string {
	switch t {
	case TickEvent:
		return "tick"
	case OrderUpdateEvent:
		return "order"
	case TradeEvent:
		return "trade"
	case TimerEvent:
		return "timer"
	case StatusEvent:
		return "status"
	case ForceFlattenEvent:
		return "force_flatten"
	case SetTradingEvent:
		return "set_trading"
	case StopEvent:
		return "stop"
	}
	return "unknown"
}

// EventHandler is the strategy core driven by the event loop.
// All of its methods are called from a single goroutine.
type EventHandler interface {
	OnTick(tick models.Tick)
	OnOrder(event models.OrderEvent)
	OnTrade(event models.TradeEvent)
	OnTimer(now time.Time)
	ForceFlatten()
	SetTrading(enabled bool)
	Stop()
}

// NormalizedEvent is a standardized internal representation of an event
type NormalizedEvent struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// Options configures the periodic events of the StateManager.
type Options struct {
	TimerInterval  time.Duration
	StatusInterval time.Duration
	// StatusFunc 在事件循环内调用，可以安全读取策略状态
	StatusFunc func()
}

// StateManager serializes gateway callbacks, timers and operator commands
// onto one goroutine so the handler never needs locks.
type StateManager struct {
	handler      EventHandler
	opts         Options
	eventChannel chan NormalizedEvent
	stopChan     chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	logger       *zap.Logger
}

// NewStateManager creates a new StateManager.
func NewStateManager(handler EventHandler, opts Options, logger *zap.Logger) *StateManager {
	return &StateManager{
		handler:      handler,
		opts:         opts,
		eventChannel: make(chan NormalizedEvent, 1024), // Buffered channel
		stopChan:     make(chan struct{}),
		logger:       logger,
	}
}

// Start begins the event processing loop and the tickers.
func (sm *StateManager) Start() {
	sm.wg.Add(1)
	go sm.eventLoop()
	if sm.opts.TimerInterval > 0 {
		sm.wg.Add(1)
		go sm.tickerLoop(sm.opts.TimerInterval, TimerEvent)
	}
	if sm.opts.StatusInterval > 0 && sm.opts.StatusFunc != nil {
		sm.wg.Add(1)
		go sm.tickerLoop(sm.opts.StatusInterval, StatusEvent)
	}
	sm.logger.Sugar().Info("StateManager started.")
}

// Stop lets the handler cancel its orders inside the loop, then shuts the loop down.
func (sm *StateManager) Stop() {
	done := make(chan struct{})
	sm.DispatchEvent(NormalizedEvent{Type: StopEvent, Timestamp: time.Now(), Data: done})
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		sm.logger.Sugar().Warn("Timed out waiting for the strategy to stop.")
	}
	sm.stopOnce.Do(func() { close(sm.stopChan) })
	sm.wg.Wait()
	sm.logger.Sugar().Info("StateManager stopped.")
}

// DispatchEvent sends an event to the StateManager for processing.
// Events dispatched after Stop are dropped.
func (sm *StateManager) DispatchEvent(event NormalizedEvent) {
	select {
	case sm.eventChannel <- event:
	case <-sm.stopChan:
	}
}

// OnTick implements exchange.EventSink.
func (sm *StateManager) OnTick(tick models.Tick) {
	sm.DispatchEvent(NormalizedEvent{Type: TickEvent, Timestamp: time.Now(), Data: tick})
}

// OnOrder implements exchange.EventSink.
func (sm *StateManager) OnOrder(event models.OrderEvent) {
	sm.DispatchEvent(NormalizedEvent{Type: OrderUpdateEvent, Timestamp: time.Now(), Data: event})
}

// OnTrade implements exchange.EventSink.
func (sm *StateManager) OnTrade(event models.TradeEvent) {
	sm.DispatchEvent(NormalizedEvent{Type: TradeEvent, Timestamp: time.Now(), Data: event})
}

// ForceFlatten asks the strategy to flatten every opened grid.
func (sm *StateManager) ForceFlatten() {
	sm.DispatchEvent(NormalizedEvent{Type: ForceFlattenEvent, Timestamp: time.Now()})
}

// SetTrading pauses or resumes new orders.
func (sm *StateManager) SetTrading(enabled bool) {
	sm.DispatchEvent(NormalizedEvent{Type: SetTradingEvent, Timestamp: time.Now(), Data: enabled})
}

// eventLoop is the core processing loop that handles all incoming events serially.
func (sm *StateManager) eventLoop() {
	defer sm.wg.Done()
	for {
		select {
		case event := <-sm.eventChannel:
			sm.processEvent(event)
		case <-sm.stopChan:
			return
		}
	}
}

func (sm *StateManager) tickerLoop(interval time.Duration, eventType EventType) {
	defer sm.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			sm.DispatchEvent(NormalizedEvent{Type: eventType, Timestamp: now})
		case <-sm.stopChan:
			return
		}
	}
}

// processEvent routes one event to the handler.
func (sm *StateManager) processEvent(event NormalizedEvent) {
	defer func() {
		// 单个事件处理崩溃不能拖垮整个事件循环
		if r := recover(); r != nil {
			sm.logger.Sugar().Errorf("CRITICAL: panic while processing %s event: %v", event.Type, r)
		}
	}()

	switch event.Type {
	case TickEvent:
		if tick, ok := event.Data.(models.Tick); ok {
			sm.handler.OnTick(tick)
		} else {
			sm.logger.Sugar().Warnf("Received TickEvent with unexpected data type: %T", event.Data)
		}
	case OrderUpdateEvent:
		if update, ok := event.Data.(models.OrderEvent); ok {
			sm.handler.OnOrder(update)
		} else {
			sm.logger.Sugar().Warnf("Received OrderUpdateEvent with unexpected data type: %T", event.Data)
		}
	case TradeEvent:
		if trade, ok := event.Data.(models.TradeEvent); ok {
			sm.handler.OnTrade(trade)
		} else {
			sm.logger.Sugar().Warnf("Received TradeEvent with unexpected data type: %T", event.Data)
		}
	case TimerEvent:
		sm.handler.OnTimer(event.Timestamp)
	case StatusEvent:
		if sm.opts.StatusFunc != nil {
			sm.opts.StatusFunc()
		}
	case ForceFlattenEvent:
		sm.handler.ForceFlatten()
	case SetTradingEvent:
		if enabled, ok := event.Data.(bool); ok {
			sm.handler.SetTrading(enabled)
		} else {
			sm.logger.Sugar().Warnf("Received SetTradingEvent with unexpected data type: %T", event.Data)
		}
	case StopEvent:
		sm.handler.Stop()
		if done, ok := event.Data.(chan struct{}); ok {
			close(done)
		}
	default:
		sm.logger.Sugar().Warnf("Received unknown event type: %d", event.Type)
	}
}
