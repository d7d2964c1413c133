package exchange

import (
	"sync"

	"spread-grid-bot-go/internal/models"
)

// AsyncSink 把事件放入队列，由单独的 goroutine 按到达顺序转发给下游。
// 模拟撮合在事件循环内部下单时通过它投递回报，投递不会阻塞调用方。
type AsyncSink struct {
	next   EventSink
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func(EventSink)
	closed bool
	done   chan struct{}
}

// NewAsyncSink 创建并启动转发器
func NewAsyncSink(next EventSink) *AsyncSink {
	s := &AsyncSink{
		next: next,
		done: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

func (s *AsyncSink) OnTick(tick models.Tick) {
	s.push(func(next EventSink) { next.OnTick(tick) })
}

func (s *AsyncSink) OnOrder(event models.OrderEvent) {
	s.push(func(next EventSink) { next.OnOrder(event) })
}

func (s *AsyncSink) OnTrade(event models.TradeEvent) {
	s.push(func(next EventSink) { next.OnTrade(event) })
}

// Pending 返回尚未转发的事件数量
func (s *AsyncSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close 转发完已排队的事件后退出，之后的事件被丢弃
func (s *AsyncSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.done
}

func (s *AsyncSink) push(fn func(EventSink)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, fn)
	s.cond.Signal()
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		fn(s.next)
	}
}
