package exchange

import (
	"sync"
	"testing"
	"time"

	"spread-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedSink 在放行前阻塞所有投递，模拟已满的事件队列
type gatedSink struct {
	gate   chan struct{}
	mu     sync.Mutex
	orders []string
}

func (s *gatedSink) OnTick(models.Tick) { <-s.gate }

func (s *gatedSink) OnOrder(e models.OrderEvent) {
	<-s.gate
	s.mu.Lock()
	s.orders = append(s.orders, e.OrderID)
	s.mu.Unlock()
}

func (s *gatedSink) OnTrade(models.TradeEvent) { <-s.gate }

func (s *gatedSink) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.orders...)
}

func TestAsyncSinkDoesNotBlockWhenDownstreamIsStuck(t *testing.T) {
	down := &gatedSink{gate: make(chan struct{})}
	sink := NewAsyncSink(down)

	returned := make(chan struct{})
	go func() {
		for _, id := range []string{"1", "2", "3"} {
			sink.OnOrder(models.OrderEvent{OrderID: id})
		}
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("delivery blocked on a stuck downstream")
	}

	close(down.gate)
	assert.Eventually(t, func() bool { return len(down.received()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"1", "2", "3"}, down.received())
	sink.Close()
}

func TestPaperExchangeSubmitThroughAsyncSink(t *testing.T) {
	ex, rec := newPaper(t)
	down := &gatedSink{gate: make(chan struct{})}
	sink := NewAsyncSink(down)
	ex.SetSink(sink)
	ex.SetTick(book("A", 99, 100, 10))

	_, err := ex.Submit(models.OrderRequest{Symbol: "A", Direction: models.Long, Offset: models.Open, Volume: 1, Price: 100, Kind: models.KindFAK})
	require.NoError(t, err)
	assert.Greater(t, sink.Pending(), 0)
	assert.Empty(t, rec.orders, "events go to the forwarder, not the original sink")

	close(down.gate)
	assert.Eventually(t, func() bool { return sink.Pending() == 0 }, time.Second, 5*time.Millisecond)
	sink.Close()
	assert.NotEmpty(t, down.received())
}
