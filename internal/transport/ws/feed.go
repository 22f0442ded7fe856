package ws

import (
	"sync"

	"github.com/bytedance/sonic"

	"chartlens-server-go/internal/domain/eventbus"
	"chartlens-server-go/internal/domain/verdict"
	"chartlens-server-go/internal/platform/errors"
	"chartlens-server-go/internal/platform/logging"
)

// Message types pushed on the verdict feed.
const (
	MessageVerdict = "verdict"
	MessageBatch   = "batch"
)

// FeedMessage is one frame of the verdict feed.
type FeedMessage struct {
	Type    string                   `json:"type"`
	Cached  bool                     `json:"cached,omitempty"`
	Verdict *verdict.Verdict         `json:"verdict,omitempty"`
	Batch   *eventbus.BatchEventData `json:"batch,omitempty"`
}

// Feed relays verdict events from the bus to every hub session.
type Feed struct {
	bus    eventbus.Subscriber
	hub    *Hub
	logger *logging.Logger

	mu        sync.Mutex
	started   bool
	onVerdict func(eventbus.VerdictEventData)
	onBatch   func(eventbus.BatchEventData)
}

// NewFeed builds a feed over bus and hub.
func NewFeed(bus eventbus.Subscriber, hub *Hub, logger *logging.Logger) *Feed {
	if logger == nil {
		logger = logging.Default()
	}
	f := &Feed{bus: bus, hub: hub, logger: logger}
	f.onVerdict = f.relayVerdict
	f.onBatch = f.relayBatch
	return f
}

// Start subscribes to the verdict and batch topics.
func (f *Feed) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return nil
	}
	if err := f.bus.Subscribe(eventbus.EventChartVerdict, f.onVerdict); err != nil {
		return errors.Wrap(errors.KindTransport, "ws.feed.start", "subscribe to verdicts", err)
	}
	if err := f.bus.Subscribe(eventbus.EventChartBatch, f.onBatch); err != nil {
		_ = f.bus.Unsubscribe(eventbus.EventChartVerdict, f.onVerdict)
		return errors.Wrap(errors.KindTransport, "ws.feed.start", "subscribe to batches", err)
	}
	f.started = true
	return nil
}

// Stop unsubscribes and closes every session.
func (f *Feed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return
	}
	_ = f.bus.Unsubscribe(eventbus.EventChartVerdict, f.onVerdict)
	_ = f.bus.Unsubscribe(eventbus.EventChartBatch, f.onBatch)
	f.hub.CloseAll(ErrSessionShutdown)
	f.started = false
}

func (f *Feed) relayVerdict(data eventbus.VerdictEventData) {
	v := data.Verdict
	f.broadcast(FeedMessage{Type: MessageVerdict, Cached: data.Cached, Verdict: &v})
}

func (f *Feed) relayBatch(data eventbus.BatchEventData) {
	f.broadcast(FeedMessage{Type: MessageBatch, Batch: &data})
}

func (f *Feed) broadcast(msg FeedMessage) {
	payload, err := sonic.Marshal(msg)
	if err != nil {
		f.logger.ErrorTag("WS", "encode feed message: %v", err)
		return
	}
	if n := f.hub.Broadcast(payload); n > 0 {
		f.logger.DebugTag("WS", "%s pushed to %d subscribers", msg.Type, n)
	}
}
