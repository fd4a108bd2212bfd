package eventbus

import (
	"sync"
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"

	"sunforge-server/internal/platform/logging"
)

// AsyncEventBus delivers events on a fixed pool of workers so publishers never
// wait on subscribers.
type AsyncEventBus struct {
	bus       evbus.Bus
	workerNum int
	workChan  chan asyncEvent
	stopChan  chan struct{}
	wg        sync.WaitGroup
	pending   sync.WaitGroup
	dropped   atomic.Int64
	stopOnce  sync.Once
	logger    *logging.Logger
}

type asyncEvent struct {
	topic string
	args  []any
}

// NewAsyncEventBus creates a bus with workerNum workers and a queue of 1000.
func NewAsyncEventBus(workerNum int) *AsyncEventBus {
	if workerNum <= 0 {
		workerNum = 10
	}

	return &AsyncEventBus{
		bus:       evbus.New(),
		workerNum: workerNum,
		workChan:  make(chan asyncEvent, 1000),
		stopChan:  make(chan struct{}),
	}
}

// WithLogger sets the logger used for dropped events and subscriber panics.
func (aeb *AsyncEventBus) WithLogger(logger *logging.Logger) *AsyncEventBus {
	aeb.logger = logger
	return aeb
}

func (aeb *AsyncEventBus) Start() {
	for i := 0; i < aeb.workerNum; i++ {
		aeb.wg.Add(1)
		go aeb.worker()
	}
}

// Stop drains nothing: queued events that no worker picked up are discarded.
func (aeb *AsyncEventBus) Stop() {
	aeb.stopOnce.Do(func() {
		close(aeb.stopChan)
		aeb.wg.Wait()
	})
}

func (aeb *AsyncEventBus) worker() {
	defer aeb.wg.Done()

	for {
		select {
		case <-aeb.stopChan:
			return
		case event := <-aeb.workChan:
			aeb.deliver(event)
		}
	}
}

func (aeb *AsyncEventBus) deliver(event asyncEvent) {
	defer aeb.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			aeb.logger.ErrorTag("Events", "subscriber panic on %s: %v", event.topic, r)
		}
	}()
	aeb.bus.Publish(event.topic, event.args...)
}

// PublishAsync queues the event. When the queue is full the event is dropped.
func (aeb *AsyncEventBus) PublishAsync(topic string, args ...any) {
	aeb.pending.Add(1)
	select {
	case aeb.workChan <- asyncEvent{topic: topic, args: args}:
	default:
		aeb.pending.Done()
		aeb.dropped.Add(1)
		aeb.logger.WarnTag("Events", "queue full, dropped %s", topic)
	}
}

func (aeb *AsyncEventBus) Subscribe(topic string, fn any) error {
	return aeb.bus.Subscribe(topic, fn)
}

func (aeb *AsyncEventBus) HasCallback(topic string) bool {
	return aeb.bus.HasCallback(topic)
}

// Dropped reports how many events were discarded because the queue was full.
func (aeb *AsyncEventBus) Dropped() int64 {
	return aeb.dropped.Load()
}

// WaitAsync blocks until every queued event has been delivered. It must not
// be called after Stop.
func (aeb *AsyncEventBus) WaitAsync() {
	aeb.pending.Wait()
}
