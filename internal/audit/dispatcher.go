package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering and retry behavior.
type Config struct {
	Enabled       bool
	BufferSize    int
	DropIfFull    bool
	RetryBuffer   int
	RetryInterval time.Duration
}

// Dispatcher asynchronously persists audit events through a Store and
// forwards them to an optional observer Sink. Persistence failures never
// propagate to the caller: the event is parked on a bounded retry buffer
// and the Alerter is notified.
type Dispatcher struct {
	cfg     Config
	store   Store
	sink    Sink
	alerter Alerter

	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once

	// retry is owned by the run goroutine.
	retry []Event
}

func NewDispatcher(cfg Config, store Store, sink Sink, alerter Alerter) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.RetryBuffer <= 0 {
		cfg.RetryBuffer = 256
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:     cfg,
		store:   store,
		sink:    sink,
		alerter: alerter,
		ch:      make(chan Event, cfg.BufferSize),
		done:    make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-d.ch:
			d.persist(event)
		case <-ticker.C:
			d.flushRetries()
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.persist(event)
				default:
					d.flushRetries()
					return
				}
			}
		}
	}
}

func (d *Dispatcher) persist(event Event) {
	d.sink.Emit(context.Background(), event)

	if d.store == nil {
		return
	}
	if err := d.store.Append(context.Background(), event); err != nil {
		d.park(event, err)
	}
}

func (d *Dispatcher) park(event Event, cause error) {
	if len(d.retry) >= d.cfg.RetryBuffer {
		// Oldest event gives way; losing it is still recorded.
		d.retry = d.retry[1:]
		d.dropped.Add(1)
	}
	d.retry = append(d.retry, event)

	if d.alerter != nil {
		d.alerter.Notify(context.Background(), "audit event persistence failed", cause)
	}
}

func (d *Dispatcher) flushRetries() {
	if d.store == nil || len(d.retry) == 0 {
		return
	}

	remaining := d.retry[:0]
	for i, event := range d.retry {
		if err := d.store.Append(context.Background(), event); err != nil {
			// Backend still down; keep the rest for the next tick.
			remaining = append(remaining, d.retry[i:]...)
			break
		}
	}
	d.retry = remaining
}

// Emit queues an event for persistence. It never returns an error; under
// DropIfFull backpressure the event is counted as dropped instead of
// blocking the authentication path.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
		// Caller gave up before the buffer freed; the event is lost and
		// the loss is counted.
		d.dropped.Add(1)
	case <-d.done:
	}
}

// Close drains pending events and stops the dispatcher.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports how many events were lost to backpressure or retry
// buffer overflow since startup.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
