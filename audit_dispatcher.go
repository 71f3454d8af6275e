package authcore

import (
	"context"
	"sync"
	"sync/atomic"
)

// auditDispatcher decouples audit emission from the request path. Events are
// queued onto a buffered channel and delivered by a single worker goroutine,
// so a slow sink never stalls a login.
type auditDispatcher struct {
	sink       AuditSink
	events     chan AuditEvent
	done       chan struct{}
	wg         sync.WaitGroup
	dropped    uint64
	dropIfFull bool
	closeOnce  sync.Once
}

func newAuditDispatcher(sink AuditSink, queueSize int, dropIfFull bool) *auditDispatcher {
	if sink == nil {
		sink = NoOpSink{}
	}
	if queueSize < 1 {
		queueSize = 1
	}

	d := &auditDispatcher{
		sink:       sink,
		events:     make(chan AuditEvent, queueSize),
		done:       make(chan struct{}),
		dropIfFull: dropIfFull,
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *auditDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.events:
			d.sink.Emit(context.Background(), event)
		case <-d.done:
			// Drain what is already queued before exiting.
			for {
				select {
				case event := <-d.events:
					d.sink.Emit(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

// Emit queues one event. With DropIfFull the event is counted and discarded
// when the queue is full; otherwise Emit blocks until there is room or the
// dispatcher closes.
func (d *auditDispatcher) Emit(event AuditEvent) {
	if d == nil {
		return
	}

	if d.dropIfFull {
		select {
		case d.events <- event:
		default:
			atomic.AddUint64(&d.dropped, 1)
		}
		return
	}

	select {
	case d.events <- event:
	case <-d.done:
		atomic.AddUint64(&d.dropped, 1)
	}
}

// Dropped reports how many events were discarded under queue pressure.
func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return atomic.LoadUint64(&d.dropped)
}

// Close stops the worker after draining the queue. Safe to call twice.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		close(d.done)
		d.wg.Wait()
	})
}
