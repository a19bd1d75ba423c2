package authgate

import (
	"context"
	"sync"
	"sync/atomic"
)

// auditQueue hands events to the sink on a worker goroutine so that a slow sink
// never holds a transition. A nil queue means auditing is off.
type auditQueue struct {
	sink       AuditSink
	events     chan AuditEvent
	stop       chan struct{}
	dropIfFull bool

	worker   sync.WaitGroup
	dropped  atomic.Uint64
	stopped  atomic.Bool
	stopOnce sync.Once
}

func newAuditQueue(cfg AuditConfig, sink AuditSink) *auditQueue {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = AuditSinkFunc(nil)
	}
	q := &auditQueue{
		sink:       sink,
		events:     make(chan AuditEvent, max(cfg.BufferSize, 1)),
		stop:       make(chan struct{}),
		dropIfFull: cfg.DropIfFull,
	}
	q.worker.Add(1)
	go q.loop()
	return q
}

func (q *auditQueue) loop() {
	defer q.worker.Done()
	for {
		select {
		case ev := <-q.events:
			q.sink.Record(context.Background(), ev)
		case <-q.stop:
			q.flush()
			return
		}
	}
}

// flush records whatever is still buffered at shutdown.
func (q *auditQueue) flush() {
	for {
		select {
		case ev := <-q.events:
			q.sink.Record(context.Background(), ev)
		default:
			return
		}
	}
}

// enqueue reports whether ev was accepted. A full buffer drops ev when dropIfFull is
// set and otherwise waits for room until ctx ends or the queue shuts down.
func (q *auditQueue) enqueue(ctx context.Context, ev AuditEvent) bool {
	if q == nil || q.stopped.Load() {
		return false
	}
	if q.dropIfFull {
		select {
		case q.events <- ev:
			return true
		case <-q.stop:
			return false
		default:
			q.dropped.Add(1)
			return false
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case q.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-q.stop:
		return false
	}
}

// shutdown flushes buffered events and waits for the worker. Repeated calls are no-ops.
func (q *auditQueue) shutdown() {
	if q == nil {
		return
	}
	q.stopOnce.Do(func() {
		q.stopped.Store(true)
		close(q.stop)
		q.worker.Wait()
	})
}

func (q *auditQueue) droppedEvents() uint64 {
	if q == nil {
		return 0
	}
	return q.dropped.Load()
}
