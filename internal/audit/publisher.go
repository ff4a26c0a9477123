package audit

import (
	"context"
	"sync"
	"time"

	"intent-engine/internal/common/errors"
	"intent-engine/internal/common/logger"
	"intent-engine/internal/intent/engine"
)

const DefaultBufferSize = 256

// Publisher is an engine.Observer that hands events to its sinks from a
// single background goroutine. Events are dropped when the buffer is full.
type Publisher struct {
	sinks   []Sink
	events  chan Event
	timeout time.Duration
	logger  logger.Logger
	now     func() time.Time

	// mu guards closed; senders hold it shared so events is never closed
	// under a send.
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

var _ engine.Observer = (*Publisher)(nil)

func NewPublisher(log logger.Logger, bufferSize int, sinks ...Sink) *Publisher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	p := &Publisher{
		sinks:   sinks,
		events:  make(chan Event, bufferSize),
		timeout: 5 * time.Second,
		logger:  log.WithFields(map[string]interface{}{"component": "audit"}),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Publisher) Resolved(_ context.Context, res *engine.Result) {
	p.enqueue(resolvedEvent(res, p.now()))
}

func (p *Publisher) Failed(_ context.Context, req engine.Request, requestID string, err error) {
	p.enqueue(failedEvent(req, requestID, err, p.now()))
}

func (p *Publisher) enqueue(ev Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.logger.Warn("Audit publisher closed, dropping event", map[string]interface{}{
			"requestId": ev.RequestID,
		})
		return
	}
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("Audit buffer full, dropping event", map[string]interface{}{
			"requestId": ev.RequestID,
		})
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for ev := range p.events {
		for _, s := range p.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
			if err := s.Publish(ctx, ev); err != nil {
				std := errors.NewAuditPublishFailedError(s.Name(), err)
				p.logger.Error("Audit publish failed", map[string]interface{}{
					"sink":      s.Name(),
					"requestId": ev.RequestID,
					"errorCode": string(std.Code),
					"error":     err.Error(),
				})
			}
			cancel()
		}
	}
}

// Close stops accepting events and waits for queued ones to be published.
// Events arriving afterwards are dropped.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
