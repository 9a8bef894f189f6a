package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hoale240803/kaopiz-sub000/internal/core/domain"
	"github.com/hoale240803/kaopiz-sub000/internal/core/port"
	"github.com/hoale240803/kaopiz-sub000/internal/infra/config"
)

const (
	defaultAuditBufferSize = 256
	defaultAuditTimeout    = 2 * time.Second
)

// AuditDispatcher delivers audit events to a sink from background workers.
// Record never blocks and never fails the calling flow.
type AuditDispatcher struct {
	sink    port.AuditSink
	events  chan domain.AuditEvent
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time

	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewAuditDispatcher starts the configured number of workers writing to sink.
func NewAuditDispatcher(sink port.AuditSink, cfg config.AuditSettings, logger *zap.Logger) *AuditDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}

	size := cfg.BufferSize
	if size <= 0 {
		size = defaultAuditBufferSize
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultAuditTimeout
	}

	d := &AuditDispatcher{
		sink:    sink,
		events:  make(chan domain.AuditEvent, size),
		timeout: timeout,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

// Record enqueues the event. Events are dropped when the buffer is full or the dispatcher is closed.
func (d *AuditDispatcher) Record(_ context.Context, event domain.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = d.now()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("audit dispatcher closed, dropping event", zap.String("event_type", string(event.Type)))
		return nil
	}

	select {
	case d.events <- event:
	default:
		d.logger.Warn("audit buffer full, dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("user_id", event.UserID),
		)
	}
	return nil
}

func (d *AuditDispatcher) run() {
	defer d.wg.Done()
	for event := range d.events {
		d.deliver(event)
	}
}

func (d *AuditDispatcher) deliver(event domain.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sink.Record(ctx, event); err != nil {
		d.logger.Error("audit sink failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
	}
}

// Close stops accepting events and waits until the buffer is drained.
func (d *AuditDispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.events)
		d.mu.Unlock()
	})
	d.wg.Wait()
}

var _ port.AuditSink = (*AuditDispatcher)(nil)
