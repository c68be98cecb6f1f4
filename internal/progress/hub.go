package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/gumgenie-scout/internal/metrics"
)

// Config tunes how the Hub buffers events before handing them to sinks.
// Zero values fall back to the defaults below.
type Config struct {
	// BufferSize is the number of events Emit can queue before dropping.
	BufferSize int
	// MaxBatchEvents flushes a batch as soon as it holds this many events.
	MaxBatchEvents int
	// MaxBatchWait flushes a partial batch after this long.
	MaxBatchWait time.Duration
	// SinkTimeout bounds each Consume call.
	SinkTimeout time.Duration
	BaseContext context.Context
	Logger      *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 100
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 5 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Hub batches run events and hands each batch to every sink in order.
// Emit never blocks the pipeline: when the buffer is full the event is
// counted and dropped. A run's terminal event (RUN_DONE or RUN_ERROR) is
// flushed without waiting for the batch timer so status views settle as
// soon as the run does.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger

	dropped atomic.Int64
	dropLog rate.Sometimes
	closed  atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine. Nil sinks are ignored.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = withDefaults(cfg)
	live := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   live,
		events:  make(chan Event, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  cfg.Logger,
		dropLog: rate.Sometimes{Interval: dropLogInterval},
	}
	go h.loop()
	return h
}

func withDefaults(cfg Config) Config {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg
}

// Emit queues evt for the sinks. Invalid events and events emitted after
// Close are discarded. A nil *Hub accepts and ignores everything.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event",
			zap.String("stage", string(evt.Stage)),
			zap.Error(err),
		)
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
		metrics.ObserveProgressDropped(string(evt.Stage))
		h.dropLog.Do(func() {
			h.logger.Warn("progress buffer full, dropping events",
				zap.Int64("dropped", h.dropped.Swap(0)),
				zap.String("run_id", evt.RunUUID().String()),
			)
		})
	}
}

// Close stops intake, flushes whatever is buffered and closes every sink.
// It waits for that to finish or for ctx to expire. Calling it again is a
// no-op wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.doneCh)
	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	ticker := time.NewTicker(h.cfg.MaxBatchWait)
	defer ticker.Stop()

	emit := func() {
		if len(batch) == 0 {
			return
		}
		h.deliver(batch)
		batch = batch[:0]
	}
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents || endsRun(evt.Stage) {
				emit()
			}
		case <-ticker.C:
			emit()
		case <-h.stopCh:
			for len(h.events) > 0 {
				batch = append(batch, <-h.events)
			}
			emit()
			h.closeSinks()
			return
		}
	}
}

func endsRun(s Stage) bool {
	return s == StageRunDone || s == StageRunError
}

// deliver hands each sink its own copy of the batch so the loop can reuse
// the backing array.
func (h *Hub) deliver(batch []Event) {
	out := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, out); err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Int("events", len(out)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed",
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Error(err),
			)
		}
	}
}
