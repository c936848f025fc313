package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/driftwoodlabs/quantbot/internal/domain"
)

// Engine routes trade events to per-instrument workers and closes windows on
// wall-clock boundaries. Each instrument gets one worker goroutine, so
// instruments never block each other while event application and window
// close within one instrument stay serialized. Unseen instruments allocate a
// worker lazily on first event; windows close on a timer even when the
// instrument is idle.
type Engine struct {
	window time.Duration
	buffer int
	bus    domain.MetricsBus
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	workers map[string]*worker
	ctx     context.Context
	wg      sync.WaitGroup
}

const defaultBufferSize = 128

// NewEngine creates an Engine emitting to bus on every closed window.
func NewEngine(window time.Duration, bus domain.MetricsBus, logger *slog.Logger) *Engine {
	return &Engine{
		window:  window,
		buffer:  defaultBufferSize,
		bus:     bus,
		logger:  logger.With(slog.String("component", "aggregator")),
		now:     time.Now,
		workers: make(map[string]*worker),
	}
}

// SetBufferSize overrides the per-instrument event buffer capacity. Must be
// called before Run.
func (e *Engine) SetBufferSize(n int) {
	if n > 0 {
		e.buffer = n
	}
}

// Run starts the engine and blocks until ctx is cancelled, then waits for
// all instrument workers to drain and stop.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.ctx != nil {
		e.mu.Unlock()
		return fmt.Errorf("aggregator: engine already running")
	}
	e.ctx = ctx
	e.mu.Unlock()

	e.logger.Info("aggregation engine started", slog.Duration("window", e.window))
	defer e.logger.Info("aggregation engine stopped")

	<-ctx.Done()
	e.wg.Wait()
	return ctx.Err()
}

// Ingest validates ev and routes it to its instrument's worker, creating the
// worker on first sight of the instrument. Malformed events are dropped with
// a warning. Ingest preserves arrival order per instrument: it blocks when
// the instrument's buffer is full rather than reordering or dropping.
func (e *Engine) Ingest(ctx context.Context, ev domain.TradeEvent) error {
	if err := ev.Validate(); err != nil {
		e.logger.Warn("dropping malformed trade event",
			slog.String("symbol", ev.Symbol),
			slog.String("error", err.Error()),
		)
		return nil
	}

	w, err := e.workerFor(ev.Symbol)
	if err != nil {
		return err
	}

	select {
	case w.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InstrumentCount returns how many instruments have been discovered.
func (e *Engine) InstrumentCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.workers)
}

func (e *Engine) workerFor(symbol string) (*worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctx == nil {
		return nil, fmt.Errorf("aggregator: engine not running")
	}
	if w, ok := e.workers[symbol]; ok {
		return w, nil
	}

	start := e.now().Truncate(e.window)
	w := &worker{
		engine: e,
		symbol: symbol,
		events: make(chan domain.TradeEvent, e.buffer),
		acc:    NewAccumulator(symbol, start),
		next:   start.Add(e.window),
	}
	e.workers[symbol] = w
	e.wg.Add(1)
	go w.run(e.ctx)

	e.logger.Info("instrument discovered", slog.String("symbol", symbol))
	return w, nil
}

// worker owns one instrument's accumulator. Event application and window
// close happen on its single goroutine.
type worker struct {
	engine *Engine
	symbol string
	events chan domain.TradeEvent
	acc    *Accumulator
	next   time.Time // next window boundary
}

func (w *worker) run(ctx context.Context) {
	defer w.engine.wg.Done()

	timer := time.NewTimer(time.Until(w.next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.events:
			w.acc.Observe(ev)
		case <-timer.C:
			w.closeElapsed(ctx)
			timer.Reset(time.Until(w.next))
		}
	}
}

// closeElapsed closes every boundary that has passed. Normally that is one
// window; after a stall it emits one result per elapsed window so no window
// is skipped and none is emitted twice.
func (w *worker) closeElapsed(ctx context.Context) {
	now := w.engine.now()
	for !w.next.After(now) {
		w.emit(ctx, w.acc.Close(w.next))
		w.acc.Reset(w.next)
		w.next = w.next.Add(w.engine.window)
	}
}

func (w *worker) emit(ctx context.Context, res domain.WindowResult) {
	if err := w.engine.bus.Publish(ctx, res); err != nil {
		w.engine.logger.Error("window result publish failed",
			slog.String("symbol", res.Symbol),
			slog.Time("window_end", res.WindowEnd),
			slog.String("error", err.Error()),
		)
		return
	}
	w.engine.logger.Debug("window closed",
		slog.String("symbol", res.Symbol),
		slog.Time("window_end", res.WindowEnd),
		slog.Int64("trades", res.TradeCount),
	)
}
