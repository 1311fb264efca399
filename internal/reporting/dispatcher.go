package reporting

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"enforce/pkg/platform/circuit"
)

// FailureFunc is called from a worker when a beacon could not be delivered.
type FailureFunc func(ctx context.Context, req Request, err error)

// Dispatcher sends beacons in the background. Delivery order between
// beacons is not guaranteed and failed sends are never retried.
type Dispatcher struct {
	transport   Transport
	breaker     *circuit.Breaker
	metrics     *Metrics
	logger      *slog.Logger
	tracer      trace.Tracer
	onFailure   FailureFunc
	workers     int
	sendTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Request
	wg     sync.WaitGroup
}

type DispatcherOption func(*Dispatcher)

func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Request, n)
		}
	}
}

func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sendTimeout = timeout
		}
	}
}

func WithBreaker(b *circuit.Breaker) DispatcherOption {
	return func(d *Dispatcher) {
		if b != nil {
			d.breaker = b
		}
	}
}

func WithMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) DispatcherOption {
	return func(d *Dispatcher) {
		if tp != nil {
			d.tracer = tp.Tracer("enforce/reporting")
		}
	}
}

// WithFailureHandler registers the hook invoked after a failed send.
func WithFailureHandler(fn FailureFunc) DispatcherOption {
	return func(d *Dispatcher) {
		d.onFailure = fn
	}
}

// NewDispatcher starts the worker goroutines. Call Close to stop them.
func NewDispatcher(transport Transport, opts ...DispatcherOption) (*Dispatcher, error) {
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	d := &Dispatcher{
		transport:   transport,
		breaker:     circuit.New("reporting"),
		logger:      slog.Default(),
		tracer:      otel.Tracer("enforce/reporting"),
		workers:     2,
		sendTimeout: 10 * time.Second,
		queue:       make(chan Request, 256),
	}
	for _, opt := range opts {
		opt(d)
	}

	for range d.workers {
		d.wg.Add(1)
		go d.work()
	}
	return d, nil
}

// Enqueue hands req to a worker without blocking. It returns false when the
// queue is full or the dispatcher is closed; the beacon is then dropped.
func (d *Dispatcher) Enqueue(req Request) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.metrics.incDropped("closed")
		return false
	}
	select {
	case d.queue <- req:
		d.metrics.setQueueDepth(len(d.queue))
		return true
	default:
		d.metrics.incDropped("queue_full")
		d.logger.Warn("beacon queue full, dropping beacon", "type", req.Type)
		return false
	}
}

// Close stops accepting beacons and waits for queued ones to be sent or for
// ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for req := range d.queue {
		d.metrics.setQueueDepth(len(d.queue))
		d.send(req)
	}
}

func (d *Dispatcher) send(req Request) {
	if !d.breaker.Allow() {
		d.metrics.incDropped("circuit_open")
		d.logger.Debug("reporting circuit open, dropping beacon", "type", req.Type)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()
	ctx, span := d.tracer.Start(ctx, "beacon.send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("beacon.type", string(req.Type)),
			attribute.Int("beacon.sequence", req.Sequence),
		),
	)
	defer span.End()

	status, err := d.transport.Send(ctx, req)
	if status != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.metrics.incFailed(req.Type)

		if _, change := d.breaker.RecordFailure(); change.Opened {
			d.metrics.setCircuitOpen(true)
			d.logger.Warn("reporting circuit opened", "breaker", d.breaker.Name())
		}
		d.logger.Error("beacon send failed", "type", req.Type, "error", err)
		if d.onFailure != nil {
			d.onFailure(ctx, req, err)
		}
		return
	}

	if _, change := d.breaker.RecordSuccess(); change.Closed {
		d.metrics.setCircuitOpen(false)
		d.logger.Info("reporting circuit closed", "breaker", d.breaker.Name())
	}
	d.metrics.incSent(req.Type)
	d.logger.Info("beacon sent", "type", req.Type, "status", status)
}
