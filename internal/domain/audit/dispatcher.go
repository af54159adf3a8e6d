package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Dispatcher delivers batches to a Sink in the background. Submitting never
// blocks the caller: when the queue is full or the sink keeps failing after
// its retries, the batch is dropped and logged.
type Dispatcher struct {
	sink            Sink
	queue           chan []Record
	maxRetries      uint64
	initialInterval time.Duration
	writeTimeout    time.Duration
	logger          zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	delivered atomic.Int64
	dropped   atomic.Int64
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithBuffer sets how many batches may wait for delivery.
func WithBuffer(n int) DispatcherOption {
	return func(d *Dispatcher) { d.queue = make(chan []Record, n) }
}

// WithRetry sets the retry budget and the first backoff interval.
func WithRetry(maxRetries int, initial time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if maxRetries >= 0 {
			d.maxRetries = uint64(maxRetries)
		}
		d.initialInterval = initial
	}
}

// NewDispatcher starts a dispatcher delivering to sink.
func NewDispatcher(sink Sink, logger zerolog.Logger, opts ...DispatcherOption) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sink:            sink,
		queue:           make(chan []Record, 256),
		maxRetries:      3,
		initialInterval: 200 * time.Millisecond,
		writeTimeout:    10 * time.Second,
		logger:          logger.With().Str("component", "audit_dispatcher").Logger(),
		ctx:             ctx,
		cancel:          cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Submit queues batch for delivery and reports whether it was accepted.
func (d *Dispatcher) Submit(batch []Record) bool {
	if len(batch) == 0 {
		return true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(batch, "dispatcher closed")
		return false
	}
	select {
	case d.queue <- batch:
		return true
	default:
		d.drop(batch, "queue full")
		return false
	}
}

// Close stops accepting batches and waits for queued ones to be delivered.
// If ctx ends first, pending retries are abandoned.
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
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// Delivered returns the number of records written to the sink.
func (d *Dispatcher) Delivered() int64 { return d.delivered.Load() }

// Dropped returns the number of records that were never written.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for batch := range d.queue {
		d.deliver(batch)
	}
}

func (d *Dispatcher) deliver(batch []Record) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.initialInterval
	bo.MaxElapsedTime = 0

	op := func() error {
		ctx, cancel := context.WithTimeout(d.ctx, d.writeTimeout)
		defer cancel()
		return d.sink.Write(ctx, batch)
	}
	notify := func(err error, wait time.Duration) {
		d.logger.Warn().Err(err).
			Str("conversion_id", batch[0].ConversionID).
			Dur("retry_in", wait).
			Msg("audit write failed, retrying")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(bo, d.maxRetries), d.ctx), notify)
	if err != nil {
		d.logger.Error().Err(err).
			Str("conversion_id", batch[0].ConversionID).
			Int("records", len(batch)).
			Msg("audit batch dropped after retries")
		d.dropped.Add(int64(len(batch)))
		return
	}
	d.delivered.Add(int64(len(batch)))
}

func (d *Dispatcher) drop(batch []Record, reason string) {
	d.dropped.Add(int64(len(batch)))
	d.logger.Error().
		Str("conversion_id", batch[0].ConversionID).
		Int("records", len(batch)).
		Str("reason", reason).
		Msg("audit batch dropped")
}
