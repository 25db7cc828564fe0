package qobserve

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Device is one addressable execution slot. It is owned by the pool and
// never handed out.
type Device struct {
	index   int
	mu      sync.Mutex
	busy    bool
	pending int
	units   chan *Unit
	breaker *CircuitBreaker
	limiter *RateLimiter
}

// DevicePool is a fixed set of devices, each drained by its own worker.
type DevicePool struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	devices []*Device
	backend Backend
	config  *Config
	metrics *Metrics
	logger  *zap.Logger

	closeMu sync.RWMutex
	closed  bool
	stopped chan struct{}
}

// NewDevicePool starts one worker per configured device.
func NewDevicePool(ctx context.Context, config *Config, backend Backend, logger *zap.Logger) (*DevicePool, error) {
	if config == nil {
		config = NewConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &DevicePool{
		ctx:     ctx,
		cancel:  cancel,
		devices: make([]*Device, config.PoolSize),
		backend: backend,
		config:  config,
		metrics: NewMetrics(config.PoolSize),
		logger:  logger.Named("pool"),
		stopped: make(chan struct{}),
	}

	for i := range p.devices {
		d := &Device{
			index: i,
			units: make(chan *Unit, config.QueueDepth),
		}
		if config.Breaker.Threshold > 0 {
			d.breaker = NewCircuitBreaker(
				config.Breaker.Threshold,
				config.Breaker.ResetTimeout,
				config.Breaker.HalfOpenMax,
			)
		}
		if config.RateLimit.Tokens > 0 {
			d.limiter = NewRateLimiter(config.RateLimit.Tokens, config.RateLimit.Refill)
		}
		p.devices[i] = d
		p.startWorker(d)
	}

	context.AfterFunc(ctx, p.shutdown)

	p.logger.Info("device pool started",
		zap.Int("devices", config.PoolSize),
		zap.String("admission", string(config.Admission)),
	)
	return p, nil
}

// Size returns the number of devices.
func (p *DevicePool) Size() int {
	return len(p.devices)
}

// Metrics returns the pool's live metrics.
func (p *DevicePool) Metrics() *Metrics {
	return p.metrics
}

// Busy reports whether a device is currently executing a unit.
func (p *DevicePool) Busy(device int) (bool, error) {
	d, err := p.device(device)
	if err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy, nil
}

// Breaker returns the device's circuit breaker state. Devices without a
// breaker always report CircuitClosed.
func (p *DevicePool) Breaker(device int) (CircuitState, error) {
	d, err := p.device(device)
	if err != nil {
		return CircuitClosed, err
	}
	if d.breaker == nil {
		return CircuitClosed, nil
	}
	return d.breaker.State(), nil
}

func (p *DevicePool) device(index int) (*Device, error) {
	if index < 0 || index >= len(p.devices) {
		return nil, &InvalidDeviceError{Index: index, PoolSize: len(p.devices)}
	}
	return p.devices[index], nil
}

// Submit runs a unit on a device and blocks until it completes.
func (p *DevicePool) Submit(ctx context.Context, device int, unit *Unit) (EvaluationResult, error) {
	future, err := p.SubmitAsync(ctx, device, unit)
	if err != nil {
		return EvaluationResult{}, err
	}
	return future.ResolveContext(ctx)
}

/*
SubmitAsync admits a unit to a device and returns its handle without waiting
for evaluation. Admission errors (bad index, busy device, closed pool) are
returned directly; evaluation errors surface from the handle.
*/
func (p *DevicePool) SubmitAsync(ctx context.Context, device int, unit *Unit) (*Future, error) {
	d, err := p.device(device)
	if err != nil {
		return nil, err
	}

	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed || p.ctx.Err() != nil {
		return nil, ErrPoolClosed
	}

	if d.breaker != nil && !d.breaker.Allow() {
		p.metrics.recordRejected()
		return nil, &DeviceBusyError{Device: device, Open: true}
	}

	if d.limiter != nil {
		if err := p.throttle(ctx, d); err != nil {
			p.metrics.recordRejected()
			return nil, err
		}
	}

	unit.ctx = ctx
	unit.device = device
	unit.StartTime = time.Now()
	unit.future = newFuture(unit.ID, p.config.ResolveTimeout)

	if err := p.admit(ctx, d, unit); err != nil {
		p.metrics.recordRejected()
		return nil, err
	}

	p.metrics.recordSubmitted()
	p.logger.Debug("unit admitted",
		zap.String("unit", unit.ID),
		zap.Int("device", device),
		zap.Int("row", unit.Row),
		zap.Int("group", unit.Group),
	)
	return unit.future, nil
}

func (p *DevicePool) admit(ctx context.Context, d *Device, unit *Unit) error {
	d.mu.Lock()
	if p.config.Admission == AdmitReject && (d.busy || d.pending > 0) {
		d.mu.Unlock()
		return &DeviceBusyError{Device: d.index}
	}
	d.pending++
	d.mu.Unlock()

	timer := time.NewTimer(p.config.schedulingTimeout())
	defer timer.Stop()

	select {
	case d.units <- unit:
		return nil
	case <-ctx.Done():
		err := ctx.Err()
		d.release()
		return err
	case <-p.ctx.Done():
		d.release()
		return ErrPoolClosed
	case <-timer.C:
		d.release()
		p.logger.Warn("device queue full, scheduling timeout occurred", zap.Int("device", d.index))
		return &DeviceBusyError{Device: d.index}
	}
}

// throttle takes a rate-limit token for d. The reject policy fails at once;
// the queue policy waits up to the scheduling timeout.
func (p *DevicePool) throttle(ctx context.Context, d *Device) error {
	if p.config.Admission == AdmitReject {
		if !d.limiter.Allow() {
			return &DeviceBusyError{Device: d.index}
		}
		return nil
	}

	wctx, cancel := context.WithTimeout(ctx, p.config.schedulingTimeout())
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	err := d.limiter.Wait(wctx)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case p.ctx.Err() != nil:
		return ErrPoolClosed
	default:
		p.logger.Warn("device rate limit, scheduling timeout occurred", zap.Int("device", d.index))
		return &DeviceBusyError{Device: d.index}
	}
}

func (d *Device) release() {
	d.mu.Lock()
	d.pending--
	d.mu.Unlock()
}

func (p *DevicePool) startWorker(d *Device) {
	w := &Worker{pool: p, device: d}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		w.run()
	}()
}

/*
Close stops all workers and waits until every unit still queued has been
failed with ErrPoolClosed. Cancelling the context the pool was created with
has the same effect.
*/
func (p *DevicePool) Close() {
	if p == nil {
		return
	}
	p.cancel()
	<-p.stopped
}

// shutdown runs once, when the pool's context ends.
func (p *DevicePool) shutdown() {
	defer close(p.stopped)
	p.logger.Info("closing device pool")

	p.closeMu.Lock()
	p.closed = true
	p.closeMu.Unlock()

	p.wg.Wait()

	for _, d := range p.devices {
		close(d.units)
		for unit := range d.units {
			unit.future.store(EvaluationResult{}, unit.fail(ErrPoolClosed))
		}
	}

	p.logger.Info("device pool closed", zap.Any("metrics", p.metrics.ExportMetrics()))
}
