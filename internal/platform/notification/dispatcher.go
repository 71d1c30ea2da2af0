package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sink delivers events over one channel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// DeliveryError records a failed delivery through one sink. It is logged by
// the dispatcher and never returned to publishers.
type DeliveryError struct {
	Sink          string
	Type          Type
	AppointmentID string
	Err           error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s for appointment %s via %s: %v", e.Type, e.AppointmentID, e.Sink, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Publisher accepts events for asynchronous delivery.
type Publisher interface {
	Publish(ev Event) bool
}

type DispatcherConfig struct {
	QueueSize int
	Workers   int
	// DeliveryTimeout bounds one sink call.
	DeliveryTimeout time.Duration
}

var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher hands events from publishers to sinks through a bounded queue
// served by a fixed set of workers.
type Dispatcher struct {
	cfg    DispatcherConfig
	sinks  []Sink
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	wg     sync.WaitGroup
	stop   chan struct{}
}

func NewDispatcher(logger zerolog.Logger, cfg DispatcherConfig, sinks ...Sink) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 5 * time.Second
	}
	d := &Dispatcher{
		cfg:    cfg,
		sinks:  sinks,
		logger: logger.With().Str("component", "notification").Logger(),
		queue:  make(chan Event, cfg.QueueSize),
		stop:   make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Publish enqueues ev without blocking. It returns false, after logging, when
// the queue is full or the dispatcher is closed.
func (d *Dispatcher) Publish(ev Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn().Str("type", string(ev.Payload.Type)).Str("appointment_id", ev.AppointmentID()).Msg("dispatcher closed, notification dropped")
		return false
	}
	select {
	case d.queue <- ev:
		return true
	default:
		d.logger.Error().Str("type", string(ev.Payload.Type)).Str("appointment_id", ev.AppointmentID()).Msg("notification queue full, event dropped")
		return false
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for {
		select {
		case ev, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ev)
		case <-d.stop:
			return
		}
	}
}

// deliver runs every sink for ev. A failing or panicking sink does not
// affect the others.
func (d *Dispatcher) deliver(ev Event) {
	for _, s := range d.sinks {
		if err := d.deliverOne(s, ev); err != nil {
			derr := &DeliveryError{Sink: s.Name(), Type: ev.Payload.Type, AppointmentID: ev.AppointmentID(), Err: err}
			d.logger.Error().Err(derr).
				Str("sink", derr.Sink).
				Str("appointment_id", derr.AppointmentID).
				Strs("recipients", ev.UserIDs()).
				Msg("notification delivery failed")
		}
	}
}

func (d *Dispatcher) deliverOne(s Sink, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.DeliveryTimeout)
	defer cancel()
	return s.Deliver(ctx, ev)
}

// Close stops accepting events and waits for queued ones to be delivered.
// When ctx ends first the workers are told to stop and whatever is still
// queued is dropped.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.closed = true
	close(d.queue)
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
		close(d.stop)
		d.logger.Warn().Int("pending", len(d.queue)).Msg("notification drain interrupted")
		return ctx.Err()
	}
}
