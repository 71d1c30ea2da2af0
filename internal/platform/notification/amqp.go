package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type dialFunc func() (amqpPublisher, io.Closer, <-chan *amqp.Error, error)

// BrokerSink publishes every event to a durable topic exchange so services
// outside this process can react to appointment changes. The routing key is
// the event type. A dropped connection is redialed on the next delivery.
type BrokerSink struct {
	exchange string
	dial     dialFunc

	mu     sync.Mutex
	ch     amqpPublisher
	conn   io.Closer
	closed <-chan *amqp.Error
}

// DialBroker connects to url and declares exchange.
func DialBroker(url, exchange string) (*BrokerSink, error) {
	s := &BrokerSink{
		exchange: exchange,
		dial: func() (amqpPublisher, io.Closer, <-chan *amqp.Error, error) {
			return dialExchange(url, exchange)
		},
	}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func dialExchange(url, exchange string) (amqpPublisher, io.Closer, <-chan *amqp.Error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, nil, fmt.Errorf("amqp declare exchange %s: %w", exchange, err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	return ch, conn, closed, nil
}

// connect and release expect s.mu to be held, except during DialBroker.
func (s *BrokerSink) connect() error {
	ch, conn, closed, err := s.dial()
	if err != nil {
		return err
	}
	s.ch, s.conn, s.closed = ch, conn, closed
	return nil
}

func (s *BrokerSink) release() error {
	var errs []error
	if s.ch != nil {
		errs = append(errs, s.ch.Close())
	}
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
	}
	s.ch, s.conn, s.closed = nil, nil, nil
	return errors.Join(errs...)
}

func (s *BrokerSink) open() bool {
	if s.ch == nil {
		return false
	}
	select {
	case <-s.closed:
		return false
	default:
		return true
	}
}

func (s *BrokerSink) Name() string { return "amqp" }

func (s *BrokerSink) Deliver(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.Payload.Timestamp,
		Type:         string(ev.Payload.Type),
		Body:         body,
	}
	if a := ev.Payload.Appointment; a != nil {
		msg.Headers = amqp.Table{"appointment_id": a.ID}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open() {
		if s.dial == nil {
			return fmt.Errorf("amqp publish: %w", amqp.ErrClosed)
		}
		_ = s.release()
		if err := s.connect(); err != nil {
			return fmt.Errorf("amqp redial: %w", err)
		}
	}
	if err := s.ch.PublishWithContext(ctx, s.exchange, string(ev.Payload.Type), false, false, msg); err != nil {
		if errors.Is(err, amqp.ErrClosed) {
			_ = s.release()
		}
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

// Close closes the channel and the connection.
func (s *BrokerSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.release()
}
