package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"venue-jukebox-go/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	reconnectDelay       = 2 * time.Second
	maxReconnectAttempts = 10
)

var _ Notifier = (*AMQPPublisher)(nil)

// ErrNotConnected is returned while the publisher has no live channel.
var ErrNotConnected = errors.New("amqp publisher not connected")

// publisher is the slice of *amqp.Channel the publisher needs.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// session is one live connection and its channel. closed fires once when
// either of them goes away.
type session struct {
	channel publisher
	closed  <-chan *amqp.Error
	close   func()
}

type dialFunc func() (*session, error)

// AMQPPublisher sends queue events to a topic exchange. Routing keys have the
// form venue.<venueId>.<kind> so subscribers can bind per venue or per kind.
// A dropped connection is redialled in the background; Notify fails fast with
// ErrNotConnected until it is back.
type AMQPPublisher struct {
	exchange string
	dial     dialFunc

	reconnectDelay time.Duration
	maxAttempts    int

	mu      sync.Mutex
	current *session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewAMQPPublisher(cfg models.NotifyConfig) (*AMQPPublisher, error) {
	if cfg.AMQPURL == "" {
		return nil, fmt.Errorf("amqp url cannot be empty")
	}

	p := newPublisher(cfg.Exchange, func() (*session, error) {
		return dialAMQP(cfg)
	})
	if err := p.connect(); err != nil {
		p.cancel()
		return nil, err
	}
	return p, nil
}

func newPublisher(exchange string, dial dialFunc) *AMQPPublisher {
	ctx, cancel := context.WithCancel(context.Background())
	return &AMQPPublisher{
		exchange:       exchange,
		dial:           dial,
		reconnectDelay: reconnectDelay,
		maxAttempts:    maxReconnectAttempts,
		ctx:            ctx,
		cancel:         cancel,
	}
}

func newPublisherWithChannel(exchange string, ch publisher) *AMQPPublisher {
	p := newPublisher(exchange, nil)
	p.current = &session{channel: ch}
	return p
}

func dialAMQP(cfg models.NotifyConfig) (*session, error) {
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		cfg.Exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chanClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	closed := make(chan *amqp.Error, 1)
	go func() {
		select {
		case err := <-connClosed:
			closed <- err
		case err := <-chanClosed:
			closed <- err
		}
	}()

	zap.L().Info("Connected to RabbitMQ", zap.String("exchange", cfg.Exchange))

	return &session{
		channel: ch,
		closed:  closed,
		close: func() {
			conn.Close()
		},
	}, nil
}

func (p *AMQPPublisher) connect() error {
	s, err := p.dial()
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.ctx.Err() != nil {
		p.mu.Unlock()
		s.shutdown()
		return ErrNotConnected
	}
	p.current = s
	p.mu.Unlock()

	p.wg.Add(1)
	go p.monitor(s)
	return nil
}

func (p *AMQPPublisher) monitor(s *session) {
	defer p.wg.Done()

	select {
	case err := <-s.closed:
		if p.ctx.Err() != nil {
			return
		}
		zap.L().Error("RabbitMQ connection closed unexpectedly", zap.Error(err))
		p.reconnect(s)
	case <-p.ctx.Done():
	}
}

func (p *AMQPPublisher) reconnect(dead *session) {
	p.mu.Lock()
	if p.current == dead {
		p.current = nil
	}
	p.mu.Unlock()
	dead.shutdown()

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		zap.L().Info("Attempting to reconnect to RabbitMQ", zap.Int("attempt", attempt))
		err := p.connect()
		if err == nil {
			zap.L().Info("Reconnected to RabbitMQ", zap.Int("attempt", attempt))
			return
		}

		delay := p.reconnectDelay * time.Duration(attempt)
		zap.L().Warn("Reconnection failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-time.After(delay):
		case <-p.ctx.Done():
			return
		}
	}

	zap.L().Error("Max reconnection attempts reached, queue events are not published",
		zap.String("alert", "notifier_down"))
}

func (s *session) shutdown() {
	if s.channel != nil {
		s.channel.Close()
	}
	if s.close != nil {
		s.close()
	}
}

func RoutingKey(venueId string, kind EventKind) string {
	return fmt.Sprintf("venue.%s.%s", venueId, kind)
}

func (p *AMQPPublisher) Notify(ctx context.Context, venueId string, kind EventKind, payload any) error {
	body, err := json.Marshal(Event{
		VenueId:    venueId,
		Kind:       kind,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("unable to encode event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return ErrNotConnected
	}

	err = p.current.channel.PublishWithContext(ctx, p.exchange, RoutingKey(venueId, kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now().UTC(),
		Type:         string(kind),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", kind, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.cancel()

	p.mu.Lock()
	s := p.current
	p.current = nil
	p.mu.Unlock()

	if s != nil {
		s.shutdown()
	}
	p.wg.Wait()
	return nil
}
