// Package relay forwards signal changes to downstream hardware over AMQP.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"checkpoint-capture/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"
)

// SignalMessage is the body published for every signal change
type SignalMessage struct {
	LED       models.SignalState `json:"led"`
	ChangedAt time.Time          `json:"changed_at"`
}

// Channel is the part of an AMQP channel the publisher uses
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Connection is the part of an AMQP connection the publisher uses
type Connection interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

// Dialer opens a broker connection
type Dialer func(url string) (Connection, error)

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// DialAMQP connects to a real broker
func DialAMQP(url string) (Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

// Publisher publishes signal changes to a direct exchange
type Publisher struct {
	mu         sync.Mutex
	amqpURL    string
	dial       Dialer
	conn       Connection
	channel    Channel
	exchange   string
	routingKey string
}

// NewPublisher connects to the broker and declares the exchange
func NewPublisher(amqpURL, exchange, routingKey string) (*Publisher, error) {
	return NewPublisherWithDialer(DialAMQP, amqpURL, exchange, routingKey)
}

// NewPublisherWithDialer is NewPublisher with a custom way of reaching the broker
func NewPublisherWithDialer(dial Dialer, amqpURL, exchange, routingKey string) (*Publisher, error) {
	p := &Publisher{
		amqpURL:    amqpURL,
		dial:       dial,
		exchange:   exchange,
		routingKey: routingKey,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

// PublishSignal publishes a signal state change.
// A dropped connection is re-established on the next publish; the failed message is not resent.
func (p *Publisher) PublishSignal(ctx context.Context, state models.SignalState) error {
	body, err := json.Marshal(SignalMessage{LED: state, ChangedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal signal message: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if p.conn == nil || p.conn.IsClosed() || p.channel == nil {
		p.closeLocked()
		if err := p.connectLocked(); err != nil {
			return err
		}
		log.Info().Str("exchange", p.exchange).Msg("Relay reconnected")
	}

	if err := p.channel.Publish(p.exchange, p.routingKey, false, false, publishing); err != nil {
		p.closeLocked()
		return fmt.Errorf("failed to publish signal: %w", err)
	}
	return nil
}

// Close closes the publisher connection and channel
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.channel != nil {
		if channelErr := p.channel.Close(); channelErr != nil {
			log.Warn().Err(channelErr).Msg("Failed to close relay channel")
			err = channelErr
		}
		p.channel = nil
	}
	if p.conn != nil {
		if connErr := p.conn.Close(); connErr != nil {
			log.Warn().Err(connErr).Msg("Failed to close relay connection")
			if err == nil {
				err = connErr
			}
		}
		p.conn = nil
	}
	return err
}

func (p *Publisher) connectLocked() error {
	dial := p.dial
	if dial == nil {
		dial = DialAMQP
	}

	conn, err := dial(p.amqpURL)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		p.exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	p.conn = conn
	p.channel = ch
	return nil
}

func (p *Publisher) closeLocked() {
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
