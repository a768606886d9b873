// Package notify forwards committed access movements to RabbitMQ so that
// guardian notification workers can pick them up.
package notify

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"

	"github.com/fernandonovaluz/escola-backend/internal/attendance"
	"github.com/fernandonovaluz/escola-backend/internal/config"
)

const publishTimeout = 3 * time.Second

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher implements attendance.Feed over a durable queue.
type Publisher struct {
	conn  *amqp.Connection
	ch    channel
	queue string
	cb    *gobreaker.CircuitBreaker
}

// Dial connects to amqpURL and declares queue.
func Dial(amqpURL, queue string, breaker config.Breaker) (*Publisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	_, err = ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return newPublisher(conn, ch, queue, breaker), nil
}

func newPublisher(conn *amqp.Connection, ch channel, queue string, breaker config.Breaker) *Publisher {
	return &Publisher{
		conn:  conn,
		ch:    ch,
		queue: queue,
		cb:    breaker.New(),
	}
}

// PublishMovement sends evt as a persistent JSON message.
func (p *Publisher) PublishMovement(ctx context.Context, evt attendance.MovementEvent) error {
	msg, err := message(evt)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	_, err = p.cb.Execute(func() (interface{}, error) {
		return nil, p.ch.PublishWithContext(
			ctx,
			"",      // default exchange
			p.queue, // routing key == queue name
			false,
			false,
			msg,
		)
	})
	return err
}

func message(evt attendance.MovementEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    evt.When,
		Type:         string(evt.Movement),
		Body:         body,
	}, nil
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			return err
		}
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
