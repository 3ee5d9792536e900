// Package events publishes reservation lifecycle events to a RabbitMQ topic
// exchange so downstream consumers (notifiers, audit logs) can react without
// polling the service.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/huangxiaoye/reservation/internal/rsvp"
)

// Event is the wire envelope published for every lifecycle change. Name is
// also the routing key (reservation.created, reservation.confirmed,
// reservation.deleted).
type Event struct {
	ID          string           `json:"id"`
	Name        string           `json:"event"`
	At          time.Time        `json:"at"`
	Reservation rsvp.Reservation `json:"reservation"`
}

func newEvent(name string, r rsvp.Reservation) Event {
	return Event{
		ID:          uuid.New().String(),
		Name:        name,
		At:          time.Now().UTC(),
		Reservation: r,
	}
}

// Publisher implements rsvp.EventPublisher on top of an AMQP connection.
type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// Connect dials the broker and declares a durable topic exchange.
func Connect(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing AMQP broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening AMQP channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %q: %w", exchange, err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish sends one event, routed by its name.
func (p *Publisher) Publish(ctx context.Context, event string, r rsvp.Reservation) error {
	ev := newEvent(event, r)
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, ev.Name, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   ev.ID,
		Timestamp:   ev.At,
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publishing %s: %w", ev.Name, err)
	}
	return nil
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	if err := p.ch.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}
