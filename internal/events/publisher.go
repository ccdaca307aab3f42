// Package events publishes listing change notifications to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

// Listing event actions.
const (
	ActionCreate   = "create"
	ActionUpdate   = "update"
	ActionGeocoded = "geocoded"
)

// ListingEvent is the message body consumers receive.
type ListingEvent struct {
	Action     string `json:"action"`
	PropertyID string `json:"property_id"`
}

// NewListingEvent builds an event for a listing id.
func NewListingEvent(action string, listingID int) ListingEvent {
	return ListingEvent{Action: action, PropertyID: strconv.Itoa(listingID)}
}

// Publisher emits listing events.
type Publisher interface {
	Publish(ctx context.Context, event ListingEvent) error
	Close() error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event ListingEvent) error { return nil }
func (NopPublisher) Close() error                                         { return nil }

// AMQPPublisher publishes JSON events to a durable queue on the default exchange.
type AMQPPublisher struct {
	mu         sync.Mutex
	connection *amqp.Connection
	channel    *amqp.Channel
	queueName  string
}

// NewAMQPPublisher dials the broker and declares the queue.
func NewAMQPPublisher(url, queueName string) (*AMQPPublisher, error) {
	if queueName == "" {
		queueName = "properties_queue"
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	log.Printf("Publishing listing events to RabbitMQ queue '%s'", queueName)
	return &AMQPPublisher{connection: conn, channel: ch, queueName: queueName}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, event ListingEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode listing event: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// amqp.Channel is not safe for concurrent publishes.
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.Publish(
		"",          // exchange
		p.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish listing event: %w", err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	var errs []error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing channel: %w", err))
		}
	}
	if p.connection != nil {
		if err := p.connection.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing connection: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing RabbitMQ publisher: %v", errs)
	}
	log.Println("RabbitMQ publisher closed.")
	return nil
}
