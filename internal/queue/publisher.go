package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/foodbridge/internal/logger"
)

const dialTimeout = 3 * time.Second

// Publisher delivers lifecycle events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, ev LifecycleEvent) error
}

// NopPublisher drops every event.  It is used when events are disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, LifecycleEvent) error { return nil }

// AMQPPublisher publishes events to a durable RabbitMQ queue.  Each publish
// opens its own connection so a broker outage never leaves a broken
// connection behind; errors are logged and returned so the caller can
// ignore them.
type AMQPPublisher struct {
	URL   string
	Queue string
	Log   *logger.Logger
}

func NewAMQPPublisher(url, queue string, log *logger.Logger) *AMQPPublisher {
	if queue == "" {
		queue = DefaultQueue
	}
	return &AMQPPublisher{URL: url, Queue: queue, Log: log}
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev LifecycleEvent) error {
	conn, err := amqp.DialConfig(p.URL, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
	if err != nil {
		p.Log.Warn("rabbitmq: dial failed", "err", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.Log.Warn("rabbitmq: channel open failed", "err", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(p.Queue, true, false, false, false, nil); err != nil {
		p.Log.Warn("rabbitmq: queue declare failed", "queue", p.Queue, "err", err)
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         ev.Kind,
		Body:         body,
	}
	// default exchange, routing key = queue name
	if err := ch.PublishWithContext(ctx, "", p.Queue, false, false, pub); err != nil {
		p.Log.Warn("rabbitmq: publish failed", "kind", ev.Kind, "err", err)
		return err
	}
	return nil
}
