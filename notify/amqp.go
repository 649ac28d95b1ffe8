package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"stockwatch/models"
)

// AMQPPublisher pushes stock events onto a topic exchange for downstream
// consumers (bots, dashboards). Routing key is stock.<store>.<kind>, so
// a consumer can bind to just stock.*.newly_in_stock.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

type AMQPConfig struct {
	URL      string
	Exchange string
}

func NewAMQPPublisher(cfg AMQPConfig) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &AMQPPublisher{conn: conn, channel: ch, exchange: cfg.Exchange}, nil
}

type eventMessage struct {
	Event     models.StockEvent `json:"event"`
	Headline  string            `json:"headline"`
	Timestamp time.Time         `json:"timestamp"`
}

func (p *AMQPPublisher) Notify(ctx context.Context, events []models.StockEvent) error {
	for i := range events {
		if err := p.publish(ctx, &events[i]); err != nil {
			return err
		}
	}
	return nil
}

func (p *AMQPPublisher) publish(ctx context.Context, e *models.StockEvent) error {
	body, err := json.Marshal(eventMessage{
		Event:     *e,
		Headline:  Headline(e),
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	routingKey := fmt.Sprintf("stock.%s.%s", e.StoreID, strings.ToLower(string(e.Kind)))

	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID.String(),
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}
