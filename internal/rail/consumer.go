// Package rail consumes settlement events published by the payment rail on
// a topic exchange. Delivery is at-least-once with possible reordering; the
// reconciler behind the handler dedupes and buffers, so the consumer only
// acks on a definitive outcome and requeues on transient failure.
package rail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/osanpay/remittance-core/internal/domain"
	"github.com/osanpay/remittance-core/internal/models"
	"github.com/osanpay/remittance-core/internal/service"
)

const (
	exchangeName = "rail.events"
	queueName    = "remittance-core.settlements"
	bindingKey   = "rail.settlement.*"
)

type Consumer struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	reconciler *service.Reconciler
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return "", fmt.Errorf("invalid AMQP scheme: %s", parsed.Scheme)
	}
	return clean, nil
}

func NewConsumer(amqpURL string, reconciler *service.Reconciler) (*Consumer, error) {
	cleanURL, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	return &Consumer{conn: conn, ch: ch, reconciler: reconciler}, nil
}

// Start declares the topology and consumes until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}
	if err := c.ch.QueueBind(q.Name, bindingKey, exchangeName, false, nil); err != nil {
		return err
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				c.handle(ctx, d)
			}
		}
	}()

	zap.L().Info("rail consumer started",
		zap.String("exchange", exchangeName),
		zap.String("queue", q.Name),
		zap.String("binding", bindingKey),
	)
	return nil
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	var ev models.RailEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		zap.L().Warn("malformed rail event dropped",
			zap.Error(err),
			zap.String("routing_key", d.RoutingKey),
		)
		d.Ack(false)
		return
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}

	err := c.reconciler.Ingest(ctx, ev)
	switch {
	case err == nil:
		d.Ack(false)
	case domain.IsValidation(err), errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrNotFound):
		// Definitive rejection. Requeueing would loop the same event.
		zap.L().Warn("rail event rejected",
			zap.Error(err),
			zap.String("event_id", ev.EventID),
			zap.String("event_type", ev.EventType),
		)
		d.Ack(false)
	default:
		zap.L().Error("rail event ingest failed, requeueing",
			zap.Error(err),
			zap.String("event_id", ev.EventID),
		)
		d.Nack(false, true)
	}
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
