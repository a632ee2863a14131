package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"arraymon/internal/metrics"
)

const publishTimeout = 2 * time.Second

func routingKey(k Kind) string { return "task." + string(k) }

// AMQPPublisher forwards tasks to a worker process through a topic
// exchange.
type AMQPPublisher struct {
	channel  *amqp.Channel
	exchange string
	logger   *slog.Logger
}

func NewAMQPPublisher(conn *amqp.Connection, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := declareExchange(ch, exchange); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return &AMQPPublisher{
		channel:  ch,
		exchange: exchange,
		logger:   logger.With("component", "dispatch"),
	}, nil
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false,
		false,
		nil,
	)
}

func (p *AMQPPublisher) Dispatch(t Task) bool {
	body, err := json.Marshal(t)
	if err != nil {
		p.logger.Error("encode task", "kind", t.Kind, "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		routingKey(t.Kind),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    t.At,
			Body:         body,
		},
	)
	if err != nil {
		metrics.DispatchDropped(string(t.Kind))
		p.logger.Warn("task dropped", "kind", t.Kind, "reason", "publish failed", "error", err)
		return false
	}
	p.logger.Debug("task published", "kind", t.Kind, "exchange", p.exchange)
	return true
}

func (p *AMQPPublisher) Close() error {
	return p.channel.Close()
}

// Consumer runs tasks received from the exchange one at a time with manual
// acknowledgement.
type Consumer struct {
	channel *amqp.Channel
	queue   string
	handler Handler
	logger  *slog.Logger
}

func NewConsumer(conn *amqp.Connection, exchange, queue string, handler Handler, logger *slog.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	c := &Consumer{
		channel: ch,
		queue:   queue,
		handler: handler,
		logger:  logger.With("component", "worker"),
	}
	if err := c.declare(exchange); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return c, nil
}

func (c *Consumer) declare(exchange string) error {
	if err := declareExchange(c.channel, exchange); err != nil {
		return err
	}
	if _, err := c.channel.QueueDeclare(
		c.queue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return err
	}
	if err := c.channel.QueueBind(c.queue, "task.*", exchange, false, nil); err != nil {
		return err
	}
	return c.channel.Qos(1, 0, false)
}

// Start consumes until ctx is cancelled or the channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	c.logger.Info("consuming tasks", "queue", c.queue)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("worker shutting down")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn("amqp channel closed")
				return nil
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery) {
	var t Task
	if err := json.Unmarshal(msg.Body, &t); err != nil {
		c.logger.Error("decode task", "error", err)
		_ = msg.Nack(false, false)
		return
	}
	if err := c.handler(ctx, t); err != nil {
		// Failed ingestion keeps its staged archives; the next task retries them.
		c.logger.Error("task failed", "kind", t.Kind, "error", err)
		_ = msg.Nack(false, false)
		return
	}
	_ = msg.Ack(false)
}

func (c *Consumer) Close() error {
	return c.channel.Close()
}
