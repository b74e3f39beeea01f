package amqputil

import (
	"context"
	"errors"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

// ErrNacked is returned when the broker refuses a published message.
var ErrNacked = errors.New("message nacked by broker")

// Config holds the AMQP configuration.
type Config struct {
	URL         string `env:"URL"`
	Queue       string `env:"QUEUE" envDefault:"build.task.queued"`
	MaxPriority int    `env:"MAX_PRIORITY" envDefault:"10"`
}

// ErrNotConfigured is returned by Validate when the broker URL is empty.
var ErrNotConfigured = errors.New("amqp not configured")

func (cfg *Config) Validate() error {
	if cfg.URL == "" {
		return ErrNotConfigured
	}
	return nil
}

// QueueDeclareParams returns a durable priority queue declaration for cfg.
func (cfg *Config) QueueDeclareParams() *QueueDeclareParams {
	return &QueueDeclareParams{
		Name:    cfg.Queue,
		Durable: true,
		Args:    amqp091.Table{"x-max-priority": cfg.MaxPriority},
	}
}

type QueueDeclareParams struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	NoWait     bool
	Args       amqp091.Table
}

type Client struct {
	connectionString   string
	queueDeclareParams *QueueDeclareParams
}

func NewClient(connectionString string, queueDeclareParams *QueueDeclareParams) *Client {
	return &Client{
		connectionString:   connectionString,
		queueDeclareParams: queueDeclareParams,
	}
}

// Queue returns the name of the declared queue.
func (cli *Client) Queue() string {
	return cli.queueDeclareParams.Name
}

// Publish proxies [amqp091.Channel.PublishWithDeferredConfirmWithContext]
// and waits until the broker confirms the message.
func (cli *Client) Publish(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	conn, err := amqp091.Dial(cli.connectionString)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close()
	}()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(
		cli.queueDeclareParams.Name,
		cli.queueDeclareParams.Durable,
		cli.queueDeclareParams.AutoDelete,
		cli.queueDeclareParams.Exclusive,
		cli.queueDeclareParams.NoWait,
		cli.queueDeclareParams.Args,
	)
	if err != nil {
		return err
	}

	if err = ch.Confirm(false); err != nil {
		return fmt.Errorf("enable confirms: %w", err)
	}

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, mandatory, immediate, msg)
	if err != nil {
		return err
	}
	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return ErrNacked
	}
	return nil
}
