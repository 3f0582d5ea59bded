// Package amqputil publishes and receives messages on a single AMQP queue.
package amqputil

import (
	"context"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

type QueueDeclareParams struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	NoWait     bool
	Args       amqp091.Table
}

// Client dials a new connection per call. It suits processes that send a
// handful of messages over their lifetime.
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

// Queue returns the name of the queue the client declares.
func (cli *Client) Queue() string {
	return cli.queueDeclareParams.Name
}

// Publish sends msg to the queue through the default exchange.
func (cli *Client) Publish(ctx context.Context, msg amqp091.Publishing) error {
	err := cli.withChannel(func(ch *amqp091.Channel, q amqp091.Queue) error {
		return ch.PublishWithContext(ctx,
			"",     // exchange
			q.Name, // routing key
			false,  // mandatory
			false,  // immediate
			msg,
		)
	})
	if err != nil {
		return fmt.Errorf("amqputil.Client: publish: %w", err)
	}
	return nil
}

// Receive waits for one message on the queue and acknowledges it.
// Messages the broker sends past the first one stay unacknowledged and are
// requeued when the channel closes.
func (cli *Client) Receive(ctx context.Context) (*amqp091.Delivery, error) {
	var d amqp091.Delivery
	err := cli.withChannel(func(ch *amqp091.Channel, q amqp091.Queue) error {
		err := ch.Qos(
			1,     // prefetch count
			0,     // prefetch size
			false, // global
		)
		if err != nil {
			return err
		}

		deliveries, err := ch.Consume(
			q.Name, // queue
			"",     // consumer
			false,  // auto-ack
			false,  // exclusive
			false,  // no-local
			false,  // no-wait
			nil,    // args
		)
		if err != nil {
			return err
		}

		var ok bool
		select {
		case d, ok = <-deliveries:
			if !ok {
				return amqp091.ErrClosed
			}
			return d.Ack(false)
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("amqputil.Client: receive: %w", err)
	}
	return &d, nil
}

func (cli *Client) withChannel(f func(ch *amqp091.Channel, q amqp091.Queue) error) error {
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

	q, err := ch.QueueDeclare(
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

	return f(ch, q)
}
