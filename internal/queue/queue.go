package queue

import (
	"fmt"
	"time"

	"github.com/OFFIS-RIT/deepresearch/internal/util"
	"github.com/OFFIS-RIT/deepresearch/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	ResearchQueue  = "research_queue"
	EventsExchange = "research_events"

	retryTTL = int32(10000)
)

// Publisher is the part of an AMQP channel used to publish messages.
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Init dials RabbitMQ from RABBITMQ_URL or the RABBITMQ_USER, _PASSWORD,
// _HOST and _PORT variables.
func Init() *amqp091.Connection {
	connURL := util.GetEnv("RABBITMQ_URL")
	if connURL == "" {
		connURL = fmt.Sprintf(
			"amqp://%s:%s@%s:%s/",
			util.GetEnv("RABBITMQ_USER"),
			util.GetEnv("RABBITMQ_PASSWORD"),
			util.GetEnvString("RABBITMQ_HOST", "localhost"),
			util.GetEnvString("RABBITMQ_PORT", "5672"),
		)
	}

	conn, err := amqp091.Dial(connURL)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}

	return conn
}

// SetupQueues declares the events exchange and, for every queue name, the
// durable work queue plus its retry and dead letter queues. Messages in the
// retry queue return to the work queue after retryTTL milliseconds.
func SetupQueues(ch *amqp091.Channel, queueNames []string) error {
	err := ch.ExchangeDeclare(
		EventsExchange,
		"topic",
		false, // durable
		true,  // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", EventsExchange, err)
	}

	for _, name := range queueNames {
		declarations := []struct {
			name string
			args amqp091.Table
		}{
			{name: name},
			{name: DeadLetterQueue(name)},
			{name: RetryQueue(name), args: amqp091.Table{
				"x-message-ttl":             retryTTL,
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			}},
		}
		for _, d := range declarations {
			_, err := ch.QueueDeclare(
				d.name,
				true,  // durable
				false, // autoDelete
				false, // exclusive
				false, // noWait
				d.args,
			)
			if err != nil {
				return fmt.Errorf("declare queue %s: %w", d.name, err)
			}
		}
	}

	return nil
}

func RetryQueue(name string) string {
	return name + "_retry"
}

func DeadLetterQueue(name string) string {
	return name + "_dlq"
}

// PublishFIFO sends data to a declared work queue.
func PublishFIFO(ch Publisher, queueName string, data []byte) error {
	return ch.Publish(
		"",
		queueName,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// PublishTopic broadcasts data on the events exchange.
func PublishTopic(ch Publisher, topic string, data []byte) error {
	return ch.Publish(
		EventsExchange,
		topic,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp091.Transient,
			Timestamp:    time.Now(),
		},
	)
}
