package queue

import (
	"github.com/OFFIS-RIT/deepresearch/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const MaxRetries = 10

// HandleProcessingError moves a failed delivery to the retry queue, or to the
// dead letter queue once it has been retried MaxRetries times. The original
// delivery is acked after the copy was published and requeued otherwise.
func HandleProcessingError(ch Publisher, msg amqp091.Delivery, queueName string) {
	retries := retryCount(msg.Headers)

	if retries >= MaxRetries {
		dlqName := DeadLetterQueue(queueName)
		logger.Warn("[Queue] Sending message to DLQ", "dlq", dlqName, "retries", retries)
		pubErr := ch.Publish(
			"",
			dlqName,
			false,
			false,
			amqp091.Publishing{
				ContentType: msg.ContentType,
				Body:        msg.Body,
				Headers:     msg.Headers,
			},
		)
		if pubErr != nil {
			logger.Error("[Queue] Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
			_ = msg.Nack(false, true)
			return
		}
		_ = msg.Ack(false)
		return
	}

	retryName := RetryQueue(queueName)
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["x-retries"] = int32(retries + 1)

	pubErr := ch.Publish(
		"",
		retryName,
		false,
		false,
		amqp091.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			Headers:      headers,
			DeliveryMode: amqp091.Persistent,
		},
	)
	if pubErr != nil {
		logger.Error("[Queue] Failed to publish to retry queue", "retry_queue", retryName, "err", pubErr)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}

// retryCount reads x-retries, which arrives as int32 from the broker and may
// be any integer type when set locally.
func retryCount(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}
