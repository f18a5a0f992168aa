package queue

import amqp "github.com/rabbitmq/amqp091-go"

// Topology names (C7, §6): one durable main exchange routing to a single
// work queue, with a dead-letter exchange routing rejected messages to a
// failed-jobs queue for operator inspection.
const (
	ExchangeName    = "teltubby.jobs"
	QueueName       = "large_files"
	RoutingKey      = "large_files"
	DLXExchangeName = "teltubby.jobs.dlx"
	DeadLetterQueue = "failed_jobs"
	DeadLetterKey   = "failed_jobs"
)

// declareTopology declares the exchanges, queues, and bindings idempotently
// on ch. It is safe to call on every (re)connect.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(DLXExchangeName, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.QueueBind(DeadLetterQueue, DeadLetterKey, DLXExchangeName, false, nil); err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(ExchangeName, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    DLXExchangeName,
		"x-dead-letter-routing-key": DeadLetterKey,
	}
	if _, err := ch.QueueDeclare(QueueName, true, false, false, false, args); err != nil {
		return err
	}
	return ch.QueueBind(QueueName, RoutingKey, ExchangeName, false, nil)
}
