package mq

import (
	"context"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeRuns  Exchange = "conduit.runs"
	ExchangeTasks Exchange = "conduit.tasks"
	ExchangeDLQ   Exchange = "conduit.dlq"
)

// Queues — имена общих очередей. Очереди вызовов шагов создаются
// отдельно для каждой task queue (см. TaskQueue).
const (
	QueueRunsPending    Queue = "runs.pending"
	QueueRunsFinished   Queue = "runs.finished"
	QueueTasksCompleted Queue = "tasks.completed"
	QueueDLQTasks       Queue = "dlq.tasks"
)

// Routing keys.
const (
	RoutingKeyPending   RoutingKey = "pending"
	RoutingKeyFinished  RoutingKey = "finished"
	RoutingKeyCompleted RoutingKey = "completed"
	RoutingKeyDLQTasks  RoutingKey = "tasks"

	readyPrefix = "ready."
	queuePrefix = "tasks."
)

// TaskQueue возвращает имя AMQP очереди для task queue workflow.
// "conduit-workflow-queue" → "tasks.conduit-workflow-queue".
func TaskQueue(name string) Queue {
	return Queue(queuePrefix + name)
}

// TaskReadyKey возвращает routing key сообщений task.ready для task queue.
func TaskReadyKey(name string) RoutingKey {
	return RoutingKey(readyPrefix + name)
}

// SetupTopology объявляет exchanges, общие очереди и очереди
// для перечисленных task queues.
func SetupTopology(ctx context.Context, conn *Connection, taskQueues ...string) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}

		if err := declareQueues(ch); err != nil {
			return err
		}

		if err := bindQueues(ch); err != nil {
			return err
		}

		for _, name := range taskQueues {
			if err := declareTaskQueue(ch, name); err != nil {
				return err
			}
		}

		return nil
	})
}

// DeclareTaskQueue объявляет очередь task queue и привязывает её к
// conduit.tasks. Вызывается worker'ом при старте и контроллером при
// первой отправке в новую очередь.
func DeclareTaskQueue(ctx context.Context, conn *Connection, name string) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		return declareTaskQueue(ch, name)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	for _, ex := range []Exchange{ExchangeRuns, ExchangeTasks, ExchangeDLQ} {
		err := ch.ExchangeDeclare(
			string(ex), // name
			"direct",   // type
			true,       // durable
			false,      // auto-deleted
			false,      // internal
			false,      // no-wait
			nil,        // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex, err)
		}
	}

	return nil
}

// declareQueues создаёт общие очереди.
func declareQueues(ch *amqp.Channel) error {
	for _, q := range []Queue{QueueRunsPending, QueueRunsFinished, QueueTasksCompleted, QueueDLQTasks} {
		if _, err := ch.QueueDeclare(string(q), true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
	}

	return nil
}

// bindQueues привязывает общие очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueRunsPending, RoutingKeyPending, ExchangeRuns},
		{QueueRunsFinished, RoutingKeyFinished, ExchangeRuns},
		{QueueTasksCompleted, RoutingKeyCompleted, ExchangeTasks},
		{QueueDLQTasks, RoutingKeyDLQTasks, ExchangeDLQ},
	}

	for _, b := range bindings {
		if err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// declareTaskQueue создаёт очередь task queue с DLQ.
func declareTaskQueue(ch *amqp.Channel, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("declare task queue: empty name")
	}

	// Сообщения, отклонённые повторно, уходят в dlq.tasks
	args := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQTasks),
	}

	queue := TaskQueue(name)
	if _, err := ch.QueueDeclare(string(queue), true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(string(queue), string(TaskReadyKey(name)), string(ExchangeTasks), false, nil); err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", queue, ExchangeTasks, err)
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo(taskQueues ...string) string {
	var b strings.Builder
	b.WriteString("Conduit RabbitMQ topology:\n")
	b.WriteString("  conduit.runs (direct)\n")
	b.WriteString("    runs.pending   [pending]   consumer: orchestrator\n")
	b.WriteString("    runs.finished  [finished]  external subscribers\n")
	b.WriteString("  conduit.tasks (direct)\n")
	for _, name := range taskQueues {
		fmt.Fprintf(&b, "    %s  [%s]  consumer: worker, dlq: dlq.tasks\n", TaskQueue(name), TaskReadyKey(name))
	}
	b.WriteString("    tasks.completed [completed] consumer: orchestrator\n")
	b.WriteString("  conduit.dlq (direct)\n")
	b.WriteString("    dlq.tasks [tasks] manual processing\n")
	return b.String()
}
