package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRunPending    MessageType = "run.pending"
	MessageTypeRunFinished   MessageType = "run.finished"
	MessageTypeTaskReady     MessageType = "task.ready"
	MessageTypeTaskCompleted MessageType = "task.completed"
)

// Message — конверт сообщения.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage создаёт сообщение с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// RunPendingPayload — новый run ожидает исполнения.
type RunPendingPayload struct {
	RunID string `json:"run_id"`
}

// RunFinishedPayload — run перешёл в финальный статус.
type RunFinishedPayload struct {
	RunID      string `json:"run_id"`
	Status     string `json:"status"`
	FailedNode string `json:"failed_node,omitempty"`
	Error      string `json:"error,omitempty"`
}

// TaskReadyPayload — попытка вызова шага готова к исполнению worker'ом.
type TaskReadyPayload struct {
	TaskID    uuid.UUID `json:"task_id"`
	RunID     string    `json:"run_id"`
	NodeID    string    `json:"node_id"`
	DedupKey  string    `json:"dedup_key"`
	TaskQueue string    `json:"task_queue"`
	Attempt   int       `json:"attempt"`
	// TimeoutMs — таймаут попытки, который worker применяет к шагу.
	TimeoutMs int64 `json:"timeout_ms,omitempty"`
}

// TaskCompletedPayload — попытка завершена (SUCCEEDED или FAILED).
type TaskCompletedPayload struct {
	TaskID   uuid.UUID      `json:"task_id"`
	RunID    string         `json:"run_id"`
	NodeID   string         `json:"node_id"`
	DedupKey string         `json:"dedup_key"`
	Status   string         `json:"status"`
	Error    string         `json:"error,omitempty"`
	Attempt  int            `json:"attempt"`
	Outputs  map[string]any `json:"outputs,omitempty"`
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),
			string(routingKey),
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish %s to %s/%s: %w", msg.Type, exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishRunPending сообщает оркестратору о новом run.
func (p *Publisher) PublishRunPending(ctx context.Context, runID string) error {
	msg := NewMessage(MessageTypeRunPending, RunPendingPayload{RunID: runID})
	return p.Publish(ctx, ExchangeRuns, RoutingKeyPending, msg)
}

// PublishRunFinished публикует событие о завершении run.
func (p *Publisher) PublishRunFinished(ctx context.Context, payload RunFinishedPayload) error {
	msg := NewMessage(MessageTypeRunFinished, payload)
	return p.Publish(ctx, ExchangeRuns, RoutingKeyFinished, msg)
}

// PublishTaskReady отправляет попытку шага в очередь её task queue.
func (p *Publisher) PublishTaskReady(ctx context.Context, payload TaskReadyPayload) error {
	msg := NewMessage(MessageTypeTaskReady, payload)
	return p.Publish(ctx, ExchangeTasks, TaskReadyKey(payload.TaskQueue), msg)
}

// PublishTaskCompleted публикует результат попытки.
func (p *Publisher) PublishTaskCompleted(ctx context.Context, payload TaskCompletedPayload) error {
	msg := NewMessage(MessageTypeTaskCompleted, payload)
	return p.Publish(ctx, ExchangeTasks, RoutingKeyCompleted, msg)
}
