package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shaiso/Conduit/internal/mq"
)

// Broker — соединение RabbitMQ и publisher поверх него.
// Нулевой Broker означает работу без брокера.
type Broker struct {
	Conn      *mq.Connection
	Publisher *mq.Publisher
}

// ConnectMQ подключается к RabbitMQ и объявляет топологию.
// Пустой url возвращает пустой Broker без ошибки.
func ConnectMQ(ctx context.Context, url string, logger *slog.Logger, taskQueues ...string) (*Broker, error) {
	if url == "" {
		logger.Info("mq.url is empty, running in polling-only mode")
		return &Broker{}, nil
	}

	conn, err := mq.NewConnection(url, logger)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	if err := mq.SetupTopology(ctx, conn, taskQueues...); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setup topology: %w", err)
	}

	logger.Info("rabbitmq connected", "task_queues", taskQueues)
	logger.Debug(mq.TopologyInfo(taskQueues...))
	return &Broker{Conn: conn, Publisher: mq.NewPublisher(conn, logger)}, nil
}

// Enabled сообщает, подключён ли брокер.
func (b *Broker) Enabled() bool {
	return b != nil && b.Conn != nil
}

// Close закрывает соединение, если оно есть.
func (b *Broker) Close() error {
	if !b.Enabled() {
		return nil
	}
	return b.Conn.Close()
}
