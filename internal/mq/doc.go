// Package mq — транспорт RabbitMQ между API, оркестратором и workers.
//
// Структура:
//   - connection.go — соединение с reconnect и широковещательным уведомлением
//   - topology.go   — exchanges, общие очереди, очереди task queues
//   - publisher.go  — конверт Message, payloads и публикация
//   - consumer.go   — потребление с ack/nack и DLQ для повторных сбоев
//
// Типы сообщений:
//   - run.pending    — новый run ожидает исполнения (API → оркестратор)
//   - task.ready     — попытка шага для worker'а, routing key "ready.<task queue>"
//   - task.completed — результат попытки (worker → оркестратор)
//   - run.finished   — run завершён (для внешних подписчиков)
//
// Брокер — только канал уведомлений. Источник истины — хранилище
// runs и tasks: потерянное сообщение подхватывается polling'ом.
package mq
