// Package app собирает процессы Conduit из конфигурации.
//
// Каждый cmd/conduit-* вызывает NewServerCmd и получает готовые
// конфигурацию, логгер и контекст, отменяемый по SIGINT/SIGTERM.
// Дальше процесс открывает хранилища (OpenStores), подключается к
// RabbitMQ (ConnectMQ), если задан mq.url, и публикует /healthz и
// /metrics (ServeOps).
//
// Драйверы хранилища:
//
//	postgres  runs, tasks, workflows, schedules в PostgreSQL
//	sqlite    runs и tasks в файле SQLite, workflows и schedules в памяти
//	redis     runs и tasks в Redis, workflows и schedules в памяти
//	memory    всё в памяти процесса (разработка, тесты)
package app
