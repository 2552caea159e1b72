// Package api содержит HTTP-интерфейс движка.
//
// Структура:
//   - handler.go          — Handler с DI (Engine, хранилища, реестр шагов, logger)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — logging, metrics, recovery
//   - response.go         — JSON-ответы и отображение ошибок в HTTP-коды
//   - dto.go              — Data Transfer Objects (request/response)
//   - execute_handler.go  — /health, /api/actions, отправка inline-определений и статус
//   - workflow_handler.go — зарегистрированные workflows и версии
//   - run_handler.go      — runs: список, статус, снимок состояния, отмена, tasks
//   - schedule_handler.go — расписания
package api
