// Package cli реализует инструмент командной строки Conduit.
//
// # Обзор
//
// CLI — клиентская утилита для Conduit API. Работает через HTTP и не
// импортирует внутренние пакеты движка: зависимость только от
// JSON-формата ответов. Исключение — internal/jq для фильтрации
// снимка состояния run (conduit run state ID --jq EXPR).
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент. Разворачивает обёртку {data} ресурсных эндпоинтов
// /api/v1, а ответы /api/workflows/* и /api/actions читает как есть.
// Ошибки сервера возвращаются как *APIError.
//
//	client := cli.NewClient("http://localhost:8080")
//	resp, err := client.Execute(ctx, definition)
//
// ## Output
//
// Таблицы (text/tabwriter) по умолчанию или JSON с флагом --json.
// Данные пишутся в stdout, сообщения (Success/Error) в stderr:
//
//	conduit run list --json | jq .
//
// ## Commands
//
//   - workflow: list, create, show, update, delete, versions, publish
//   - run: list, start, show, state, cancel, tasks
//   - schedule: list, create, show, update, delete, enable, disable
//   - execute FILE, status RUN_ID, actions
//
// Каждая группа создаётся фабрикой (NewWorkflowCmd и т.д.), принимающей
// clientFn и outputFn: замыкания создают Client и Output после разбора
// PersistentFlags.
package cli
