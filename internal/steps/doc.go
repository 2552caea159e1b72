// Package steps содержит Step Registry и встроенные реализации шагов.
//
// # Обзор
//
// Шаг — внешняя для движка единица работы. Движок знает только имя
// типа шага, входные параметры и возвращаемый результат:
//
//	type Step interface {
//	    Type() string
//	    Execute(ctx context.Context, req *Request) (*Response, error)
//	}
//
// Request содержит эффективные параметры (после связывания в
// engine.Bind), номер попытки и DedupKey — ключ, одинаковый для всех
// попыток одного вызова. Шаги с побочными эффектами используют его
// для дедупликации.
//
// # Registry
//
// Registry отображает тип шага на реализацию и политику выполнения
// (таймаут попытки, повторы). Заполняется при старте процесса:
//
//	registry := steps.DefaultRegistry(logger)
//	registry.RegisterWithPolicy(myStep, steps.Policy{Timeout: 30 * time.Second})
//
// Нулевые поля Policy заменяются значениями по умолчанию из конфигурации.
//
// # Встроенные шаги
//
//   - log_workflow_action, log_activity — запись в журнал (log.go)
//   - http_request — вызов HTTP API (http.go)
//   - transform — jq-выражения над данными (transform.go)
//   - wait_for_duration — ожидание (wait.go); внутри run его
//     исполняет сам контроллер
//
// Retry логика находится в runner.Invoker, шаги просто возвращают ошибки.
package steps
