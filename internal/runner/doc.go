// Package runner исполняет runs workflow.
//
// Controller проходит граф одного run строго последовательно:
// Resolving → связывание параметров → Invoking → Routing. Результаты
// узлов и путь выполнения накапливаются в ExecutionState и
// записываются в checkpoint, поэтому run переживает рестарт процесса.
//
// Invoker — прослойка вызова шага: таймаут попытки, повторы с backoff
// и дедупликация по ключу "<runId>/<nodeId>/<seq>". Попытки исполняются
// LocalExecutor (в процессе) или RemoteExecutor (worker'ы через RabbitMQ).
//
// Engine управляет множеством runs: принимает отправки, держит аренду
// исполняемых runs, подбирает pending и брошенные runs, отвечает на
// запросы статуса, состояния и отмены.
package runner
