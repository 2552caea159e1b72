// Package engine содержит чистую (без I/O) логику обхода графа workflow.
//
// Включает:
//   - graph.go     — Graph: поиск узла и исходящих рёбер
//   - binder.go    — связывание параметров узла с результатом предыдущего шага
//   - router.go    — выбор следующего узла по результату шага
//   - parser.go    — разбор и валидация WorkflowDefinition
//   - normalize.go — преобразование устаревших списков next в рёбра
//   - schema.go    — проверка исходного JSON по JSON Schema
//
// Пакет не хранит состояние run и не вызывает шаги: это делает
// контроллер из пакета runner. Всё здесь детерминировано, поэтому
// повторный проход по тем же результатам даёт тот же путь.
package engine
