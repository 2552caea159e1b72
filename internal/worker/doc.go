// Package worker исполняет попытки шагов на удалённых узлах.
//
// # Обзор
//
// Когда оркестратор работает с remote_steps, каждая попытка шага
// публикуется как task.ready в очередь task queue run'а
// ("tasks.<task_queue>"). Worker:
//
//   - Потребляет task.ready из очередей своих task queues
//   - Проверяет по хранилищу, что попытка актуальна (RUNNING, тот же attempt)
//   - Выполняет шаг через steps.Invoke с таймаутом из сообщения
//   - Записывает SUCCEEDED/FAILED в хранилище tasks
//   - Отправляет task.completed оркестратору
//
// Workers масштабируются горизонтально — несколько экземпляров
// потребляют из одной очереди.
//
//	w := worker.New(worker.Config{
//	    Tasks:      taskStore,
//	    Publisher:  publisher,
//	    Conn:       mqConn,
//	    Registry:   steps.DefaultRegistry(logger),
//	    TaskQueues: []string{"conduit-workflow-queue"},
//	    Logger:     logger,
//	})
//
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// # Повторы
//
// Worker выполняет ровно одну попытку на сообщение. Повторы, backoff
// и решение о провале узла принимает runner.Invoker в оркестраторе;
// он же публикует следующую попытку.
//
// # Доставка
//
// RabbitMQ доставляет сообщения at-least-once. Повторная доставка
// уже завершённой попытки не выполняет шаг второй раз, а только
// переотправляет task.completed.
package worker
