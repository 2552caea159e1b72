package steps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/Conduit/internal/domain"
)

// Invoke выполняет одну попытку шага req.
//
// Шаг запускается в отдельной горутине: если он не реагирует на ctx,
// Invoke всё равно возвращается по дедлайну с ErrStepTimeout. Паника
// шага превращается в ошибку попытки. Параметры передаются копией,
// поэтому шаг не может изменить шаблон узла.
func Invoke(ctx context.Context, registry *Registry, stepType string, req *Request) (domain.StepResult, error) {
	step, err := registry.Get(stepType)
	if err != nil {
		return nil, err
	}

	call := *req
	call.Params = req.Params.Clone()
	if call.Params == nil {
		call.Params = domain.Params{}
	}
	if deadline, ok := ctx.Deadline(); ok && call.Timeout <= 0 {
		call.Timeout = time.Until(deadline)
	}

	type outcome struct {
		resp *Response
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("step %s panicked: %v", stepType, p)}
			}
		}()
		resp, err := step.Execute(ctx, &call)
		done <- outcome{resp: resp, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if ctx.Err() != nil && errors.Is(o.err, ctx.Err()) {
				return nil, ContextError(ctx)
			}
			return nil, o.err
		}
		if o.resp == nil || o.resp.Outputs == nil {
			return domain.StepResult{}, nil
		}
		return o.resp.Outputs, nil
	case <-ctx.Done():
		return nil, ContextError(ctx)
	}
}

// ContextError переводит ошибку контекста в ошибку шага:
// истёкший дедлайн — ErrStepTimeout, отмена — ErrStepCancelled.
func ContextError(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrStepTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrStepCancelled, err)
}

// IsRetryable сообщает, имеет ли смысл повторять попытку после err.
// Неизвестный тип шага и некорректные параметры не исправятся повтором.
func IsRetryable(err error) bool {
	return !errors.Is(err, ErrStepNotFound) && !errors.Is(err, ErrInvalidConfig)
}
