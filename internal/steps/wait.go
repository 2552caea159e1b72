package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/Conduit/internal/domain"
)

// Ключи параметров wait шага.
const (
	configDuration = "duration"
	configUnit     = "unit"
)

// Единицы длительности ожидания.
const (
	UnitSeconds = "seconds"
	UnitMinutes = "minutes"
	UnitHours   = "hours"
	UnitDays    = "days"

	// DefaultWaitUnit — единица, если unit не задан.
	DefaultWaitUnit = UnitSeconds
)

var waitUnits = map[string]time.Duration{
	UnitSeconds: time.Second,
	UnitMinutes: time.Minute,
	UnitHours:   time.Hour,
	UnitDays:    24 * time.Hour,
}

// WaitInterval переводит пару duration+unit в интервал ожидания.
//
// Никогда не возвращает ошибку: нечисловая или отрицательная длительность
// даёт 0, неизвестная единица заменяется на DefaultWaitUnit. В этих случаях
// warning содержит описание проблемы.
func WaitInterval(params domain.Params) (interval time.Duration, warning string) {
	var warnings []string

	unit := strings.ToLower(strings.TrimSpace(GetConfigString(params, configUnit)))
	if unit == "" {
		unit = DefaultWaitUnit
	}
	mult, ok := waitUnits[unit]
	if !ok {
		warnings = append(warnings, fmt.Sprintf("unknown wait unit %q, using %s", unit, DefaultWaitUnit))
		mult = waitUnits[DefaultWaitUnit]
	}

	raw, present := params[configDuration]
	n, ok := toFloat(raw)
	switch {
	case !present:
		warnings = append(warnings, "wait duration is missing, using 0")
		n = 0
	case !ok:
		warnings = append(warnings, fmt.Sprintf("wait duration %v is not a number, using 0", raw))
		n = 0
	case n < 0:
		warnings = append(warnings, fmt.Sprintf("wait duration %v is negative, using 0", raw))
		n = 0
	}

	return time.Duration(n * float64(mult)), strings.Join(warnings, "; ")
}

// WaitResult — результат завершённого ожидания.
func WaitResult(interval time.Duration) domain.StepResult {
	return domain.StepResult{
		domain.FieldStatus:        domain.ResultStatusCompleted,
		domain.FieldWaitedSeconds: int64(interval / time.Second),
	}
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case float64:
		f = n
	case float32:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// WaitStep — шаг ожидания.
//
// Контроллер run обрабатывает wait_for_duration сам (с сохранением
// момента окончания в checkpoint), поэтому через реестр этот шаг
// вызывается только вне контроллера, например удалённым воркером.
//
// Параметры:
//
//	{"duration": 2, "unit": "minutes"}   // seconds, minutes, hours, days
//
// Outputs:
//
//	{"status": "completed", "waitedSeconds": 120}
type WaitStep struct{}

// NewWaitStep создаёт новый WaitStep.
func NewWaitStep() *WaitStep {
	return &WaitStep{}
}

// Type возвращает тип шага.
func (s *WaitStep) Type() string {
	return domain.StepTypeWait
}

// Description возвращает описание шага.
func (s *WaitStep) Description() string {
	return "Wait for the specified duration before continuing the workflow"
}

// Execute выполняет ожидание.
func (s *WaitStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	interval, _ := WaitInterval(req.Params)

	timer := time.NewTimer(interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
	case <-timer.C:
		return NewResponse(WaitResult(interval)), nil
	}
}
