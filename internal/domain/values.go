package domain

// Params — параметры узла (значения: строки, числа, bool, вложенные map/slice, nil).
type Params map[string]any

// StepResult — результат шага.
//
// Схема результата движку неизвестна. Движок читает только
// конвенциональные поля (см. константы Field*), остальное хранит
// и передаёт как есть.
type StepResult map[string]any

// Конвенциональные поля результата.
const (
	FieldStatus        = "status"
	FieldCompleteness  = "completeness"
	FieldIsGibberish   = "isGibberish"
	FieldPDFBase64     = "pdfBase64"
	FieldExtractedData = "extractedData"
	FieldWorkflowID    = "workflowId"
	FieldError         = "error"
	FieldWaitedSeconds = "waitedSeconds"
)

// Значения поля status, которые выставляет сам движок.
const (
	ResultStatusCompleted = "completed"
	ResultStatusSkipped   = "skipped"
	ResultStatusFailed    = "failed"
)

// Значения поля completeness.
const (
	CompletenessComplete   = "complete"
	CompletenessPartial    = "partial"
	CompletenessIncomplete = "incomplete"
)

// Status возвращает поле status, если оно строковое.
func (r StepResult) Status() (string, bool) {
	s, ok := r[FieldStatus].(string)
	return s, ok
}

// Completeness возвращает поле completeness, если оно строковое.
func (r StepResult) Completeness() (string, bool) {
	s, ok := r[FieldCompleteness].(string)
	return s, ok
}

// IsGibberish возвращает true только для булевого true.
// Отсутствие поля или не-bool значение считается false.
func (r StepResult) IsGibberish() bool {
	b, ok := r[FieldIsGibberish].(bool)
	return ok && b
}

// Has проверяет наличие поля (nil значение тоже считается присутствием).
func (r StepResult) Has(field string) bool {
	_, ok := r[field]
	return ok
}

// Clone возвращает глубокую копию результата.
func (r StepResult) Clone() StepResult {
	if r == nil {
		return nil
	}
	return StepResult(cloneMap(r))
}

// Has проверяет наличие параметра.
func (p Params) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// Clone возвращает глубокую копию параметров.
// Вложенные map и slice копируются, чтобы изменения копии не
// затрагивали шаблон узла.
func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}
	return Params(cloneMap(p))
}

// SkippedResult — результат no-op узла.
func SkippedResult() StepResult {
	return StepResult{FieldStatus: ResultStatusSkipped}
}

// FailedResult — результат узла, исчерпавшего попытки.
func FailedResult(errMsg string) StepResult {
	return StepResult{
		FieldStatus: ResultStatusFailed,
		FieldError:  errMsg,
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case Params:
		return Params(cloneMap(val))
	case StepResult:
		return StepResult(cloneMap(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	default:
		return v
	}
}
