package engine

import (
	"github.com/shaiso/Conduit/internal/domain"
)

// Типы шагов, для которых действуют правила автозаполнения.
const (
	StepTypeExtractPDF   = "extract_data_from_pdf"
	StepTypeSaveMarkdown = "save_extraction_as_markdown"
)

// bindRule — одно правило автозаполнения параметра.
type bindRule struct {
	// stepType — тип целевого шага.
	stepType string

	// param — параметр, который заполняется.
	param string

	// source — поле предыдущего результата. Пусто — значение берётся из run ID.
	source string
}

// bindRules — закрытый набор правил. Правила применяются независимо,
// каждое только если параметр ещё не задан в шаблоне.
var bindRules = []bindRule{
	{stepType: StepTypeExtractPDF, param: domain.FieldPDFBase64, source: domain.FieldPDFBase64},
	{stepType: StepTypeSaveMarkdown, param: domain.FieldExtractedData, source: domain.FieldExtractedData},
	{stepType: StepTypeSaveMarkdown, param: domain.FieldWorkflowID},
}

// Bind возвращает эффективные параметры узла.
//
// Всегда начинает с глубокой копии node.Params: шаблон узла не изменяется.
// previous — результат последнего узла в executionPath (для точки
// входа контроллер передаёт начальные параметры run).
func Bind(node domain.Node, previous domain.StepResult, runID string) domain.Params {
	params := node.Params.Clone()

	for _, rule := range bindRules {
		if rule.stepType != node.Type || params.Has(rule.param) {
			continue
		}

		if rule.source == "" {
			params[rule.param] = runID
			continue
		}

		if previous.Has(rule.source) {
			params[rule.param] = cloneField(previous, rule.source)
		}
	}

	return params
}

// cloneField копирует значение поля, чтобы параметры не разделяли
// вложенные структуры с сохранённым результатом.
func cloneField(r domain.StepResult, field string) any {
	return domain.StepResult{field: r[field]}.Clone()[field]
}
