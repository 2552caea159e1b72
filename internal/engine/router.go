package engine

import (
	"fmt"

	"github.com/shaiso/Conduit/internal/domain"
)

// Rule — правило, по которому выбран следующий узел.
type Rule string

const (
	RuleNone         Rule = "none"
	RuleSingle       Rule = "single"
	RuleCompleteness Rule = "completeness"
	RuleStatus       Rule = "status"
	RuleDefault      Rule = "default"
)

// Метки рёбер для маршрутизации по completeness.
const (
	LabelComplete            = "complete"
	LabelPartial             = "partial"
	LabelIncompleteGibberish = "incomplete/gibberish"
	LabelIncomplete          = "incomplete"
	LabelGibberish           = "gibberish"
)

// Decision — результат маршрутизации.
type Decision struct {
	// Target — ID следующего узла. Пусто — run завершается.
	Target string

	// EdgeID — ID выбранного ребра.
	EdgeID string

	// Rule — сработавшее правило.
	Rule Rule

	// Warning — нефатальное предупреждение (оборачивает ErrRoutingAmbiguity).
	Warning error
}

// HasNext возвращает true, если есть следующий узел.
func (d Decision) HasNext() bool {
	return d.Target != ""
}

// Route выбирает следующий узел после завершения current.
//
// Порядок правил:
//  1. нет исходящих рёбер — run завершается;
//  2. одно ребро — его target, метка игнорируется;
//  3. поле completeness — ребро с меткой из completenessLabels;
//  4. поле status — ребро с меткой, равной status;
//  5. первое исходящее ребро.
//
// При нескольких совпадениях всегда побеждает первое ребро в порядке объявления.
func Route(g *Graph, current string, result domain.StepResult) Decision {
	edges := g.OutgoingEdges(current)

	switch len(edges) {
	case 0:
		return Decision{Rule: RuleNone}
	case 1:
		return decide(edges[0], RuleSingle)
	}

	var warning error

	if result.Has(domain.FieldCompleteness) {
		candidates := completenessLabels(result)
		for _, label := range candidates {
			if edge, ok := firstWithLabel(edges, label); ok {
				return decide(edge, RuleCompleteness)
			}
		}
		completeness, _ := result.Completeness()
		warning = fmt.Errorf("%w: node %s: completeness %q matched none of %v",
			ErrRoutingAmbiguity, current, completeness, candidates)
	} else if status, ok := result.Status(); ok {
		if edge, ok := firstWithLabel(edges, status); ok {
			return decide(edge, RuleStatus)
		}
	}

	d := decide(edges[0], RuleDefault)
	d.Warning = warning
	return d
}

// completenessLabels возвращает метки-кандидаты в порядке проверки.
func completenessLabels(result domain.StepResult) []string {
	completeness, _ := result.Completeness()
	gibberish := result.IsGibberish()

	switch {
	case completeness == domain.CompletenessComplete && !gibberish:
		return []string{LabelComplete}
	case completeness == domain.CompletenessPartial && !gibberish:
		return []string{LabelPartial}
	default:
		return []string{LabelIncompleteGibberish, LabelIncomplete, LabelGibberish}
	}
}

func firstWithLabel(edges []domain.Edge, label string) (domain.Edge, bool) {
	for _, e := range edges {
		if e.Label == label {
			return e, true
		}
	}
	return domain.Edge{}, false
}

func decide(e domain.Edge, rule Rule) Decision {
	return Decision{
		Target: e.Target,
		EdgeID: e.ID,
		Rule:   rule,
	}
}
