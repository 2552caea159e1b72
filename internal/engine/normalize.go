package engine

import (
	"fmt"
	"strings"

	"github.com/shaiso/Conduit/internal/domain"
)

// NormalizeEdges переводит устаревший формат связей (node.next) в рёбра.
//
// Применяется, только если в определении нет ни одного ребра.
// Возвращает def без изменений, если преобразовывать нечего; иначе
// новую копию определения. Исходное определение не изменяется.
//
// Для узлов с несколькими next метка ребра выводится из ID целевого узла,
// чтобы маршрутизация по completeness работала и в старом формате.
func NormalizeEdges(def *domain.WorkflowDefinition) *domain.WorkflowDefinition {
	if def == nil || len(def.Edges) > 0 || !hasNextLists(def.Nodes) {
		return def
	}

	out := *def
	out.Nodes = make([]domain.Node, len(def.Nodes))
	copy(out.Nodes, def.Nodes)
	out.Edges = make([]domain.Edge, 0)

	for _, node := range def.Nodes {
		for _, target := range node.Next {
			label := ""
			if len(node.Next) > 1 {
				label = inferLabel(target)
			}
			out.Edges = append(out.Edges, domain.Edge{
				ID:     fmt.Sprintf("e-%s-%s", node.ID, target),
				Source: node.ID,
				Target: target,
				Label:  label,
			})
		}
	}

	return &out
}

func hasNextLists(nodes []domain.Node) bool {
	for i := range nodes {
		if len(nodes[i].Next) > 0 {
			return true
		}
	}
	return false
}

// inferLabel выводит метку ребра из ID целевого узла.
// "incomplete" содержит "complete", поэтому проверяется раньше.
func inferLabel(target string) string {
	id := strings.ToLower(target)
	switch {
	case strings.Contains(id, "gibberish"),
		strings.Contains(id, "escalat"),
		strings.Contains(id, "incomplete"):
		return LabelIncompleteGibberish
	case strings.Contains(id, "partial"):
		return LabelPartial
	case strings.Contains(id, "complete"):
		return LabelComplete
	default:
		return ""
	}
}
