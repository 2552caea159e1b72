package engine

import (
	"github.com/shaiso/Conduit/internal/domain"
)

// Graph — неизменяемое представление узлов и рёбер одного определения.
//
// Рёбра хранятся в порядке объявления: от этого порядка зависит
// выбор при нескольких совпадениях в Route.
type Graph struct {
	// nodes — узлы в порядке объявления. nodes[0] — точка входа.
	nodes []domain.Node

	// index — nodeID → позиция в nodes.
	index map[string]int

	// edges — все рёбра в порядке объявления.
	edges []domain.Edge

	// outgoing — sourceID → индексы рёбер в edges.
	outgoing map[string][]int
}

// NewGraph строит Graph из определения.
//
// Если рёбер нет, а у узлов заданы списки next, рёбра строятся
// через NormalizeEdges. Возвращает ErrMalformedGraph для пустого
// списка узлов. Прочие структурные проверки выполняет Validate.
func NewGraph(def *domain.WorkflowDefinition) (*Graph, error) {
	if def == nil || len(def.Nodes) == 0 {
		return nil, ErrMalformedGraph
	}

	def = NormalizeEdges(def)

	g := &Graph{
		nodes:    make([]domain.Node, len(def.Nodes)),
		index:    make(map[string]int, len(def.Nodes)),
		edges:    make([]domain.Edge, len(def.Edges)),
		outgoing: make(map[string][]int),
	}
	copy(g.nodes, def.Nodes)
	copy(g.edges, def.Edges)

	for i := range g.nodes {
		// При дубликатах побеждает первый узел
		if _, exists := g.index[g.nodes[i].ID]; !exists {
			g.index[g.nodes[i].ID] = i
		}
	}

	for i := range g.edges {
		src := g.edges[i].Source
		g.outgoing[src] = append(g.outgoing[src], i)
	}

	return g, nil
}

// Entry возвращает точку входа.
func (g *Graph) Entry() domain.Node {
	return g.nodes[0]
}

// FindNode возвращает узел по ID.
func (g *Graph) FindNode(id string) (domain.Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return domain.Node{}, false
	}
	return g.nodes[i], true
}

// OutgoingEdges возвращает рёбра с source == sourceID в порядке объявления.
func (g *Graph) OutgoingEdges(sourceID string) []domain.Edge {
	idx := g.outgoing[sourceID]
	out := make([]domain.Edge, 0, len(idx))
	for _, i := range idx {
		out = append(out, g.edges[i])
	}
	return out
}

// OutgoingEdgesWithLabel возвращает исходящие рёбра с точным совпадением метки.
func (g *Graph) OutgoingEdgesWithLabel(sourceID, label string) []domain.Edge {
	out := make([]domain.Edge, 0)
	for _, i := range g.outgoing[sourceID] {
		if g.edges[i].Label == label {
			out = append(out, g.edges[i])
		}
	}
	return out
}

// Nodes возвращает копию списка узлов.
func (g *Graph) Nodes() []domain.Node {
	out := make([]domain.Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges возвращает копию списка рёбер.
func (g *Graph) Edges() []domain.Edge {
	out := make([]domain.Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Size возвращает количество узлов.
func (g *Graph) Size() int {
	return len(g.nodes)
}
