package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Conduit/internal/domain"
)

func TestNewGraph_Empty(t *testing.T) {
	tests := []struct {
		name string
		def  *domain.WorkflowDefinition
	}{
		{name: "nil definition", def: nil},
		{name: "no nodes", def: &domain.WorkflowDefinition{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGraph(tt.def)
			if !errors.Is(err, ErrMalformedGraph) {
				t.Errorf("expected ErrMalformedGraph, got %v", err)
			}
		})
	}
}

func TestGraph_EntryIsFirstNode(t *testing.T) {
	g, err := NewGraph(&domain.WorkflowDefinition{
		Nodes: []domain.Node{{ID: "b"}, {ID: "a"}},
		Edges: []domain.Edge{{Source: "a", Target: "b"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.Entry().ID != "b" {
		t.Errorf("expected entry b, got %s", g.Entry().ID)
	}
}

func TestGraph_FindNode(t *testing.T) {
	g, err := NewGraph(&domain.WorkflowDefinition{
		Nodes: []domain.Node{{ID: "a", Type: "log_workflow_action"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	node, ok := g.FindNode("a")
	if !ok {
		t.Fatal("expected node a to exist")
	}
	if node.Type != "log_workflow_action" {
		t.Errorf("expected type log_workflow_action, got %s", node.Type)
	}

	if _, ok := g.FindNode("missing"); ok {
		t.Error("expected missing node to be absent")
	}
}

func TestGraph_OutgoingEdgesOrder(t *testing.T) {
	g, err := NewGraph(&domain.WorkflowDefinition{
		Nodes: []domain.Node{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}},
		Edges: []domain.Edge{
			{ID: "e1", Source: "a", Target: "c", Label: "x"},
			{ID: "e2", Source: "b", Target: "c"},
			{ID: "e3", Source: "a", Target: "b"},
			{ID: "e4", Source: "a", Target: "d", Label: "x"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	edges := g.OutgoingEdges("a")
	if len(edges) != 3 {
		t.Fatalf("expected 3 edges, got %d", len(edges))
	}
	for i, want := range []string{"e1", "e3", "e4"} {
		if edges[i].ID != want {
			t.Errorf("edge %d: expected %s, got %s", i, want, edges[i].ID)
		}
	}

	labeled := g.OutgoingEdgesWithLabel("a", "x")
	if len(labeled) != 2 || labeled[0].ID != "e1" || labeled[1].ID != "e4" {
		t.Errorf("expected [e1 e4], got %v", labeled)
	}

	if len(g.OutgoingEdges("d")) != 0 {
		t.Error("expected no outgoing edges for d")
	}
}

func TestGraph_IndependentOfDefinition(t *testing.T) {
	def := &domain.WorkflowDefinition{
		Nodes: []domain.Node{{ID: "a"}, {ID: "b"}},
		Edges: []domain.Edge{{Source: "a", Target: "b"}},
	}
	g, err := NewGraph(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	def.Nodes[0].ID = "changed"
	def.Edges[0].Target = "changed"

	if _, ok := g.FindNode("a"); !ok {
		t.Error("graph must not share nodes with definition")
	}
	if g.OutgoingEdges("a")[0].Target != "b" {
		t.Error("graph must not share edges with definition")
	}
}
