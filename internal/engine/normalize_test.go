package engine

import (
	"testing"

	"github.com/shaiso/Conduit/internal/domain"
)

func TestNormalizeEdges_LegacyNext(t *testing.T) {
	def := &domain.WorkflowDefinition{
		Nodes: []domain.Node{
			{ID: "trigger", Type: domain.StepTypeTrigger, Next: []string{"parse"}},
			{ID: "parse", Type: "parse_email", Next: []string{"on_complete", "handle_partial", "escalate_manager"}},
			{ID: "on_complete"},
			{ID: "handle_partial"},
			{ID: "escalate_manager"},
		},
	}

	out := NormalizeEdges(def)

	if len(def.Edges) != 0 {
		t.Fatal("source definition must not be modified")
	}
	if len(out.Edges) != 4 {
		t.Fatalf("expected 4 edges, got %d", len(out.Edges))
	}

	want := []domain.Edge{
		{ID: "e-trigger-parse", Source: "trigger", Target: "parse", Label: ""},
		{ID: "e-parse-on_complete", Source: "parse", Target: "on_complete", Label: LabelComplete},
		{ID: "e-parse-handle_partial", Source: "parse", Target: "handle_partial", Label: LabelPartial},
		{ID: "e-parse-escalate_manager", Source: "parse", Target: "escalate_manager", Label: LabelIncompleteGibberish},
	}
	for i, w := range want {
		if out.Edges[i] != w {
			t.Errorf("edge %d: expected %+v, got %+v", i, w, out.Edges[i])
		}
	}
}

func TestNormalizeEdges_KeepsExplicitEdges(t *testing.T) {
	def := &domain.WorkflowDefinition{
		Nodes: []domain.Node{{ID: "a", Next: []string{"c"}}, {ID: "b"}},
		Edges: []domain.Edge{{Source: "a", Target: "b"}},
	}

	if out := NormalizeEdges(def); out != def {
		t.Error("expected definition with edges to be returned as is")
	}
}

func TestInferLabel(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{target: "Send_Complete_Ack", want: LabelComplete},
		{target: "incomplete_reply", want: LabelIncompleteGibberish},
		{target: "gibberish_handler", want: LabelIncompleteGibberish},
		{target: "escalation", want: LabelIncompleteGibberish},
		{target: "partial_followup", want: LabelPartial},
		{target: "log", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			if got := inferLabel(tt.target); got != tt.want {
				t.Errorf("inferLabel(%q) = %q, want %q", tt.target, got, tt.want)
			}
		})
	}
}
