package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Conduit/internal/domain"
)

func knownTypes(types ...string) func(string) bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(stepType string) bool { return set[stepType] }
}

func TestValidate_EmptyNodes(t *testing.T) {
	tests := []struct {
		name string
		def  *domain.WorkflowDefinition
	}{
		{name: "nil definition", def: nil},
		{name: "empty nodes", def: &domain.WorkflowDefinition{Nodes: []domain.Node{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.def, ValidateOptions{})
			if !errors.Is(err, ErrMalformedGraph) {
				t.Errorf("expected ErrMalformedGraph, got %v", err)
			}
		})
	}
}

func TestValidate_NodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		def     *domain.WorkflowDefinition
		opts    ValidateOptions
		wantErr error
	}{
		{
			name:    "empty node ID",
			def:     &domain.WorkflowDefinition{Nodes: []domain.Node{{ID: ""}}},
			wantErr: ErrEmptyNodeID,
		},
		{
			name: "duplicate node ID",
			def: &domain.WorkflowDefinition{Nodes: []domain.Node{
				{ID: "a", Type: "http_request"},
				{ID: "a", Type: "transform"},
			}},
			wantErr: ErrDuplicateNodeID,
		},
		{
			name:    "unknown step type",
			def:     &domain.WorkflowDefinition{Nodes: []domain.Node{{ID: "a", Type: "teleport"}}},
			opts:    ValidateOptions{IsKnownType: knownTypes("http_request")},
			wantErr: ErrUnknownStepType,
		},
		{
			name: "negative retry",
			def: &domain.WorkflowDefinition{Nodes: []domain.Node{
				{ID: "a", Retry: &domain.RetryPolicy{MaxAttempts: -1}},
			}},
			wantErr: ErrInvalidRetryPolicy,
		},
		{
			name: "unknown backoff",
			def: &domain.WorkflowDefinition{Nodes: []domain.Node{
				{ID: "a", Retry: &domain.RetryPolicy{Backoff: "random"}},
			}},
			wantErr: ErrInvalidRetryPolicy,
		},
		{
			name:    "missing trigger",
			def:     &domain.WorkflowDefinition{Nodes: []domain.Node{{ID: "a"}}},
			opts:    ValidateOptions{RequireTrigger: true},
			wantErr: ErrMissingTrigger,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.def, tt.opts)
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_BuiltinTypesAlwaysKnown(t *testing.T) {
	def := &domain.WorkflowDefinition{
		Nodes: []domain.Node{
			{ID: "start", Type: domain.StepTypeTrigger},
			{ID: "wait", Type: domain.StepTypeWait, Params: domain.Params{"duration": 1}},
			{ID: "noop"},
		},
	}

	if err := Validate(def, ValidateOptions{IsKnownType: knownTypes(), RequireTrigger: true}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate_Edges(t *testing.T) {
	tests := []struct {
		name    string
		edges   []domain.Edge
		wantErr error
	}{
		{
			name:    "empty target",
			edges:   []domain.Edge{{ID: "e1", Source: "a"}},
			wantErr: ErrInvalidEdge,
		},
		{
			name:    "unknown source",
			edges:   []domain.Edge{{ID: "e1", Source: "ghost", Target: "a"}},
			wantErr: ErrUnknownEdgeSource,
		},
		{
			name:    "dangling target is allowed",
			edges:   []domain.Edge{{ID: "e1", Source: "a", Target: "ghost"}},
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := &domain.WorkflowDefinition{
				Nodes: []domain.Node{{ID: "a"}},
				Edges: tt.edges,
			}

			err := Validate(def, ValidateOptions{})
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParse_Valid(t *testing.T) {
	data := []byte(`{
		"id": "email-followup",
		"nodes": [
			{"id": "start", "type": "trigger"},
			{"id": "log", "type": "log_workflow_action", "params": {"message": "hi"}}
		],
		"edges": [{"id": "e1", "source": "start", "target": "log"}]
	}`)

	def, err := Parse(data, ValidateOptions{IsKnownType: knownTypes("log_workflow_action")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if def.ID != "email-followup" {
		t.Errorf("expected id email-followup, got %s", def.ID)
	}
	if len(def.Nodes) != 2 || len(def.Edges) != 1 {
		t.Errorf("expected 2 nodes and 1 edge, got %d and %d", len(def.Nodes), len(def.Edges))
	}
	if def.Nodes[1].Params["message"] != "hi" {
		t.Errorf("expected params to be decoded, got %v", def.Nodes[1].Params)
	}
}

func TestParse_LegacyNext(t *testing.T) {
	data := []byte(`{"nodes": [{"id": "a", "next": ["b"]}, {"id": "b"}]}`)

	def, err := Parse(data, ValidateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(def.Edges) != 1 || def.Edges[0].Target != "b" {
		t.Errorf("expected normalized edge a -> b, got %v", def.Edges)
	}
}

func TestParse_InvalidJSON(t *testing.T) {
	if _, err := Parse([]byte(`{"nodes": [`), ValidateOptions{}); err == nil {
		t.Error("expected error for invalid JSON")
	}
}
