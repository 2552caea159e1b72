package jq

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type namedMap map[string]any

func TestEvaluator_Evaluate(t *testing.T) {
	e := New()
	ctx := context.Background()

	data := namedMap{
		"executionPath": []string{"a", "b"},
		"nodeResults": namedMap{
			"a": namedMap{"status": "completed", "count": 2},
		},
	}

	tests := []struct {
		name string
		expr string
		want any
	}{
		{name: "field", expr: ".nodeResults.a.status", want: "completed"},
		{name: "int normalized", expr: ".nodeResults.a.count + 1", want: float64(3)},
		{name: "length", expr: ".executionPath | length", want: 2},
		{name: "multiple outputs", expr: ".executionPath[]", want: []any{"a", "b"}},
		{name: "no output", expr: "empty", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Evaluate(ctx, tt.expr, data)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %#v, got %#v", tt.want, got)
			}
		})
	}
}

func TestEvaluator_Errors(t *testing.T) {
	e := New()
	ctx := context.Background()

	if _, err := e.Evaluate(ctx, "", nil); !errors.Is(err, ErrEmptyExpression) {
		t.Errorf("expected ErrEmptyExpression, got %v", err)
	}
	if _, err := e.Evaluate(ctx, ".a[", nil); !errors.Is(err, ErrParse) {
		t.Errorf("expected ErrParse, got %v", err)
	}
	if _, err := e.Evaluate(ctx, `error("boom")`, nil); !errors.Is(err, ErrEval) {
		t.Errorf("expected ErrEval, got %v", err)
	}
}

func TestEvaluator_NoEnv(t *testing.T) {
	t.Setenv("CONDUIT_SECRET", "x")

	got, err := New().Evaluate(context.Background(), "$ENV.CONDUIT_SECRET", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected env to be hidden, got %v", got)
	}
}
