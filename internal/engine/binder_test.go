package engine

import (
	"reflect"
	"testing"

	"github.com/shaiso/Conduit/internal/domain"
)

func TestBind_DoesNotMutateTemplate(t *testing.T) {
	node := domain.Node{
		ID:   "save",
		Type: StepTypeSaveMarkdown,
		Params: domain.Params{
			"filename": "out.md",
			"options":  map[string]any{"overwrite": true},
		},
	}
	snapshot := node.Params.Clone()

	first := Bind(node, domain.StepResult{"extractedData": map[string]any{"bol": "1"}}, "run-1")
	second := Bind(node, domain.StepResult{"extractedData": "other"}, "run-2")

	// Изменения копий не должны попадать в шаблон
	first["filename"] = "changed.md"
	first["options"].(map[string]any)["overwrite"] = false

	if !reflect.DeepEqual(node.Params, snapshot) {
		t.Errorf("template mutated: %v", node.Params)
	}
	if second["workflowId"] != "run-2" {
		t.Errorf("expected workflowId run-2, got %v", second["workflowId"])
	}
	if second["extractedData"] != "other" {
		t.Errorf("expected extractedData from second result, got %v", second["extractedData"])
	}
}

func TestBind_PDFOnlyForPDFStep(t *testing.T) {
	prev := domain.StepResult{"pdfBase64": "JVBERi0="}

	tests := []struct {
		stepType string
		wantPDF  bool
	}{
		{stepType: StepTypeExtractPDF, wantPDF: true},
		{stepType: StepTypeSaveMarkdown, wantPDF: false},
		{stepType: "send_email", wantPDF: false},
		{stepType: "", wantPDF: false},
	}

	for _, tt := range tests {
		t.Run(tt.stepType, func(t *testing.T) {
			params := Bind(domain.Node{ID: "n", Type: tt.stepType}, prev, "run-1")
			if params.Has("pdfBase64") != tt.wantPDF {
				t.Errorf("pdfBase64 present = %v, want %v", params.Has("pdfBase64"), tt.wantPDF)
			}
		})
	}
}

func TestBind_ExplicitParamsWin(t *testing.T) {
	node := domain.Node{
		ID:   "save",
		Type: StepTypeSaveMarkdown,
		Params: domain.Params{
			"extractedData": "declared",
			"workflowId":    "custom-id",
		},
	}

	params := Bind(node, domain.StepResult{"extractedData": "from-previous"}, "run-1")

	if params["extractedData"] != "declared" {
		t.Errorf("expected declared extractedData, got %v", params["extractedData"])
	}
	if params["workflowId"] != "custom-id" {
		t.Errorf("expected custom-id, got %v", params["workflowId"])
	}
}

func TestBind_WorkflowIDAlwaysForSaveStep(t *testing.T) {
	params := Bind(domain.Node{ID: "save", Type: StepTypeSaveMarkdown}, nil, "wf-20260101120000")

	if params["workflowId"] != "wf-20260101120000" {
		t.Errorf("expected run id, got %v", params["workflowId"])
	}
	if params.Has("extractedData") {
		t.Error("extractedData must not be set without previous result")
	}
}

func TestBind_NoMatchingRule(t *testing.T) {
	node := domain.Node{ID: "email", Type: "send_email", Params: domain.Params{"to": "a@b.c"}}

	params := Bind(node, domain.StepResult{"extractedData": "x", "pdfBase64": "y"}, "run-1")

	want := domain.Params{"to": "a@b.c"}
	if !reflect.DeepEqual(params, want) {
		t.Errorf("expected %v, got %v", want, params)
	}
}
