package mq

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestTaskQueueNaming(t *testing.T) {
	if got := TaskQueue("conduit-workflow-queue"); got != "tasks.conduit-workflow-queue" {
		t.Errorf("TaskQueue() = %q", got)
	}
	if got := TaskReadyKey("pdf"); got != "ready.pdf" {
		t.Errorf("TaskReadyKey() = %q", got)
	}
}

func TestParsePayload_RoundTrip(t *testing.T) {
	taskID := uuid.New()
	msg := NewMessage(MessageTypeTaskCompleted, TaskCompletedPayload{
		TaskID:   taskID,
		RunID:    "wf-20240101000000",
		NodeID:   "extract",
		DedupKey: "wf-20240101000000/extract/1",
		Status:   "SUCCEEDED",
		Attempt:  2,
		Outputs:  map[string]any{"completeness": "partial"},
	})

	// Имитация доставки: после json.Unmarshal конверта payload становится map
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var delivered Message
	if err := json.Unmarshal(body, &delivered); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	got, err := ParsePayload[TaskCompletedPayload](&delivered)
	if err != nil {
		t.Fatalf("ParsePayload() error = %v", err)
	}
	if got.TaskID != taskID || got.Attempt != 2 || got.Outputs["completeness"] != "partial" {
		t.Errorf("ParsePayload() = %+v", got)
	}
}

func TestParsePayload_Invalid(t *testing.T) {
	msg := NewMessage(MessageTypeRunPending, map[string]any{"run_id": 42})

	if _, err := ParsePayload[RunPendingPayload](msg); err == nil {
		t.Error("expected error for numeric run_id")
	}
}

func TestPermanent(t *testing.T) {
	base := errors.New("bad payload")
	err := Permanent(base)

	if !IsPermanent(err) {
		t.Error("IsPermanent() = false")
	}
	if !errors.Is(err, base) {
		t.Error("Permanent should unwrap to base error")
	}
	if IsPermanent(base) {
		t.Error("plain error must not be permanent")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}

func TestTopologyInfo(t *testing.T) {
	info := TopologyInfo("default", "pdf")
	for _, want := range []string{"conduit.runs", "tasks.default", "ready.pdf", "dlq.tasks"} {
		if !strings.Contains(info, want) {
			t.Errorf("TopologyInfo() missing %q", want)
		}
	}
}
