package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shaiso/Conduit/internal/domain"
)

const (
	// StepTypeLogWorkflowAction — тип шага журналирования.
	StepTypeLogWorkflowAction = "log_workflow_action"

	// StepTypeLogActivity — синоним log_workflow_action.
	StepTypeLogActivity = "log_activity"

	// Ключи параметров log шага.
	configLogLevel = "log_level"
	configMessage  = "message"
	configMetadata = "metadata"
)

// LogStep — шаг, который пишет сообщение в журнал.
//
// Параметры:
//
//	{
//	    "log_level": "info",          // info, warning, error
//	    "message": "Reply received",
//	    "metadata": {"po": "123"}      // map или JSON-строка
//	}
//
// Outputs:
//
//	{"status": "logged", "log_level": "INFO", "message": "...", "timestamp": "...", "metadata": {...}}
type LogStep struct {
	stepType string
	logger   *slog.Logger
}

// NewLogStep создаёт LogStep с указанным типом.
func NewLogStep(stepType string, logger *slog.Logger) *LogStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogStep{stepType: stepType, logger: logger}
}

// Type возвращает тип шага.
func (s *LogStep) Type() string {
	return s.stepType
}

// Description возвращает описание шага.
func (s *LogStep) Description() string {
	return "Write a message with metadata to the workflow log"
}

// Execute пишет сообщение в журнал.
func (s *LogStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
	default:
	}

	level := strings.ToUpper(GetConfigString(req.Params, configLogLevel))
	if level == "" {
		level = "INFO"
	}

	message := GetConfigString(req.Params, configMessage)
	if message == "" {
		message = "No message provided"
	}

	metadata := parseMetadata(req.Params[configMetadata])
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	attrs := []any{
		"run_id", req.RunID,
		"node_id", req.NodeID,
	}
	if metadata != nil {
		attrs = append(attrs, "metadata", metadata)
	}

	s.logger.Log(ctx, slogLevel(level), message, attrs...)

	return NewResponse(domain.StepResult{
		domain.FieldStatus: "logged",
		configLogLevel:     level,
		configMessage:      message,
		"timestamp":        timestamp,
		configMetadata:     metadata,
	}), nil
}

// parseMetadata возвращает metadata как есть; строку пробует разобрать как JSON.
func parseMetadata(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	var parsed any
	if err := json.Unmarshal([]byte(s), &parsed); err == nil {
		return parsed
	}
	return s
}

func slogLevel(level string) slog.Level {
	switch level {
	case "WARNING", "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	case "DEBUG":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
