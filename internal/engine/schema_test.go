package engine

import (
	"errors"
	"testing"
)

func TestSchemaValidator_ValidateDocument(t *testing.T) {
	v, err := NewSchemaValidator()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{
			name: "valid",
			doc:  `{"nodes": [{"id": "a", "type": "trigger"}], "edges": []}`,
		},
		{
			name: "valid with retry",
			doc:  `{"nodes": [{"id": "a", "retry": {"max_attempts": 5, "backoff": "fixed"}}]}`,
		},
		{
			name:    "missing nodes",
			doc:     `{"edges": []}`,
			wantErr: true,
		},
		{
			name:    "empty nodes",
			doc:     `{"nodes": []}`,
			wantErr: true,
		},
		{
			name:    "node without id",
			doc:     `{"nodes": [{"type": "trigger"}]}`,
			wantErr: true,
		},
		{
			name:    "edge without target",
			doc:     `{"nodes": [{"id": "a"}], "edges": [{"source": "a"}]}`,
			wantErr: true,
		},
		{
			name:    "unknown retry field",
			doc:     `{"nodes": [{"id": "a", "retry": {"attempts": 2}}]}`,
			wantErr: true,
		},
		{
			name:    "not JSON",
			doc:     `nodes:`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateDocument([]byte(tt.doc))
			if !tt.wantErr {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrSchemaViolation) {
				t.Errorf("expected ErrSchemaViolation, got %v", err)
			}
		})
	}
}
