package ai

import (
	"errors"
	"testing"

	"github.com/warrantypro/warranty-core-go/internal/model"
)

func TestParseStructuredSeverity(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
		want    model.SeverityVerdict
	}{
		{
			name: "bare JSON",
			text: `{"severity":"high","recommendClaim":true,"reasoning":"compressor failure"}`,
			want: model.SeverityVerdict{Severity: model.SeverityHigh, RecommendClaim: true, Reasoning: "compressor failure"},
		},
		{
			name: "markdown fenced",
			text: "Here is my analysis:\n```json\n{\"severity\":\"low\",\"recommendClaim\":false,\"reasoning\":\"cosmetic\"}\n```\nHope that helps!",
			want: model.SeverityVerdict{Severity: model.SeverityLow, RecommendClaim: false, Reasoning: "cosmetic"},
		},
		{
			name:    "no JSON at all",
			text:    "The issue seems moderately severe.",
			wantErr: true,
		},
		{
			name:    "missing required field",
			text:    `{"severity":"medium","reasoning":"no recommendation"}`,
			wantErr: true,
		},
		{
			name:    "severity outside enum",
			text:    `{"severity":"catastrophic","recommendClaim":true,"reasoning":"x"}`,
			wantErr: true,
		},
		{
			name:    "wrong type for recommendClaim",
			text:    `{"severity":"medium","recommendClaim":"yes","reasoning":"x"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got model.SeverityVerdict
			err := parseStructured(tt.text, severitySchema, &got)
			if tt.wantErr {
				if !errors.Is(err, ErrBadResponse) {
					t.Fatalf("expected ErrBadResponse, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseStructuredEmail(t *testing.T) {
	var draft struct {
		Subject  string `json:"subject"`
		Body     string `json:"body"`
		Severity string `json:"severity"`
	}

	text := "```json\n{\"subject\":\"Warranty Claim - Bosch Dishwasher\",\"body\":\"Dear Support,\\n...\",\"severity\":\"medium\"}\n```"
	if err := parseStructured(text, emailSchema, &draft); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if draft.Subject == "" || draft.Body == "" {
		t.Errorf("fields not populated: %+v", draft)
	}

	// Empty subject is rejected at the schema stage
	if err := parseStructured(`{"subject":"","body":"hi"}`, emailSchema, &draft); !errors.Is(err, ErrBadResponse) {
		t.Errorf("expected ErrBadResponse for empty subject, got %v", err)
	}
}

func TestParseStructuredSteps(t *testing.T) {
	var parsed struct {
		Steps []string `json:"steps"`
	}
	if err := parseStructured(`{"steps":["restart it","check the fuse"]}`, stepsSchema, &parsed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parsed.Steps) != 2 {
		t.Errorf("expected 2 steps, got %d", len(parsed.Steps))
	}

	if err := parseStructured(`{"steps":[]}`, stepsSchema, &parsed); !errors.Is(err, ErrBadResponse) {
		t.Errorf("expected ErrBadResponse for empty steps, got %v", err)
	}
}
