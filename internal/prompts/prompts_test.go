package prompts

import (
	"strings"
	"testing"
)

func TestPeriodOfDay(t *testing.T) {
	tests := []struct {
		hour int
		want string
	}{
		{0, "night"},
		{4, "night"},
		{5, "morning"},
		{9, "morning"},
		{11, "morning"},
		{12, "afternoon"},
		{17, "afternoon"},
		{18, "evening"},
		{21, "evening"},
		{22, "night"},
		{23, "night"},
	}

	for _, tt := range tests {
		if got := PeriodOfDay(tt.hour); got != tt.want {
			t.Errorf("PeriodOfDay(%d) = %q, want %q", tt.hour, got, tt.want)
		}
	}
}

func TestWelcomeMessage(t *testing.T) {
	got := WelcomeMessage(9, "Clínica Sorriso")
	if !strings.HasPrefix(got, "Bom dia!") {
		t.Errorf("hour 9 welcome = %q, want morning greeting", got)
	}
	if !strings.Contains(got, "Clínica Sorriso") {
		t.Errorf("welcome missing clinic name: %q", got)
	}

	if got := WelcomeMessage(23, "X"); !strings.Contains(got, "fora do horário comercial") {
		t.Errorf("hour 23 welcome = %q, want night greeting", got)
	}
}

func TestSystemPrompt(t *testing.T) {
	got := SystemPrompt("Clínica Sorriso")
	if !strings.Contains(got, "Clínica Sorriso") {
		t.Error("system prompt missing clinic name")
	}
	if strings.Contains(got, "%s") || strings.Contains(got, "%!") {
		t.Errorf("system prompt has unexpanded placeholder: %q", got[:120])
	}
}

func TestQuickResponse(t *testing.T) {
	got := QuickResponse("returning_patient", map[string]string{"name": "Maria"})
	if !strings.Contains(got, "Maria") {
		t.Errorf("quick response = %q", got)
	}
	if QuickResponse("no_such_key", nil) != "" {
		t.Error("unknown key should render empty")
	}
}

func TestFollowUp(t *testing.T) {
	got := FollowUp("3_days", map[string]string{"name": "Maria", "treatment": "clareamento"})
	if !strings.Contains(got, "clareamento") {
		t.Errorf("follow up = %q", got)
	}
}
