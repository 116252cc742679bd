package classify_test

import (
	"strings"
	"testing"

	"github.com/tybalt/worklog-classifier/internal/classify"
)

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	p := classify.BuildPrompt("DS-Login refactor", 3)
	for _, want := range []string{
		"- workDescription: DS-Login refactor",
		"- total_hours: 3\n",
		`{"type": "Tybalt"} or {"type": "IT"}`,
		"IT_Hours + Tybalt_Hours must equal total_hours, within 0.01 hours",
		"meetings about Tybalt",
		"single JSON object",
	} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p)
		}
	}
	if p != classify.BuildPrompt("DS-Login refactor", 3) {
		t.Fatalf("prompt must be deterministic")
	}
}

func TestBuildPrompt_FormatsFractionalHours(t *testing.T) {
	t.Parallel()

	p := classify.BuildPrompt("x", 2.25)
	if !strings.Contains(p, "- total_hours: 2.25\n") {
		t.Fatalf("unexpected hours rendering:\n%s", p)
	}
}

func TestBuildRetryPrompt(t *testing.T) {
	t.Parallel()

	previous := `{"type":"Partial","IT_Hours":2,"Tybalt_Hours":4}`
	problem := "IT_Hours (2) + Tybalt_Hours (4) does not equal total_hours (5)."
	p := classify.BuildRetryPrompt("end user support, then DS-Reports work", 5, previous, problem)

	for _, want := range []string{
		"- workDescription: end user support, then DS-Reports work",
		"- total_hours: 5\n",
		previous,
		problem,
		"SINGLE corrected JSON object",
		"Reply with JSON ONLY",
		`"Tybalt_Description"`,
	} {
		if !strings.Contains(p, want) {
			t.Fatalf("retry prompt missing %q:\n%s", want, p)
		}
	}
}
