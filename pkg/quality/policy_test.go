package quality

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kapstat/kapstat/pkg/dataset"
	"github.com/kapstat/kapstat/pkg/domain"
)

const testPolicy = `package kapstat.quality

deny contains msg if {
	is_number(input.record.age)
	input.record.age < 10
	msg := sprintf("row %d: age %v is below the adolescent range", [input.row, input.record.age])
}

deny contains msg if {
	is_number(input.record.knowledge_score)
	input.record.knowledge_score > 9
	msg := sprintf("row %d: knowledge score exceeds the scale", [input.row])
}
`

func TestPolicyEvaluatorDenyMessages(t *testing.T) {
	ctx := context.Background()
	pe, err := NewPolicyEvaluator(ctx, "survey.rego", testPolicy, "", nil)
	if err != nil {
		t.Fatalf("NewPolicyEvaluator: %v", err)
	}

	msgs, err := pe.EvaluateRecord(ctx, 1, map[string]any{"age": 8.0, "knowledge_score": 5.0})
	if err != nil {
		t.Fatalf("EvaluateRecord: %v", err)
	}
	if len(msgs) != 1 || !strings.Contains(msgs[0], "age") {
		t.Fatalf("msgs = %v, want one age denial", msgs)
	}

	msgs, err = pe.EvaluateRecord(ctx, 2, map[string]any{"age": 14.0, "knowledge_score": 12.0})
	if err != nil {
		t.Fatalf("EvaluateRecord: %v", err)
	}
	if len(msgs) != 1 || !strings.Contains(msgs[0], "row 2") {
		t.Fatalf("msgs = %v, want one score denial", msgs)
	}

	msgs, err = pe.EvaluateRecord(ctx, 3, map[string]any{"age": 14.0, "knowledge_score": 5.0})
	if err != nil {
		t.Fatalf("EvaluateRecord: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("msgs = %v, want clean record to pass", msgs)
	}
}

func TestPolicyEvaluatorIgnoresMissingFields(t *testing.T) {
	ctx := context.Background()
	pe, err := NewPolicyEvaluator(ctx, "survey.rego", testPolicy, "", nil)
	if err != nil {
		t.Fatalf("NewPolicyEvaluator: %v", err)
	}
	msgs, err := pe.EvaluateRecord(ctx, 1, map[string]any{"age": nil})
	if err != nil {
		t.Fatalf("EvaluateRecord: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("msgs = %v, null cells must not trip numeric rules", msgs)
	}
}

func TestPolicyEvaluatorParseError(t *testing.T) {
	ctx := context.Background()
	_, err := NewPolicyEvaluator(ctx, "broken.rego", "package kapstat.quality\n\ndeny contains {", "", nil)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !errors.Is(err, domain.ErrPolicyInvalid) {
		t.Fatalf("err = %v, want ErrPolicyInvalid", err)
	}
}

func TestPolicyEvaluatorRejectsLegacySyntax(t *testing.T) {
	ctx := context.Background()
	legacy := "package kapstat.quality\n\ndeny[msg] {\n\tmsg := \"no\"\n}\n"
	_, err := NewPolicyEvaluator(ctx, "legacy.rego", legacy, "", nil)
	if err == nil {
		t.Fatal("expected pre-v1 rule syntax to be rejected")
	}
	if !errors.Is(err, domain.ErrPolicyInvalid) {
		t.Fatalf("err = %v, want ErrPolicyInvalid", err)
	}
}

func TestLoadPolicyEvaluator(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "survey.rego")
	if err := os.WriteFile(path, []byte(testPolicy), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	pe, err := LoadPolicyEvaluator(ctx, path, "", nil)
	if err != nil {
		t.Fatalf("LoadPolicyEvaluator: %v", err)
	}
	msgs, err := pe.EvaluateRecord(ctx, 1, map[string]any{"age": 5.0})
	if err != nil {
		t.Fatalf("EvaluateRecord: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("msgs = %v, want one denial", msgs)
	}

	if _, err := LoadPolicyEvaluator(ctx, filepath.Join(dir, "absent.rego"), "", nil); !errors.Is(err, domain.ErrPolicyInvalid) {
		t.Fatalf("err = %v, want ErrPolicyInvalid for unreadable path", err)
	}
}

func TestAssessWithPolicy(t *testing.T) {
	ctx := context.Background()
	pe, err := NewPolicyEvaluator(ctx, "survey.rego", testPolicy, "", nil)
	if err != nil {
		t.Fatalf("NewPolicyEvaluator: %v", err)
	}
	tab := qualityTable(t,
		dataset.NewNumericColumn("age", []float64{8, 15}, nil),
	)
	r := NewChecker(nil, pe, nil).Assess(ctx, tab)

	if len(r.Policy) != 1 {
		t.Fatalf("policy findings = %v, want one", r.Policy)
	}
	f := r.Policy[0]
	if f.Row != 1 || f.Variable != "policy" || f.Issue != IssuePolicy {
		t.Fatalf("finding = %+v", f)
	}
	if !strings.Contains(f.Details, "row 1") {
		t.Fatalf("details = %q", f.Details)
	}
	if r.Summary.PolicyCount != 1 || r.Summary.TotalIssues != 1 {
		t.Fatalf("summary = %+v", r.Summary)
	}
	found := false
	for _, w := range r.Warnings {
		if strings.Contains(w, "policy violations") {
			found = true
		}
	}
	if !found {
		t.Fatalf("warnings = %v, want a policy warning", r.Warnings)
	}
}
