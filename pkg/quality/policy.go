package quality

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"

	"github.com/kapstat/kapstat/pkg/domain"
)

// DefaultPolicyEntrypoint is the deny rule evaluated for each record.
const DefaultPolicyEntrypoint = "kapstat/quality/deny"

// PolicyEvaluator evaluates an embedded Rego policy against each
// respondent record. The rule at the entrypoint must produce a set or
// array of human-readable deny messages; an empty result means the
// record passes.
type PolicyEvaluator struct {
	name     string
	prepared rego.PreparedEvalQuery
	logger   *slog.Logger
}

// NewPolicyEvaluator parses and compiles one Rego module. Parse and
// compile failures wrap ErrPolicyInvalid and fail quality setup;
// per-record evaluation errors later degrade to warnings.
func NewPolicyEvaluator(ctx context.Context, name, source, entrypoint string, logger *slog.Logger) (*PolicyEvaluator, error) {
	entry := strings.TrimSpace(entrypoint)
	if entry == "" {
		entry = DefaultPolicyEntrypoint
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	module, err := ast.ParseModuleWithOpts(name, source, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return nil, fmt.Errorf("%w: parse quality policy %q: %v", domain.ErrPolicyInvalid, name, err)
	}

	query := "data." + strings.ReplaceAll(entry, "/", ".")
	r := rego.New(
		rego.Query(query),
		rego.ParsedModule(module),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: compile quality policy %q: %v", domain.ErrPolicyInvalid, name, err)
	}

	return &PolicyEvaluator{name: name, prepared: prepared, logger: logger}, nil
}

// LoadPolicyEvaluator reads a Rego policy from disk and compiles it.
func LoadPolicyEvaluator(ctx context.Context, path, entrypoint string, logger *slog.Logger) (*PolicyEvaluator, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read quality policy: %v", domain.ErrPolicyInvalid, err)
	}
	return NewPolicyEvaluator(ctx, filepath.Base(path), string(source), entrypoint, logger)
}

// EvaluateRecord returns the deny messages for one respondent record.
// The input document carries the 1-based row number and the record's
// cells keyed by column name (numeric cells as numbers, text as
// strings, missing as null).
func (p *PolicyEvaluator) EvaluateRecord(ctx context.Context, row int, record map[string]any) ([]string, error) {
	input := map[string]any{
		"row":    row,
		"record": record,
	}
	results, err := p.prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluate quality policy %q: %w", p.name, err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}
	members, ok := results[0].Expressions[0].Value.([]any)
	if !ok {
		return nil, fmt.Errorf("quality policy %q: deny rule produced %T, want a set of messages", p.name, results[0].Expressions[0].Value)
	}
	msgs := make([]string, 0, len(members))
	for _, m := range members {
		if s, isString := m.(string); isString {
			msgs = append(msgs, s)
			continue
		}
		msgs = append(msgs, fmt.Sprint(m))
	}
	return msgs, nil
}
