// Package evaluator applies the CI gate policy, a Rego module queried at
// data.quell.gate.decision, to a SARIF log.
package evaluator

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/chris-regnier/quell/internal/sarif"
)

//go:embed default.rego
var defaultPolicy string

const query = "data.quell.gate.decision"

// Gate decisions.
const (
	Pass = "pass"
	Warn = "warn"
	Fail = "fail"
)

// Verdict is the outcome of evaluating the gate policy.
type Verdict struct {
	Decision         string         `json:"decision"`
	Reason           string         `json:"reason"`
	RelevantFindings []sarif.Result `json:"relevant_findings,omitempty"`
}

// Failed reports whether the gate rejected the log.
func (v *Verdict) Failed() bool { return v != nil && v.Decision == Fail }

type Evaluator struct {
	query rego.PreparedEvalQuery
}

// NewEvaluator creates an evaluator. If policyDir is empty or holds no
// .rego files the embedded default policy is used; otherwise every .rego
// file in the directory is loaded in its place.
func NewEvaluator(policyDir string) (*Evaluator, error) {
	ctx := context.Background()

	modules := []func(*rego.Rego){rego.Module("default.rego", defaultPolicy)}

	if policyDir != "" {
		custom, err := loadPolicies(policyDir)
		if err != nil {
			return nil, err
		}
		if len(custom) > 0 {
			modules = custom
		}
	}

	opts := append([]func(*rego.Rego){rego.Query(query)}, modules...)
	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("preparing rego query: %w", err)
	}
	return &Evaluator{query: prepared}, nil
}

func loadPolicies(dir string) ([]func(*rego.Rego), error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading policy dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".rego") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var modules []func(*rego.Rego)
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		modules = append(modules, rego.Module(name, string(data)))
	}
	return modules, nil
}

func (e *Evaluator) Evaluate(ctx context.Context, log *sarif.Log) (*Verdict, error) {
	data, err := json.Marshal(log)
	if err != nil {
		return nil, err
	}
	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, err
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluating rego: %w", err)
	}

	decision := Warn
	if len(results) > 0 && len(results[0].Expressions) > 0 {
		if d, ok := results[0].Expressions[0].Value.(string); ok {
			decision = d
		}
	}
	switch decision {
	case Pass, Warn, Fail:
	default:
		return nil, fmt.Errorf("policy returned unknown decision %q", decision)
	}

	var all, relevant []sarif.Result
	for _, run := range log.Runs {
		all = append(all, run.Results...)
	}
	for _, r := range all {
		switch {
		case decision == Fail && r.Level == "error":
			relevant = append(relevant, r)
		case decision == Warn && (r.Level == "warning" || r.Level == "error"):
			relevant = append(relevant, r)
		}
	}

	return &Verdict{
		Decision:         decision,
		Reason:           fmt.Sprintf("Decision: %s based on %d findings", decision, len(all)),
		RelevantFindings: relevant,
	}, nil
}
