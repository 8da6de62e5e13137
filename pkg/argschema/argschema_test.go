package argschema

import (
	"strings"
	"testing"

	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/metamodel"
)

func sampleTree(t *testing.T) *metamodel.Tree {
	t.Helper()
	tree, err := metamodel.Parse([]byte(`{
		"obj_name": "tracer",
		"data_sections": [{
			"name": ".rodata",
			"variables": [
				{"name": "min_duration_ns", "type": "unsigned long long", "size": 8, "cmdarg": {"long": "min_duration_ns", "default": "0"}},
				{"name": "verbose", "type": "bool", "size": 1, "cmdarg": {"short": "v"}}
			]
		}]
	}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return tree
}

// S1 — CLI help.
func TestBindHelpOutcome(t *testing.T) {
	tree := sampleTree(t)
	res, err := Bind(tree, []string{"app", "-h"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeHelp {
		t.Fatalf("expected OutcomeHelp, got %v", res.Outcome)
	}
	if !strings.Contains(res.Usage, "min_duration_ns") {
		t.Fatalf("expected usage to mention min_duration_ns, got: %s", res.Usage)
	}
}

// S2 — Argument coercion.
func TestBindCoercesNumericAndBool(t *testing.T) {
	tree := sampleTree(t)
	res, err := Bind(tree, []string{"app", "--min_duration_ns", "1000"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeContinue {
		t.Fatalf("expected OutcomeContinue, got %v", res.Outcome)
	}

	v, ok := tree.FindVariable("min_duration_ns")
	if !ok {
		t.Fatalf("variable not found")
	}
	if v.Value != "1000" {
		t.Fatalf("expected value 1000, got %q", v.Value)
	}

	verbose, ok := tree.FindVariable("verbose")
	if !ok {
		t.Fatalf("verbose not found")
	}
	if verbose.Value != "false" {
		t.Fatalf("expected verbose=false by default, got %q", verbose.Value)
	}
}

func TestBindVersionOutcome(t *testing.T) {
	tree := sampleTree(t)
	res, err := Bind(tree, []string{"app", "--version"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeVersion {
		t.Fatalf("expected OutcomeVersion, got %v", res.Outcome)
	}
}

func TestBindBadArgumentType(t *testing.T) {
	tree := sampleTree(t)
	_, err := Bind(tree, []string{"app", "--min_duration_ns", "not-a-number"})
	if err == nil {
		t.Fatalf("expected error for bad argument type")
	}
}

func TestCoerceCharArrayTruncates(t *testing.T) {
	out, err := coerce("char[4]", 4, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hel" {
		t.Fatalf("expected truncation to 3 chars (size-1), got %q", out)
	}
}
