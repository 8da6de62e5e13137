// Package argschema composes a command-line schema from a meta tree's
// data-section variables, parses argument tokens against it, and writes
// typed values back into the meta tree.
package argschema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/errs"
	"github.com/eunomia-bpf/eunomia-bpf-sub000/pkg/metamodel"
)

// Outcome distinguishes help, version, and "keep going" so a caller can
// short-circuit without entering the load path. The source collapses
// these into overlapping integer codes; this module keeps them distinct
// per SPEC_FULL.md's Open Question decision.
type Outcome int

const (
	OutcomeContinue Outcome = iota
	OutcomeHelp
	OutcomeVersion
)

// Result is the outcome of a Bind call.
type Result struct {
	Outcome Outcome
	Usage   string
}

// Bind walks tree's data sections to compose a flag set, parses tokens
// (tokens[0] is the program name used in usage text), and writes each
// parsed value back into the corresponding variable's Value field.
func Bind(tree *metamodel.Tree, tokens []string) (*Result, error) {
	if len(tokens) == 0 {
		tokens = []string{"app"}
	}
	progName := tokens[0]
	args := tokens[1:]

	fs := pflag.NewFlagSet(progName, pflag.ContinueOnError)
	fs.SetOutput(new(strings.Builder)) // suppress pflag's own usage/error printing; we build our own

	help := fs.BoolP("help", "h", false, "show help")
	version := fs.BoolP("version", "v", false, "show version")

	bindings, err := registerVariables(tree, fs)
	if err != nil {
		return nil, err
	}

	if err := fs.Parse(args); err != nil {
		return nil, errs.Wrap(errs.BadArgument, err, "failed to parse arguments")
	}

	usage := buildUsage(progName, tree, bindings)

	if *help {
		return &Result{Outcome: OutcomeHelp, Usage: usage}, nil
	}
	if *version {
		v := "dev"
		if tree.Doc != nil && tree.Doc.Version != "" {
			v = tree.Doc.Version
		}
		return &Result{Outcome: OutcomeVersion, Usage: fmt.Sprintf("%s version %s", progName, v)}, nil
	}

	for i := range bindings {
		if err := applyBinding(&bindings[i]); err != nil {
			return nil, err
		}
	}

	return &Result{Outcome: OutcomeContinue, Usage: usage}, nil
}

type binding struct {
	variable *metamodel.Variable
	long     string
	short    string
	strVal   *string
	boolVal  *bool
	hasValue bool // whether the flag was explicitly set or carries a default
}

func registerVariables(tree *metamodel.Tree, fs *pflag.FlagSet) ([]binding, error) {
	bindings := make([]binding, 0)
	usedShort := map[string]bool{"h": true, "v": true}

	for si := range tree.DataSections {
		vars := tree.DataSections[si].Variables
		for vi := range vars {
			v := &vars[vi]

			long := v.Name
			short := ""
			if v.CmdArg != nil {
				if v.CmdArg.Long != "" {
					long = v.CmdArg.Long
				}
				if v.CmdArg.Short != "" && !usedShort[v.CmdArg.Short] {
					short = v.CmdArg.Short
				}
			}
			if usedShort[short] {
				short = ""
			}
			if short != "" {
				usedShort[short] = true
			}

			help := helpText(v)
			defaultVal, hasDefault := defaultValue(v)

			b := binding{variable: v, long: long, short: short, hasValue: hasDefault}

			if isBoolType(v.Type) {
				def := false
				if hasDefault {
					def, _ = strconv.ParseBool(defaultVal)
				}
				if short != "" {
					b.boolVal = fs.BoolP(long, short, def, help)
				} else {
					b.boolVal = fs.Bool(long, def, help)
				}
			} else {
				def := defaultVal
				if short != "" {
					b.strVal = fs.StringP(long, short, def, help)
				} else {
					b.strVal = fs.String(long, def, help)
				}
			}

			bindings = append(bindings, b)
		}
	}

	return bindings, nil
}

func helpText(v *metamodel.Variable) string {
	if v.CmdArg != nil && v.CmdArg.Help != "" {
		return v.CmdArg.Help
	}
	if v.Description != "" {
		return v.Description
	}
	return fmt.Sprintf("set value of bpf variable %s", v.Name)
}

func defaultValue(v *metamodel.Variable) (string, bool) {
	if v.CmdArg != nil && v.CmdArg.Default != "" {
		return v.CmdArg.Default, true
	}
	if v.Value != "" {
		return v.Value, true
	}
	return "", false
}

func isBoolType(t string) bool {
	return strings.TrimSpace(t) == "bool"
}

func applyBinding(b *binding) error {
	v := b.variable
	if isBoolType(v.Type) {
		v.Value = strconv.FormatBool(*b.boolVal)
		return nil
	}

	raw := *b.strVal
	if raw == "" && !b.hasValue {
		// No default, no value supplied: leave as bare string (possibly empty).
		v.Value = raw
		return nil
	}

	coerced, err := coerce(v.Type, v.Size, raw)
	if err != nil {
		return errs.Wrap(errs.BadArgumentType, err, "variable %q received %q", v.Name, raw)
	}
	v.Value = coerced
	return nil
}

// coerce validates raw against the variable's declared type, per §4.3's
// coercion table, and returns the canonical string form to store back
// into the meta tree's Value slot.
func coerce(typ string, size int, raw string) (string, error) {
	t := strings.TrimSpace(typ)
	switch {
	case t == "bool":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return "", fmt.Errorf("not a bool: %w", err)
		}
		return strconv.FormatBool(b), nil

	case strings.HasPrefix(t, "unsigned"):
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return "", fmt.Errorf("not an unsigned integer: %w", err)
		}
		return strconv.FormatUint(n, 10), nil

	case t == "int" || t == "short" || t == "long" || t == "long long":
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return "", fmt.Errorf("not a signed integer: %w", err)
		}
		return strconv.FormatInt(n, 10), nil

	case t == "float" || t == "double":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", fmt.Errorf("not a float: %w", err)
		}
		return strconv.FormatFloat(f, 'g', -1, 64), nil

	case isCharArray(t):
		limit := size - 1
		if limit < 0 {
			limit = 0
		}
		if len(raw) > limit {
			raw = raw[:limit]
		}
		return raw, nil

	default:
		return raw, nil
	}
}

func isCharArray(t string) bool {
	return strings.HasPrefix(t, "char[") && strings.HasSuffix(t, "]")
}

func buildUsage(progName string, tree *metamodel.Tree, bindings []binding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "usage: %s [options]\n", progName)
	if tree.Doc != nil && tree.Doc.Brief != "" {
		fmt.Fprintf(&b, "%s\n", tree.Doc.Brief)
	}
	fmt.Fprintf(&b, "  -h, --help       show help\n")
	fmt.Fprintf(&b, "  -v, --version    show version\n")
	for _, bd := range bindings {
		if bd.short != "" {
			fmt.Fprintf(&b, "  -%s, --%-12s %s\n", bd.short, bd.long, helpText(bd.variable))
		} else {
			fmt.Fprintf(&b, "      --%-12s %s\n", bd.long, helpText(bd.variable))
		}
	}
	return b.String()
}
