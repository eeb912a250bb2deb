package executor

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/ahmetk3436/autoremedy/internal/policy"
)

// Command is a fully substituted remediation ready to dispatch.
type Command struct {
	ActionType   string        `json:"action_type"`
	Script       string        `json:"script"`
	SafetyChecks []string      `json:"safety_checks"`
	Timeout      time.Duration `json:"timeout"`
}

var paramPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// BuildCommand resolves the template for the action type and OS, fills
// ${name} placeholders from the template defaults overlaid with the action's
// parameters, and picks the timeout: action, then template, then default.
func BuildCommand(p *policy.Policy, action models.RemediationAction, os string, defaultTimeout time.Duration) (Command, error) {
	tpl, ok := p.Templates[action.ActionType]
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrUnknownAction, action.ActionType)
	}
	spec := tpl.For(os)
	if spec == nil {
		return Command{}, fmt.Errorf("%w: %s has no %s template", ErrUnknownAction, action.ActionType, os)
	}

	params := make(map[string]string, len(tpl.DefaultParams)+len(action.Parameters))
	for k, v := range tpl.DefaultParams {
		params[k] = v
	}
	for k, v := range action.StringParams() {
		params[k] = v
	}

	script, err := Substitute(spec.Command, params)
	if err != nil {
		return Command{}, err
	}
	checks := make([]string, 0, len(spec.SafetyChecks))
	for _, c := range spec.SafetyChecks {
		sc, err := Substitute(c, params)
		if err != nil {
			return Command{}, err
		}
		checks = append(checks, sc)
	}

	timeout := defaultTimeout
	switch {
	case action.MaxExecutionSeconds > 0:
		timeout = time.Duration(action.MaxExecutionSeconds) * time.Second
	case tpl.MaxExecutionSeconds > 0:
		timeout = time.Duration(tpl.MaxExecutionSeconds) * time.Second
	}

	return Command{
		ActionType:   action.ActionType,
		Script:       script,
		SafetyChecks: checks,
		Timeout:      timeout,
	}, nil
}

// Substitute replaces ${name} placeholders. Every placeholder must be bound
// and no value may carry shell syntax.
func Substitute(tpl string, params map[string]string) (string, error) {
	var missing []string
	var unsafe error
	out := paramPattern.ReplaceAllStringFunc(tpl, func(m string) string {
		name := paramPattern.FindStringSubmatch(m)[1]
		v, ok := params[name]
		if !ok || v == "" {
			missing = append(missing, name)
			return m
		}
		if err := checkParamValue(name, v); err != nil && unsafe == nil {
			unsafe = err
		}
		return v
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("%w: %s", ErrMissingParameter, strings.Join(dedupe(missing), ", "))
	}
	if unsafe != nil {
		return "", unsafe
	}
	return out, nil
}

const shellMeta = ";|&$`<>\n\r\"'(){}*?!~"

func checkParamValue(name, v string) error {
	if strings.ContainsAny(v, shellMeta) {
		return fmt.Errorf("%w: %s contains shell syntax", ErrUnsafeParameter, name)
	}
	if strings.HasPrefix(v, "-") {
		return fmt.Errorf("%w: %s may not start with '-'", ErrUnsafeParameter, name)
	}
	if strings.Contains(v, "..") {
		return fmt.Errorf("%w: %s may not traverse parents", ErrUnsafeParameter, name)
	}
	return nil
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
