// Package policy holds the externally configurable data the agents consult
// each cycle: per-environment thresholds, safe-command templates, the
// fallback recommendation table and compliance lists.
package policy

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultPolicy []byte

var ErrUnknownTemplate = errors.New("unknown action type")

type Threshold struct {
	Warning  float64 `yaml:"warning" json:"warning"`
	Critical float64 `yaml:"critical" json:"critical"`
}

// Severity classifies a value against the threshold pair; "" means normal.
func (t Threshold) Severity(value float64) (string, float64) {
	switch {
	case t.Critical > 0 && value >= t.Critical:
		return models.SeverityCritical, t.Critical
	case t.Warning > 0 && value >= t.Warning:
		return models.SeverityWarning, t.Warning
	}
	return "", 0
}

type Statistical struct {
	MinSamples int     `yaml:"minSamples" json:"min_samples"`
	WarningZ   float64 `yaml:"warningZ" json:"warning_z"`
	CriticalZ  float64 `yaml:"criticalZ" json:"critical_z"`
}

type CommandSpec struct {
	Command      string   `yaml:"command" json:"command"`
	SafetyChecks []string `yaml:"safetyChecks" json:"safety_checks"`
}

type Template struct {
	Linux               *CommandSpec      `yaml:"linux" json:"linux,omitempty"`
	Windows             *CommandSpec      `yaml:"windows" json:"windows,omitempty"`
	DefaultParams       map[string]string `yaml:"defaultParams" json:"default_params,omitempty"`
	MaxExecutionSeconds int               `yaml:"maxExecutionSeconds" json:"max_execution_seconds"`
}

// For returns the command spec for an operating system.
func (t Template) For(os string) *CommandSpec {
	if os == models.OSWindows {
		return t.Windows
	}
	return t.Linux
}

type Rule struct {
	Metric            string            `yaml:"metric" json:"metric"`
	Above             float64           `yaml:"above" json:"above"`
	ActionType        string            `yaml:"actionType" json:"action_type"`
	Title             string            `yaml:"title" json:"title"`
	Description       string            `yaml:"description" json:"description"`
	Confidence        float64           `yaml:"confidence" json:"confidence"`
	EstimatedDowntime int               `yaml:"estimatedDowntime" json:"estimated_downtime"`
	RequiresApproval  bool              `yaml:"requiresApproval" json:"requires_approval"`
	Parameters        map[string]string `yaml:"parameters" json:"parameters,omitempty"`
}

type BusinessHours struct {
	Start        int    `yaml:"start" json:"start"`
	End          int    `yaml:"end" json:"end"`
	WeekdaysOnly bool   `yaml:"weekdaysOnly" json:"weekdays_only"`
	Timezone     string `yaml:"timezone" json:"timezone"`
}

// Contains reports whether t falls inside the window.
func (b BusinessHours) Contains(t time.Time) bool {
	if b.Timezone != "" {
		if loc, err := time.LoadLocation(b.Timezone); err == nil {
			t = t.In(loc)
		}
	}
	if b.WeekdaysOnly && (t.Weekday() == time.Saturday || t.Weekday() == time.Sunday) {
		return false
	}
	return t.Hour() >= b.Start && t.Hour() < b.End
}

type AutoApprove struct {
	MinConfidence float64 `yaml:"minConfidence" json:"min_confidence"`
	MaxDowntime   int     `yaml:"maxDowntime" json:"max_downtime"`
}

type Compliance struct {
	PassScore            int           `yaml:"passScore" json:"pass_score"`
	MinConfidence        float64       `yaml:"minConfidence" json:"min_confidence"`
	MaxDowntime          int           `yaml:"maxDowntime" json:"max_downtime"`
	ApprovedActions      []string      `yaml:"approvedActions" json:"approved_actions"`
	LowRiskActions       []string      `yaml:"lowRiskActions" json:"low_risk_actions"`
	DangerousPatterns    []string      `yaml:"dangerousPatterns" json:"dangerous_patterns"`
	CriticalHostPatterns []string      `yaml:"criticalHostPatterns" json:"critical_host_patterns"`
	BusinessHours        BusinessHours `yaml:"businessHours" json:"business_hours"`
	AutoApprove          AutoApprove   `yaml:"autoApprove" json:"auto_approve"`
}

func (c Compliance) IsApproved(actionType string) bool { return contains(c.ApprovedActions, actionType) }
func (c Compliance) IsLowRisk(actionType string) bool  { return contains(c.LowRiskActions, actionType) }

// DangerousMatch returns the first denylisted substring found in command.
func (c Compliance) DangerousMatch(command string) (string, bool) {
	lower := strings.ToLower(command)
	for _, p := range c.DangerousPatterns {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return p, true
		}
	}
	return "", false
}

type Policy struct {
	Thresholds     map[string]map[string]Threshold `yaml:"thresholds" json:"thresholds"`
	RecoveredRatio float64                         `yaml:"recoveredRatio" json:"recovered_ratio"`
	Statistical    Statistical                     `yaml:"statistical" json:"statistical"`
	Templates      map[string]Template             `yaml:"templates" json:"templates"`
	Rules          []Rule                          `yaml:"rules" json:"rules"`
	Compliance     Compliance                      `yaml:"compliance" json:"compliance"`
}

// Default returns the embedded policy.
func Default() (*Policy, error) {
	return Parse(defaultPolicy)
}

// Parse decodes a YAML document over the embedded defaults, so a file only
// needs the keys it changes, then validates the result.
func Parse(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(defaultPolicy, &p); err != nil {
		return nil, fmt.Errorf("decode default policy: %w", err)
	}
	if len(data) > 0 && !isDefault(data) {
		var override Policy
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("decode policy: %w", err)
		}
		p.merge(&override)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func isDefault(data []byte) bool { return string(data) == string(defaultPolicy) }

func (p *Policy) merge(o *Policy) {
	for env, metrics := range o.Thresholds {
		if p.Thresholds[env] == nil {
			p.Thresholds[env] = map[string]Threshold{}
		}
		for metric, th := range metrics {
			p.Thresholds[env][metric] = th
		}
	}
	if o.RecoveredRatio != 0 {
		p.RecoveredRatio = o.RecoveredRatio
	}
	if o.Statistical.MinSamples != 0 {
		p.Statistical.MinSamples = o.Statistical.MinSamples
	}
	if o.Statistical.WarningZ != 0 {
		p.Statistical.WarningZ = o.Statistical.WarningZ
	}
	if o.Statistical.CriticalZ != 0 {
		p.Statistical.CriticalZ = o.Statistical.CriticalZ
	}
	for name, tpl := range o.Templates {
		p.Templates[name] = tpl
	}
	if o.Rules != nil {
		p.Rules = o.Rules
	}
	c := o.Compliance
	if c.PassScore != 0 {
		p.Compliance.PassScore = c.PassScore
	}
	if c.MinConfidence != 0 {
		p.Compliance.MinConfidence = c.MinConfidence
	}
	if c.MaxDowntime != 0 {
		p.Compliance.MaxDowntime = c.MaxDowntime
	}
	if c.ApprovedActions != nil {
		p.Compliance.ApprovedActions = c.ApprovedActions
	}
	if c.LowRiskActions != nil {
		p.Compliance.LowRiskActions = c.LowRiskActions
	}
	if c.DangerousPatterns != nil {
		p.Compliance.DangerousPatterns = c.DangerousPatterns
	}
	if c.CriticalHostPatterns != nil {
		p.Compliance.CriticalHostPatterns = c.CriticalHostPatterns
	}
	if c.BusinessHours != (BusinessHours{}) {
		p.Compliance.BusinessHours = c.BusinessHours
	}
	if c.AutoApprove != (AutoApprove{}) {
		p.Compliance.AutoApprove = c.AutoApprove
	}
}

func (p *Policy) Validate() error {
	var errs []error
	for env, metrics := range p.Thresholds {
		for metric, th := range metrics {
			if th.Warning <= 0 || th.Critical <= 0 || th.Warning >= th.Critical {
				errs = append(errs, fmt.Errorf("thresholds.%s.%s: warning must be positive and below critical", env, metric))
			}
		}
	}
	if p.RecoveredRatio <= 0 || p.RecoveredRatio > 1 {
		errs = append(errs, fmt.Errorf("recoveredRatio must be in (0, 1], got %v", p.RecoveredRatio))
	}
	if p.Statistical.MinSamples < 2 {
		errs = append(errs, errors.New("statistical.minSamples must be at least 2"))
	}
	if p.Statistical.WarningZ <= 0 || p.Statistical.CriticalZ <= p.Statistical.WarningZ {
		errs = append(errs, errors.New("statistical: criticalZ must exceed warningZ > 0"))
	}
	for name, tpl := range p.Templates {
		if tpl.Linux == nil && tpl.Windows == nil {
			errs = append(errs, fmt.Errorf("templates.%s: needs a linux or windows command", name))
		}
		for _, spec := range []*CommandSpec{tpl.Linux, tpl.Windows} {
			if spec != nil && strings.TrimSpace(spec.Command) == "" {
				errs = append(errs, fmt.Errorf("templates.%s: empty command", name))
			}
		}
	}
	for i, r := range p.Rules {
		if _, ok := p.Templates[r.ActionType]; !ok {
			errs = append(errs, fmt.Errorf("rules[%d]: %w %q", i, ErrUnknownTemplate, r.ActionType))
		}
		if r.Confidence < 0 || r.Confidence > 100 {
			errs = append(errs, fmt.Errorf("rules[%d]: confidence must be 0-100", i))
		}
	}
	if p.Compliance.PassScore < 0 || p.Compliance.PassScore > 100 {
		errs = append(errs, errors.New("compliance.passScore must be 0-100"))
	}
	bh := p.Compliance.BusinessHours
	if bh.Start < 0 || bh.End > 24 || bh.Start >= bh.End {
		errs = append(errs, errors.New("compliance.businessHours: start must precede end within 0-24"))
	}
	return errors.Join(errs...)
}

// ThresholdFor returns the threshold for a metric in an environment, falling
// back to dev when the environment has no entry.
func (p *Policy) ThresholdFor(env, metric string) (Threshold, bool) {
	env = models.NormalizeEnvironment(env)
	if th, ok := p.Thresholds[env][metric]; ok {
		return th, true
	}
	th, ok := p.Thresholds[models.EnvDev][metric]
	return th, ok
}

func (p *Policy) Template(actionType string) (Template, error) {
	tpl, ok := p.Templates[actionType]
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, actionType)
	}
	return tpl, nil
}

// MatchRule returns the first rule for metric whose bound value exceeds.
func (p *Policy) MatchRule(metric string, value float64) (Rule, bool) {
	for _, r := range p.Rules {
		if r.Metric == metric && value > r.Above {
			return r, true
		}
	}
	return Rule{}, false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
