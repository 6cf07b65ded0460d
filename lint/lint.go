// Package lint checks a manifest for structural defects that would make it
// unpublishable or unusable, without failing outright: every check runs and
// every finding is collected, mirroring the original's "return diagnostics,
// don't error the call" behavior (original_source/libips/src/api.rs
// lint_manifest).
package lint

import (
	"strconv"
	"strings"

	"github.com/OpenFlowLabs/ipstoolkit/fmri"
	"github.com/OpenFlowLabs/ipstoolkit/manifest"
)

// Severity classifies how serious a Finding is.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	default:
		return "unknown"
	}
}

// Finding is a single lint diagnostic: the rule that raised it, its
// severity, and a human-readable message.
type Finding struct {
	Rule     string
	Severity Severity
	Message  string
}

// Config controls which rules run and at what severity (spec.md's
// supplemented lint feature, modeled on LintConfig in
// original_source/libips/src/api.rs).
type Config struct {
	// DisabledRules names rule IDs to skip. Ignored if EnabledOnly is set.
	DisabledRules []string

	// EnabledOnly, if non-nil, restricts linting to exactly these rule IDs.
	EnabledOnly []string

	// SeverityOverrides replaces a rule's DefaultSeverity with the given
	// value, keyed by rule ID.
	SeverityOverrides map[string]Severity
}

func (c *Config) enabled(ruleID string) bool {
	if c == nil {
		return true
	}
	if c.EnabledOnly != nil {
		for _, id := range c.EnabledOnly {
			if id == ruleID {
				return true
			}
		}
		return false
	}
	for _, id := range c.DisabledRules {
		if id == ruleID {
			return false
		}
	}
	return true
}

func (c *Config) severity(ruleID string, def Severity) Severity {
	if c == nil {
		return def
	}
	if s, ok := c.SeverityOverrides[ruleID]; ok {
		return s
	}
	return def
}

// Rule checks one structural property of a manifest.
type Rule interface {
	ID() string
	Description() string
	DefaultSeverity() Severity
	Check(m *manifest.Manifest, cfg *Config) []Finding
}

// DefaultRules returns the toolkit's built-in structural rules, in the
// fixed order they're applied (original_source/libips/src/api.rs
// default_rules).
func DefaultRules() []Rule {
	return []Rule{
		manifestFmriRule{},
		manifestSummaryRule{},
		dependencyFieldsRule{},
	}
}

// Check runs every enabled rule from DefaultRules against m and returns the
// combined findings. It never fails the call; a manifest with no defects
// returns an empty slice.
func Check(m *manifest.Manifest, cfg *Config) []Finding {
	var findings []Finding
	for _, rule := range DefaultRules() {
		if !cfg.enabled(rule.ID()) {
			continue
		}
		for _, f := range rule.Check(m, cfg) {
			f.Severity = cfg.severity(rule.ID(), rule.DefaultSeverity())
			findings = append(findings, f)
		}
	}
	return findings
}

// manifestFmriRule flags a missing, invalid, or duplicated pkg.fmri
// attribute (original_source/libips/src/api.rs RuleManifestFmri).
type manifestFmriRule struct{}

func (manifestFmriRule) ID() string               { return "manifest.fmri" }
func (manifestFmriRule) Description() string      { return "manifest must carry exactly one valid pkg.fmri attribute" }
func (manifestFmriRule) DefaultSeverity() Severity { return SeverityError }

func (r manifestFmriRule) Check(m *manifest.Manifest, _ *Config) []Finding {
	var found []string
	for _, a := range m.Attributes {
		if a.Key == "pkg.fmri" {
			found = append(found, a.Values...)
		}
	}

	if len(found) == 0 {
		return []Finding{{Rule: r.ID(), Message: "manifest has no pkg.fmri attribute"}}
	}
	if len(found) > 1 {
		return []Finding{{Rule: r.ID(), Message: "manifest has more than one pkg.fmri attribute"}}
	}
	if _, err := fmri.Parse(found[0]); err != nil {
		return []Finding{{Rule: r.ID(), Message: "pkg.fmri value \"" + found[0] + "\" does not parse: " + err.Error()}}
	}
	return nil
}

// manifestSummaryRule flags a missing or blank pkg.summary attribute
// (original_source/libips/src/api.rs RuleManifestSummary).
type manifestSummaryRule struct{}

func (manifestSummaryRule) ID() string               { return "manifest.summary" }
func (manifestSummaryRule) Description() string      { return "manifest should carry a non-empty pkg.summary attribute" }
func (manifestSummaryRule) DefaultSeverity() Severity { return SeverityWarning }

func (r manifestSummaryRule) Check(m *manifest.Manifest, _ *Config) []Finding {
	for _, a := range m.Attributes {
		if a.Key != "pkg.summary" {
			continue
		}
		for _, v := range a.Values {
			if strings.TrimSpace(v) != "" {
				return nil
			}
		}
	}
	return []Finding{{Rule: r.ID(), Message: "manifest has no non-empty pkg.summary attribute"}}
}

// dependencyFieldsRule flags dependency actions missing an fmri or a
// dependency type (original_source/libips/src/api.rs RuleDependencyFields).
type dependencyFieldsRule struct{}

func (dependencyFieldsRule) ID() string               { return "depend.fields" }
func (dependencyFieldsRule) Description() string      { return "every depend action must carry an fmri and a type" }
func (dependencyFieldsRule) DefaultSeverity() Severity { return SeverityError }

func (r dependencyFieldsRule) Check(m *manifest.Manifest, _ *Config) []Finding {
	var findings []Finding
	for i, d := range m.Dependencies {
		if strings.TrimSpace(d.Fmri) == "" {
			findings = append(findings, Finding{Rule: r.ID(), Message: "dependency has no fmri"})
		}
		if strings.TrimSpace(d.Type) == "" {
			findings = append(findings, Finding{Rule: r.ID(), Message: "dependency at index " + strconv.Itoa(i) + " has no type"})
		}
	}
	return findings
}
