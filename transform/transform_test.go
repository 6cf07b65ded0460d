package transform

import (
	"testing"

	"github.com/OpenFlowLabs/ipstoolkit/manifest"
)

func TestEditBackrefs(t *testing.T) {
	r := &Rule{Target: TargetAttr, MatchType: MatchValue, Pattern: `([a-z]+)-(\d+)`, Op: OpEdit, Value: `\1_\2`}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	m := manifest.New()
	m.SetAttr("x", "abc-123")
	if err := Apply(m, []*Rule{r}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := m.AttrValue("x"); got != "abc_123" {
		t.Errorf("AttrValue(x) = %q, want abc_123", got)
	}
}

func TestParsePlainLine(t *testing.T) {
	rules, err := ParseRules(`transform target=attr match_type=key pattern=pkg\.summary op=set value="hello"`)
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	if len(rules) != 1 || rules[0].Op != OpSet || rules[0].Value != "hello" {
		t.Fatalf("rules = %+v", rules)
	}
}

func TestParseLegacyEmit(t *testing.T) {
	line := `<transform file match_type=path pattern=.* operation=emit -> set name=pkg.summary value="Added via rules">`
	rules, err := ParseRules(line)
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	if len(rules) != 1 || rules[0].Op != OpEmit {
		t.Fatalf("rules = %+v", rules)
	}
	if rules[0].EmitAction != `set name=pkg.summary value="Added via rules"` {
		t.Errorf("EmitAction = %q", rules[0].EmitAction)
	}
}

func TestApplyEmitAddsAttribute(t *testing.T) {
	rules, err := ParseRules(`<transform file match_type=path pattern=.* operation=emit -> set name=pkg.summary value="Added via rules">`)
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	m := manifest.New()
	if err := Apply(m, rules); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := m.AttrValue("pkg.summary"); got != "Added via rules" {
		t.Errorf("pkg.summary = %q", got)
	}
}

func TestDropRemovesAction(t *testing.T) {
	m := manifest.New()
	m.Directories = append(m.Directories, manifest.Dir{Path: "etc/secret"})
	m.Directories = append(m.Directories, manifest.Dir{Path: "etc/keep"})
	r := &Rule{Target: TargetDir, MatchType: MatchPath, Pattern: "secret", Op: OpDrop}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := Apply(m, []*Rule{r}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(m.Directories) != 1 || m.Directories[0].Path != "etc/keep" {
		t.Fatalf("Directories = %+v", m.Directories)
	}
}

func TestValidateRejectsUnknownOp(t *testing.T) {
	r := &Rule{Target: TargetAttr, MatchType: MatchKey, Pattern: "x", Op: "bogus"}
	if err := r.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}
