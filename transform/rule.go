// Package transform implements IPS manifest transform rules: regex-driven
// rewrites applied to a manifest after it is built or received (spec.md
// §4.4), ported from the original Rust transformer.rs into Go idiom, using
// stdlib regexp (RE2) in place of the original's regex crate.
package transform

import (
	"fmt"
	"regexp"

	"github.com/OpenFlowLabs/ipstoolkit/ipserr"
)

// Target names the action kind a rule matches against.
type Target string

const (
	TargetAttr       Target = "attr"
	TargetFile       Target = "file"
	TargetDir        Target = "dir"
	TargetLink       Target = "link"
	TargetLicense    Target = "license"
	TargetDependency Target = "dependency"
	TargetUser       Target = "user"
	TargetGroup      Target = "group"
	TargetDriver     Target = "driver"
)

// MatchType names which part of a matched action the pattern is tested
// against.
type MatchType string

const (
	MatchKey   MatchType = "key"
	MatchValue MatchType = "value"
	MatchPath  MatchType = "path"
	MatchFacet MatchType = "facet"
	MatchAny   MatchType = "any"
)

// Operation names the rewrite applied to a matched action.
type Operation string

const (
	OpAdd     Operation = "add"
	OpDefault Operation = "default"
	OpDelete  Operation = "delete"
	OpDrop    Operation = "drop"
	OpEdit    Operation = "edit"
	OpSet     Operation = "set"
	OpEmit    Operation = "emit"
)

// Rule is a single transform rule (spec.md §4.4).
type Rule struct {
	Target    Target
	MatchType MatchType
	Pattern   string
	Op        Operation
	Value     string
	Attribute string // facet/attribute name, when relevant
	EmitAction string // raw IPS text line, for Op == OpEmit

	compiled *regexp.Regexp
}

// Compile validates and compiles the rule's pattern, caching the compiled
// regexp for repeated Apply calls.
func (r *Rule) Compile() error {
	if r.Pattern == "" {
		r.compiled = nil
		return nil
	}
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return ipserr.New(ipserr.ErrRegexCompile, fmt.Sprintf("pattern %q", r.Pattern), err)
	}
	r.compiled = re
	return nil
}

func (r *Rule) regexp() *regexp.Regexp {
	if r.compiled == nil && r.Pattern != "" {
		_ = r.Compile()
	}
	return r.compiled
}

// Validate checks required fields, per spec.md §4.4 "Errors: invalid
// regex (pattern), missing required field, unknown op/target."
func (r *Rule) Validate() error {
	switch r.Target {
	case TargetAttr, TargetFile, TargetDir, TargetLink, TargetLicense, TargetDependency, TargetUser, TargetGroup, TargetDriver:
	default:
		return ipserr.New(ipserr.ErrTransformParse, fmt.Sprintf("unknown target %q", r.Target), nil)
	}
	switch r.MatchType {
	case MatchKey, MatchValue, MatchPath, MatchFacet, MatchAny:
	default:
		return ipserr.New(ipserr.ErrTransformParse, fmt.Sprintf("unknown match_type %q", r.MatchType), nil)
	}
	switch r.Op {
	case OpAdd, OpDefault, OpDelete, OpDrop, OpEdit, OpSet, OpEmit:
	default:
		return ipserr.New(ipserr.ErrTransformParse, fmt.Sprintf("unknown op %q", r.Op), nil)
	}
	if r.Op == OpEmit && r.EmitAction == "" {
		return ipserr.New(ipserr.ErrTransformParse, "emit op requires emit_action", nil)
	}
	if r.Op != OpEmit && r.Pattern == "" {
		return ipserr.New(ipserr.ErrTransformParse, "pattern is required for this op", nil)
	}
	if _, err := func() (*regexp.Regexp, error) {
		if r.Pattern == "" {
			return nil, nil
		}
		return regexp.Compile(r.Pattern)
	}(); err != nil {
		return ipserr.New(ipserr.ErrRegexCompile, fmt.Sprintf("pattern %q", r.Pattern), err)
	}
	return nil
}
