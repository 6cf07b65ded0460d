package transform

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/OpenFlowLabs/ipstoolkit/ipserr"
)

// ParseRules accepts a text file containing one rule per non-blank,
// non-comment line, in either syntax spec.md §4.4 names: the plain
// "transform key=value ..." form, or the legacy
// "<transform ACTION key=value ... -> ACTION_TEXT>" form. Both parse into
// the same Rule AST.
func ParseRules(text string) ([]*Rule, error) {
	var rules []*Rule
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var (
			r   *Rule
			err error
		)
		if strings.HasPrefix(line, "<transform") {
			r, err = parseLegacyLine(line)
		} else {
			r, err = parsePlainLine(line)
		}
		if err != nil {
			return nil, fmt.Errorf("transform rule line %d: %w", i+1, err)
		}
		if r == nil {
			continue
		}
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("transform rule line %d: %w", i+1, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// parsePlainLine parses "transform key=value key=value ...".
func parsePlainLine(line string) (*Rule, error) {
	fields := tokenizeKV(line)
	if len(fields) == 0 || fields[0] != "transform" {
		return nil, ipserr.New(ipserr.ErrTransformParse, "expected line to start with \"transform\"", nil)
	}
	r := &Rule{}
	for _, f := range fields[1:] {
		k, v, ok := splitKV(f)
		if !ok {
			continue
		}
		applyField(r, k, v)
	}
	return r, nil
}

// parseLegacyLine parses "<transform ACTION key=value ... -> ACTION_TEXT>".
func parseLegacyLine(line string) (*Rule, error) {
	inner := strings.TrimPrefix(line, "<transform")
	inner = strings.TrimSuffix(strings.TrimSpace(inner), ">")

	var body, emit string
	if idx := strings.Index(inner, "->"); idx >= 0 {
		body = strings.TrimSpace(inner[:idx])
		emit = strings.TrimSpace(inner[idx+2:])
	} else {
		body = strings.TrimSpace(inner)
	}

	fields := tokenizeKV(body)
	if len(fields) == 0 {
		return nil, ipserr.New(ipserr.ErrTransformParse, "empty legacy transform body", nil)
	}
	r := &Rule{Target: Target(fields[0])}
	for _, f := range fields[1:] {
		k, v, ok := splitKV(f)
		if !ok {
			continue
		}
		applyField(r, k, v)
	}
	if emit != "" {
		r.Op = OpEmit
		r.EmitAction = emit
	}
	return r, nil
}

func applyField(r *Rule, k, v string) {
	switch k {
	case "target":
		r.Target = Target(v)
	case "match_type":
		r.MatchType = MatchType(v)
	case "pattern":
		r.Pattern = v
	case "op", "operation":
		r.Op = Operation(v)
	case "value":
		r.Value = v
	case "attribute":
		r.Attribute = v
	case "emit_action":
		r.EmitAction = v
	}
}

// tokenizeKV splits a line into whitespace-separated fields, treating a
// matching pair of double quotes as part of a single field so patterns or
// values containing spaces survive intact.
func tokenizeKV(s string) []string {
	var fields []string
	i, n := 0, len(s)
	for i < n {
		for i < n && (s[i] == ' ' || s[i] == '\t') {
			i++
		}
		if i >= n {
			break
		}
		start := i
		for i < n && s[i] != ' ' && s[i] != '\t' {
			if s[i] == '"' {
				i++
				for i < n && s[i] != '"' {
					i++
				}
				if i < n {
					i++
				}
			} else {
				i++
			}
		}
		fields = append(fields, s[start:i])
	}
	return fields
}

func splitKV(field string) (key, value string, ok bool) {
	idx := strings.Index(field, "=")
	if idx < 0 {
		return "", field, false
	}
	key = field[:idx]
	value = field[idx+1:]
	if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
		value = value[1 : len(value)-1]
	}
	return key, value, true
}

// mapBackrefs rewrites Perl/Rust-style "\N" backreferences to Go regexp's
// "${N}" form, so "\1-\2" becomes "${1}-${2}" before ReplaceAllString
// (spec.md §4.4 op edit, tested by property #10 in §8).
func mapBackrefs(value string) string {
	re := regexp.MustCompile(`\\(\d+)`)
	return re.ReplaceAllString(value, "${$1}")
}
