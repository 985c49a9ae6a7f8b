package rules

import (
	"strings"

	"github.com/John-Robertt/submerge/internal/model"
)

// RuleSetNames returns every rule-provider r refers to, in order. RULE-SET
// conditions nested inside AND / OR / NOT are included.
func RuleSetNames(r model.Rule) []string {
	if name, ok := r.RuleSetName(); ok {
		return []string{name}
	}
	var names []string
	if isLogical(r.Type) && len(r.Payload) == 1 {
		walkConditions(r.Payload[0], func(name string) string {
			names = append(names, name)
			return name
		})
	}
	return names
}

// MapRuleSets returns a copy of r with every rule-provider reference replaced
// by fn(name). Each reference is visited exactly once, so fn's results are
// never mapped again.
func MapRuleSets(r model.Rule, fn func(string) string) model.Rule {
	out := r.Clone()
	switch {
	case out.Type == "RULE-SET" && len(out.Payload) > 0:
		out.Payload[0] = fn(out.Payload[0])
	case isLogical(out.Type) && len(out.Payload) == 1:
		out.Payload[0] = walkConditions(out.Payload[0], fn)
	}
	return out
}

func isLogical(typ string) bool {
	switch typ {
	case "AND", "OR", "NOT":
		return true
	}
	return false
}

// walkConditions rewrites the RULE-SET names of a logical payload such as
// ((RULE-SET,x),(NETWORK,UDP)). A payload without RULE-SET comes back as is.
func walkConditions(payload string, fn func(string) string) string {
	inner, ok := unwrap(payload)
	if !ok {
		return payload
	}
	conds := SplitTopLevel(inner)
	changed := false
	for i, c := range conds {
		body, ok := unwrap(c)
		if !ok {
			continue
		}
		parts := SplitTopLevel(body)
		if len(parts) < 2 {
			continue
		}
		typ := strings.ToUpper(parts[0])
		switch {
		case typ == "RULE-SET":
			parts[1] = fn(parts[1])
		case isLogical(typ):
			parts[1] = walkConditions(parts[1], fn)
		default:
			continue
		}
		conds[i] = "(" + strings.Join(parts, ",") + ")"
		changed = true
	}
	if !changed {
		return payload
	}
	return "(" + strings.Join(conds, ",") + ")"
}

func unwrap(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return "", false
	}
	return s[1 : len(s)-1], true
}
