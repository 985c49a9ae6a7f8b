package model

import "strings"

// Rule is one ordered matcher → target pair.
//
// Payload holds the matcher fields between the type and the target, Options
// the trailing flags after the target (no-resolve, src).
type Rule struct {
	Type    string
	Payload []string
	Target  string
	Options []string
}

// RuleSetName returns the rule-provider a RULE-SET rule refers to.
func (r Rule) RuleSetName() (string, bool) {
	if r.Type != "RULE-SET" || len(r.Payload) == 0 {
		return "", false
	}
	return r.Payload[0], true
}

func (r Rule) Clone() Rule {
	out := r
	out.Payload = append([]string(nil), r.Payload...)
	out.Options = append([]string(nil), r.Options...)
	return out
}

func (r Rule) String() string {
	parts := make([]string, 0, 2+len(r.Payload)+len(r.Options))
	parts = append(parts, r.Type)
	parts = append(parts, r.Payload...)
	parts = append(parts, r.Target)
	parts = append(parts, r.Options...)
	return strings.Join(parts, ",")
}
