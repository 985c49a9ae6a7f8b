package rules

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRuleSetNames(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"RULE-SET,ads,REJECT", []string{"ads"}},
		{"DOMAIN,a.com,DIRECT", nil},
		{"AND,((RULE-SET,x),(NETWORK,UDP)),G", []string{"x"}},
		{"OR,((RULE-SET,x),(NOT,((RULE-SET,y)))),G", []string{"x", "y"}},
		{"NOT,((DOMAIN,a.com)),G", nil},
	}
	for _, tt := range tests {
		r, err := ParseRule(tt.line)
		if err != nil {
			t.Fatalf("ParseRule(%q) unexpected err: %v", tt.line, err)
		}
		if diff := cmp.Diff(tt.want, RuleSetNames(r)); diff != "" {
			t.Fatalf("RuleSetNames(%q) mismatch (-want +got):\n%s", tt.line, diff)
		}
	}
}

func TestMapRuleSets(t *testing.T) {
	upper := func(s string) string { return strings.ToUpper(s) }
	tests := []struct {
		line string
		want string
	}{
		{"RULE-SET,ads,REJECT", "RULE-SET,ADS,REJECT"},
		{"AND,((RULE-SET,x),(NETWORK,UDP)),G", "AND,((RULE-SET,X),(NETWORK,UDP)),G"},
		{"OR,((NOT,((RULE-SET,y))),(DOMAIN,a.com)),G", "OR,((NOT,((RULE-SET,Y))),(DOMAIN,a.com)),G"},
		{"AND,((DOMAIN, a.com),(NETWORK,UDP)),G", "AND,((DOMAIN, a.com),(NETWORK,UDP)),G"},
	}
	for _, tt := range tests {
		r, err := ParseRule(tt.line)
		if err != nil {
			t.Fatalf("ParseRule(%q) unexpected err: %v", tt.line, err)
		}
		if got := MapRuleSets(r, upper).String(); got != tt.want {
			t.Fatalf("MapRuleSets(%q)=%q, want=%q", tt.line, got, tt.want)
		}
	}
}
