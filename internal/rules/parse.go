package rules

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/John-Robertt/submerge/internal/model"
)

type RuleError struct {
	Code    string
	Message string
	Hint    string
	Cause   error
}

func (e *RuleError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *RuleError) Unwrap() error { return e.Cause }

type ParseError struct {
	AppError model.AppError
	Cause    error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }
func (e *ParseError) App() model.AppError { return e.AppError }

// supportedTypes lists the mihomo rule types whose last field is a policy.
// SUB-RULE is not listed: its target names a sub-rule set, not a policy.
var supportedTypes = map[string]struct{}{
	"DOMAIN": {}, "DOMAIN-SUFFIX": {}, "DOMAIN-KEYWORD": {}, "DOMAIN-REGEX": {}, "GEOSITE": {},
	"GEOIP": {}, "IP-CIDR": {}, "IP-CIDR6": {}, "IP-SUFFIX": {}, "IP-ASN": {},
	"SRC-GEOIP": {}, "SRC-IP-ASN": {}, "SRC-IP-CIDR": {}, "SRC-IP-SUFFIX": {},
	"DST-PORT": {}, "SRC-PORT": {}, "IN-PORT": {}, "IN-TYPE": {}, "IN-USER": {}, "IN-NAME": {},
	"PROCESS-PATH": {}, "PROCESS-PATH-REGEX": {}, "PROCESS-NAME": {}, "PROCESS-NAME-REGEX": {},
	"UID": {}, "NETWORK": {}, "DSCP": {},
	"RULE-SET": {},
	"AND": {}, "OR": {}, "NOT": {},
	"MATCH": {},
}

// ParseRuleLines parses the rules list of a fragment or template. source is
// only used for error context.
//
// stage is always "parse_rules".
func ParseRuleLines(source string, lines []string) ([]model.Rule, error) {
	out := make([]model.Rule, 0, len(lines))
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r, err := ParseRule(line)
		if err != nil {
			var rerr *RuleError
			if errors.As(err, &rerr) {
				return nil, &ParseError{
					AppError: model.AppError{
						Code:    rerr.Code,
						Message: rerr.Message,
						Stage:   "parse_rules",
						URL:     source,
						Line:    i + 1,
						Snippet: truncateSnippet(raw, 200),
						Hint:    rerr.Hint,
					},
					Cause: rerr.Cause,
				}
			}
			return nil, &ParseError{
				AppError: model.AppError{
					Code:    "RULE_PARSE_ERROR",
					Message: "invalid rule line",
					Stage:   "parse_rules",
					URL:     source,
					Line:    i + 1,
					Snippet: truncateSnippet(raw, 200),
				},
				Cause: err,
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// ParseRule parses a single rule line. The policy is required.
func ParseRule(line string) (model.Rule, error) {
	line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
	if line == "" {
		return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "rule line is empty"}
	}

	parts := SplitTopLevel(line)
	if parts[0] == "" {
		return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "规则类型不能为空"}
	}
	typ := strings.ToUpper(parts[0])
	if _, ok := supportedTypes[typ]; !ok {
		return model.Rule{}, &RuleError{
			Code:    "UNSUPPORTED_RULE_TYPE",
			Message: fmt.Sprintf("不支持的规则类型：%s", typ),
		}
	}

	if typ == "MATCH" {
		if len(parts) != 2 || parts[1] == "" {
			return model.Rule{}, &RuleError{
				Code:    "RULE_PARSE_ERROR",
				Message: "MATCH 规则必须是 MATCH,<POLICY>",
			}
		}
		return model.Rule{Type: typ, Target: parts[1]}, nil
	}

	if len(parts) < 3 {
		return model.Rule{}, &RuleError{
			Code:    "RULE_PARSE_ERROR",
			Message: "规则缺少 POLICY",
			Hint:    "expected: TYPE,PAYLOAD,POLICY[,no-resolve]",
		}
	}

	// Trailing flags sit after the policy; at least TYPE,PAYLOAD,POLICY must remain.
	end := len(parts)
	for end > 3 && isOption(parts[end-1]) {
		end--
	}
	options := append([]string(nil), parts[end:]...)
	target := parts[end-1]
	payload := append([]string(nil), parts[1:end-1]...)

	for _, p := range payload {
		if p == "" {
			return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "规则 PAYLOAD 不能为空"}
		}
	}
	if target == "" {
		return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "规则 POLICY 不能为空"}
	}
	if isOption(target) {
		// Ambiguous: policy missing but a flag is present.
		return model.Rule{}, &RuleError{
			Code:    "RULE_PARSE_ERROR",
			Message: fmt.Sprintf("%s 缺少 POLICY（不允许仅写 %s）", typ, target),
			Hint:    "expected: TYPE,PAYLOAD,POLICY[,no-resolve]",
		}
	}

	switch typ {
	case "IP-CIDR", "IP-CIDR6", "SRC-IP-CIDR":
		if len(payload) != 1 {
			return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: typ + " 规则字段数量不合法"}
		}
		if _, err := netip.ParsePrefix(payload[0]); err != nil {
			return model.Rule{}, &RuleError{
				Code:    "RULE_PARSE_ERROR",
				Message: typ + " 的 CIDR 不合法",
				Hint:    "expected: CIDR, e.g. 1.2.3.4/32",
				Cause:   err,
			}
		}
	case "AND", "OR", "NOT":
		if len(payload) != 1 || !strings.HasPrefix(payload[0], "(") || !strings.HasSuffix(payload[0], ")") {
			return model.Rule{}, &RuleError{
				Code:    "RULE_PARSE_ERROR",
				Message: typ + " 规则的条件必须用括号包裹",
				Hint:    "expected: AND,((DOMAIN,a.com),(NETWORK,UDP)),POLICY",
			}
		}
	case "RULE-SET":
		if len(payload) != 1 {
			return model.Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "RULE-SET 规则必须是 RULE-SET,<NAME>,<POLICY>"}
		}
	}

	return model.Rule{Type: typ, Payload: payload, Target: target, Options: options}, nil
}

func isOption(s string) bool {
	switch strings.ToLower(s) {
	case "no-resolve", "src":
		return true
	}
	return false
}

// SplitTopLevel splits a rule line on commas that are not nested inside
// parentheses or quotes, so logical rules keep their condition list intact:
//
//	AND,((IN-PORT,10001),(DOMAIN,a.com)),PROXY → [AND, ((IN-PORT,10001),(DOMAIN,a.com)), PROXY]
func SplitTopLevel(line string) []string {
	var parts []string
	var buf strings.Builder
	depth := 0
	inSingle, inDouble, escaped := false, false, false

	for _, ch := range line {
		if escaped {
			buf.WriteRune(ch)
			escaped = false
			continue
		}
		switch {
		case ch == '\\':
			escaped = true
		case ch == '\'' && !inDouble:
			inSingle = !inSingle
		case ch == '"' && !inSingle:
			inDouble = !inDouble
		case !inSingle && !inDouble && ch == '(':
			depth++
		case !inSingle && !inDouble && ch == ')':
			if depth > 0 {
				depth--
			}
		case !inSingle && !inDouble && ch == ',' && depth == 0:
			parts = append(parts, strings.TrimSpace(buf.String()))
			buf.Reset()
			continue
		}
		buf.WriteRune(ch)
	}
	return append(parts, strings.TrimSpace(buf.String()))
}

func truncateSnippet(s string, max int) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max]
}
