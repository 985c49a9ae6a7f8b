package rules

import "testing"

func FuzzParseRule(f *testing.F) {
	seed := []string{
		"",
		"  \n",
		"# comment",
		"MATCH,DIRECT",
		"DOMAIN,example.com,DIRECT",
		"DOMAIN-SUFFIX,example.com,PROXY",
		"DOMAIN-KEYWORD,google,REJECT",
		"GEOIP,CN,DIRECT",
		"PROCESS-NAME,WeChat,PROXY",
		"RULE-SET,BanAD,REJECT",
		"AND,((DOMAIN,a.com),(NETWORK,UDP)),PROXY",
		"IP-CIDR,1.2.3.0/24,DIRECT",
		"IP-CIDR,1.2.3.0/24,DIRECT,no-resolve",
		"IP-CIDR6,2001:db8::/32,REJECT",
		"IP-CIDR6,2001:db8::/32,REJECT,no-resolve",
	}
	for _, s := range seed {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, line string) {
		r, err := ParseRule(line)
		if err != nil {
			return
		}

		if r.Type == "" {
			t.Fatalf("empty rule type")
		}
		if r.Target == "" {
			t.Fatalf("empty rule target")
		}
		if r.Type != "MATCH" && len(r.Payload) == 0 {
			t.Fatalf("empty rule payload for type=%q", r.Type)
		}
		if isOption(r.Target) {
			t.Fatalf("option parsed as target: %q", r.Target)
		}
	})
}
