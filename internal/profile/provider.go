package profile

import (
	"fmt"

	"dario.cat/mergo"

	"github.com/John-Robertt/submerge/internal/model"
	"github.com/John-Robertt/submerge/internal/namespace"
)

// ProviderSpec overrides the proxy-provider written for a remote source.
// Zero fields take the defaults below; bools are pointers so an explicit
// false survives.
type ProviderSpec struct {
	Type        string          `yaml:"type"`
	Path        string          `yaml:"path"`
	Interval    int             `yaml:"interval"`
	HealthCheck HealthCheckSpec `yaml:"health_check"`
}

type HealthCheckSpec struct {
	Enable         *bool  `yaml:"enable"`
	URL            string `yaml:"url"`
	Interval       int    `yaml:"interval"`
	Lazy           *bool  `yaml:"lazy"`
	ExpectedStatus int    `yaml:"expected_status"`
}

func defaultProvider(ns string) ProviderSpec {
	enable, lazy := true, true
	return ProviderSpec{
		Type:     "http",
		Path:     "./proxy_providers/" + ns + ".yaml",
		Interval: 3600,
		HealthCheck: HealthCheckSpec{
			Enable:         &enable,
			URL:            "https://www.gstatic.com/generate_204",
			Interval:       300,
			Lazy:           &lazy,
			ExpectedStatus: 204,
		},
	}
}

func (p ProviderSpec) validate(ns string) *ParseError {
	if p.Type != "" && p.Type != "http" {
		return invalid(ns, fmt.Sprintf("provider.type 不支持：%s", p.Type), "only http providers carry a url")
	}
	if p.Interval < 0 || p.HealthCheck.Interval < 0 {
		return invalid(ns, "provider interval 不能为负数", "")
	}
	if p.HealthCheck.URL != "" {
		if err := validateHTTPURL(p.HealthCheck.URL); err != nil {
			return invalid(p.HealthCheck.URL, "provider.health_check.url 不合法", "")
		}
	}
	return nil
}

// Resolved fills every unset field from the defaults for ns. Pointer fields
// are only filled when nil, so an explicit false is kept.
func (p ProviderSpec) Resolved(ns string) (ProviderSpec, error) {
	out := p
	if err := mergo.Merge(&out, defaultProvider(ns), mergo.WithoutDereference); err != nil {
		return ProviderSpec{}, fmt.Errorf("provider defaults for %s: %w", ns, err)
	}
	return out, nil
}

// Attrs renders the provider body for ns, url excluded. Node names are
// prefixed with "ns/" so they match the merged identifiers.
func (p ProviderSpec) Attrs(ns string) (model.Attrs, error) {
	r, err := p.Resolved(ns)
	if err != nil {
		return nil, err
	}
	hc := model.Attrs{
		{Key: "enable", Value: model.BoolNode(*r.HealthCheck.Enable)},
		{Key: "url", Value: model.StringNode(r.HealthCheck.URL)},
		{Key: "interval", Value: model.IntNode(r.HealthCheck.Interval)},
		{Key: "lazy", Value: model.BoolNode(*r.HealthCheck.Lazy)},
		{Key: "expected-status", Value: model.IntNode(r.HealthCheck.ExpectedStatus)},
	}
	override := model.Attrs{
		{Key: "additional-prefix", Value: model.StringNode(namespace.ID(ns, ""))},
	}
	return model.Attrs{
		{Key: "type", Value: model.StringNode(r.Type)},
		{Key: "path", Value: model.StringNode(r.Path)},
		{Key: "interval", Value: model.IntNode(r.Interval)},
		{Key: "health-check", Value: hc.MappingNode()},
		{Key: "override", Value: override.MappingNode()},
	}, nil
}
