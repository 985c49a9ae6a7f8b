package render

import (
	_ "embed"
	"net"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/submerge/internal/model"
)

//go:embed default_base.yaml
var defaultBaseYAML []byte

// Base is the general part of a mihomo config (dns, tun, ports, ...) the
// merged sections are written onto.
type Base struct {
	root *yaml.Node
}

// DefaultBase returns the built-in base config.
func DefaultBase() *Base {
	b, err := ParseBase("builtin", defaultBaseYAML)
	if err != nil {
		panic("render: builtin base config is invalid: " + err.Error())
	}
	return b
}

func ParseBase(source string, content []byte) (*Base, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, &RenderError{
			AppError: model.AppError{Code: "BASE_PARSE_ERROR", Message: "base 配置解析失败", Stage: "parse_base", URL: source},
			Cause:    err,
		}
	}
	if len(doc.Content) == 0 {
		return &Base{root: &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}}, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &RenderError{
			AppError: model.AppError{Code: "BASE_PARSE_ERROR", Message: "base 配置顶层必须是 mapping", Stage: "parse_base", URL: source, Line: root.Line},
		}
	}
	return &Base{root: root}, nil
}

// ReservedPorts lists every port the base config already binds, so listener
// ports can be checked against them.
func (b *Base) ReservedPorts() []int {
	var out []int
	add := func(p int) {
		if p > 0 && p <= 65535 {
			out = append(out, p)
		}
	}
	attrs := model.AttrsFromMapping(b.root)
	for _, key := range []string{"port", "socks-port", "mixed-port", "redir-port", "tproxy-port"} {
		if p, err := strconv.Atoi(attrs.String(key)); err == nil {
			add(p)
		}
	}
	add(hostPort(attrs.String("external-controller")))
	if dns, ok := attrs.Get("dns"); ok {
		add(hostPort(model.AttrsFromMapping(dns).String("listen")))
	}
	if ls, ok := attrs.Get("listeners"); ok && ls.Kind == yaml.SequenceNode {
		for _, l := range ls.Content {
			if p, err := strconv.Atoi(model.AttrsFromMapping(l).String("port")); err == nil {
				add(p)
			}
		}
	}
	return out
}

// ReservedListeners lists the names of the base config's own listeners,
// which are kept in the output alongside the generated ones.
func (b *Base) ReservedListeners() []string {
	ls, ok := model.AttrsFromMapping(b.root).Get("listeners")
	if !ok || ls.Kind != yaml.SequenceNode {
		return nil
	}
	var out []string
	for _, l := range ls.Content {
		if name := model.AttrsFromMapping(l).String("name"); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func hostPort(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	_, port, err := net.SplitHostPort(s)
	if err != nil {
		return 0
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return 0
	}
	return p
}
