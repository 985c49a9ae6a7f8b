package profile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/submerge/internal/compiler"
	"github.com/John-Robertt/submerge/internal/graph"
	"github.com/John-Robertt/submerge/internal/model"
	"github.com/John-Robertt/submerge/internal/namespace"
)

const (
	// LocalURL marks a source whose nodes are written out as proxies.
	LocalURL = "local"

	// BuiltinTemplate selects the embedded template.
	BuiltinTemplate = "builtin"

	// NoAggregate disables the aggregate namespace.
	NoAggregate = "none"

	EnvListen = "SUBMERGE_LISTEN"
)

// Manifest lists the sources of one merge and how they are combined.
type Manifest struct {
	Version       int      `yaml:"version"`
	Mode          string   `yaml:"mode"`
	Listen        string   `yaml:"listen"`
	Aggregate     string   `yaml:"aggregate"`
	DefaultSuffix string   `yaml:"default_suffix"`
	MixedGroups   string   `yaml:"mixed_groups"`
	Template      string   `yaml:"template"`
	Base          string   `yaml:"base"`
	Sources       []Source `yaml:"sources"`
}

type Source struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`

	// URL is the remote subscription, or "local".
	URL string `yaml:"url"`

	Fragment       string `yaml:"fragment"`
	FragmentInline string `yaml:"fragment_inline"`

	// Nodes holds ss:// links (plain or base64) for local sources.
	Nodes       string `yaml:"nodes"`
	NodesInline string `yaml:"nodes_inline"`

	Rules    string       `yaml:"rules"`
	Provider ProviderSpec `yaml:"provider"`
}

func (s Source) IsRemote() bool { return s.URL != LocalURL }

func (s Source) Namespace() model.Namespace {
	kind := model.SourceLocal
	if s.IsRemote() {
		kind = model.SourceRemote
	}
	return model.Namespace{Name: s.Name, Kind: kind, Port: s.Port}
}

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

// ParseManifestYAML decodes, defaults and validates a manifest. Unknown keys
// and multi-document input are rejected.
func ParseManifestYAML(sourceURL string, content []byte) (*Manifest, error) {
	var m Manifest
	if err := yamlDecodeStrict(content, &m); err != nil {
		return nil, &ParseError{
			AppError: model.AppError{
				Code:    "MANIFEST_PARSE_ERROR",
				Message: "manifest YAML 解析失败",
				Stage:   "parse_manifest",
				URL:     sourceURL,
				Snippet: truncateSnippet(string(content), 200),
			},
			Cause: err,
		}
	}
	m.applyDefaults()
	if err := m.validate(); err != nil {
		err.AppError.URL = sourceURL
		return nil, err
	}
	return &m, nil
}

// ApplyEnvOverrides lets the environment replace deployment-specific fields.
func ApplyEnvOverrides(m *Manifest, getenv func(string) string) error {
	if v := strings.TrimSpace(getenv(EnvListen)); v != "" {
		if _, err := netip.ParseAddr(v); err != nil {
			return &ParseError{
				AppError: model.AppError{Code: "MANIFEST_VALIDATE_ERROR", Message: fmt.Sprintf("%s 不是合法 IP：%q", EnvListen, v), Stage: "parse_manifest"},
				Cause:    err,
			}
		}
		m.Listen = v
	}
	return nil
}

func (m *Manifest) applyDefaults() {
	if m.Mode == "" {
		m.Mode = string(compiler.ModePreserve)
	}
	if m.Listen == "" {
		m.Listen = "127.0.0.1"
	}
	if m.Aggregate == "" {
		m.Aggregate = compiler.DefaultAggregate
	}
	if m.MixedGroups == "" {
		m.MixedGroups = string(graph.MixedLeaf)
	}
	if m.Template == "" {
		m.Template = BuiltinTemplate
	}
	for i := range m.Sources {
		s := &m.Sources[i]
		s.Name = strings.TrimSpace(s.Name)
		s.URL = strings.TrimSpace(s.URL)
		if s.Rules == "" {
			s.Rules = string(compiler.BindOwn)
		}
	}
}

// AggregateName is the aggregate namespace, or "" when disabled.
func (m *Manifest) AggregateName() string {
	if m.Aggregate == NoAggregate {
		return ""
	}
	return m.Aggregate
}

func (m *Manifest) validate() *ParseError {
	if m.Version != 1 {
		return invalid("", "manifest version 必须为 1", "")
	}
	switch compiler.Mode(m.Mode) {
	case compiler.ModePreserve, compiler.ModeTemplate:
	default:
		return invalid("", fmt.Sprintf("mode 不支持：%s", m.Mode), "expected: preserve | template")
	}
	if !graph.MixedPolicy(m.MixedGroups).Valid() {
		return invalid("", fmt.Sprintf("mixed_groups 不支持：%s", m.MixedGroups), "expected: leaf | non-leaf")
	}
	if _, err := netip.ParseAddr(m.Listen); err != nil {
		return invalid(m.Listen, "listen 必须是 IP 地址", "e.g. 127.0.0.1 or 0.0.0.0")
	}
	if agg := m.AggregateName(); agg != "" {
		if clean, err := namespace.Sanitize(agg); err != nil || clean != agg {
			return invalid(agg, "aggregate 名称不合法", "")
		}
	}
	if m.DefaultSuffix != "" && strings.ContainsAny(m.DefaultSuffix, "/,\r\n") {
		return invalid(m.DefaultSuffix, "default_suffix 不能包含 / , 或换行", "")
	}
	if len(m.Sources) == 0 {
		return invalid("", "sources 不能为空", "")
	}
	for i, s := range m.Sources {
		if err := m.validateSource(s); err != nil {
			err.AppError.Message = fmt.Sprintf("sources[%d]: %s", i, err.AppError.Message)
			return err
		}
	}
	return nil
}

func (m *Manifest) validateSource(s Source) *ParseError {
	if clean, err := namespace.Sanitize(s.Name); err != nil || clean != s.Name {
		return invalid(s.Name, "name 不合法", "must not contain / , or control characters")
	}
	if s.Port < 1 || s.Port > 65535 {
		return invalid(s.Name, fmt.Sprintf("port 超出范围：%d", s.Port), "1..65535")
	}
	if s.URL == "" {
		return invalid(s.Name, "url 不能为空", `expected: an http(s) URL or "local"`)
	}
	if s.IsRemote() {
		if err := validateHTTPURL(s.URL); err != nil {
			return &ParseError{
				AppError: model.AppError{Code: "MANIFEST_VALIDATE_ERROR", Message: "url 不合法", Stage: "parse_manifest", Snippet: s.URL},
				Cause:    err,
			}
		}
		if s.Nodes != "" || s.NodesInline != "" {
			return invalid(s.Name, "远程订阅不能配置 nodes", "nodes are delivered by the provider")
		}
	}
	if s.Fragment != "" && s.FragmentInline != "" {
		return invalid(s.Name, "fragment 与 fragment_inline 只能二选一", "")
	}
	if s.Nodes != "" && s.NodesInline != "" {
		return invalid(s.Name, "nodes 与 nodes_inline 只能二选一", "")
	}
	if compiler.Mode(m.Mode) == compiler.ModePreserve && s.Fragment == "" && s.FragmentInline == "" {
		return invalid(s.Name, "preserve 模式下需要 fragment", "")
	}
	switch compiler.Bind(s.Rules) {
	case compiler.BindOwn, compiler.BindDefault:
	default:
		return invalid(s.Name, fmt.Sprintf("rules 不支持：%s", s.Rules), "expected: own | default")
	}
	if s.Rules == string(compiler.BindDefault) && m.AggregateName() == "" {
		return invalid(s.Name, "rules: default 需要 aggregate", "")
	}
	return s.Provider.validate(s.Name)
}

func invalid(snippet, msg, hint string) *ParseError {
	return &ParseError{AppError: model.AppError{
		Code:    "MANIFEST_VALIDATE_ERROR",
		Message: msg,
		Stage:   "parse_manifest",
		Snippet: snippet,
		Hint:    hint,
	}}
}

func yamlDecodeStrict(content []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return err
	}

	// Reject multi-document YAML to keep behavior deterministic.
	var extra any
	if err := dec.Decode(&extra); err == nil {
		return errors.New("multiple YAML documents are not allowed")
	} else if !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func validateHTTPURL(s string) error {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	if u == nil || !u.IsAbs() {
		return errors.New("url must be absolute")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("scheme must be http/https")
	}
	if u.Host == "" {
		return errors.New("url must have a host")
	}
	return nil
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
