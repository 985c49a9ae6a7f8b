package ss

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/John-Robertt/submerge/internal/model"
)

const (
	codeParse       = "SUB_PARSE_ERROR"
	codeScheme      = "SUB_UNSUPPORTED_SCHEME"
	codeBase64      = "SUB_BASE64_DECODE_ERROR"
	codePlugin      = "UNSUPPORTED_PLUGIN"
	stageParseSub   = "parse_sub"
	snippetMaxBytes = 200
)

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

// ParseSubscriptionText parses a raw or base64 encoded list of ss:// links
// into nodes with mihomo proxy fields. Node names are the URI fragments; an
// unnamed link gets server:port.
func ParseSubscriptionText(sourceURL string, content string) ([]model.Node, error) {
	text := strings.TrimSpace(strings.TrimPrefix(content, "\uFEFF"))
	if text == "" {
		return nil, listError(sourceURL, codeParse, "订阅内容为空", "", nil)
	}

	// A list mentioning ss:// is plain text; anything else must be base64.
	if !strings.Contains(text, "ss://") {
		b, err := decodeBase64(stripSpace(text))
		if err == nil && !utf8.Valid(b) {
			err = errors.New("decoded subscription is not valid utf-8")
		}
		if err != nil {
			return nil, &ParseError{
				AppError: model.AppError{
					Code:    codeBase64,
					Message: "订阅 base64 解码失败",
					Stage:   stageParseSub,
					URL:     sourceURL,
					Snippet: truncateSnippet(text, snippetMaxBytes),
				},
				Cause: err,
			}
		}
		text = strings.TrimSpace(strings.TrimPrefix(string(b), "\uFEFF"))
		if text == "" {
			return nil, listError(sourceURL, codeParse, "订阅内容为空", "", nil)
		}
	}

	var out []model.Node
	for i, raw := range strings.Split(text, "\n") {
		l := &line{source: sourceURL, no: i + 1, raw: raw, text: strings.TrimSpace(raw)}
		if l.text == "" || strings.HasPrefix(l.text, "#") {
			continue
		}
		if !strings.HasPrefix(l.text, "ss://") {
			return nil, l.fail(codeScheme, "仅支持 ss:// 协议", "expected: ss://...", nil)
		}
		n, err := l.parse()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, listError(sourceURL, codeParse, "订阅中没有任何可用节点", "", nil)
	}
	return out, nil
}

// line is one ss:// entry of a subscription list.
type line struct {
	source string
	no     int
	raw    string
	text   string
}

func (l *line) fail(code, msg, hint string, cause error) error {
	return &ParseError{
		AppError: model.AppError{
			Code:    code,
			Message: msg,
			Stage:   stageParseSub,
			URL:     l.source,
			Line:    l.no,
			Snippet: truncateSnippet(l.raw, snippetMaxBytes),
			Hint:    hint,
		},
		Cause: cause,
	}
}

func (l *line) parse() (model.Node, error) {
	var lk link

	body, frag, hasFrag := strings.Cut(l.text, "#")
	if hasFrag {
		name, err := url.PathUnescape(frag)
		if err != nil {
			return model.Node{}, l.fail(codeParse, "节点名称 URL 解码失败", "", err)
		}
		lk.Name = strings.TrimSpace(name)
		if hasControl(lk.Name) {
			return model.Node{}, l.fail(codeParse, "节点名称包含非法控制字符", `forbidden: \r \n \0`, nil)
		}
	}

	body, query, _ := strings.Cut(body, "?")
	if err := l.parsePlugin(query, &lk); err != nil {
		return model.Node{}, err
	}

	rest := strings.TrimPrefix(body, "ss://")
	if rest == "" {
		return model.Node{}, l.fail(codeParse, "ss:// 后缺少内容", "", nil)
	}

	var hostPort string
	if userinfo, host, ok := strings.Cut(rest, "@"); ok {
		// SIP002: base64(cipher:password)@host:port[/]
		if userinfo == "" || host == "" {
			return model.Node{}, l.fail(codeParse, "ss uri 格式不合法", "", nil)
		}
		if i := strings.IndexByte(host, '/'); i >= 0 {
			if host[i:] != "/" {
				return model.Node{}, l.fail(codeParse, "ss uri path 不支持（仅允许空或 /）", "", nil)
			}
			host = host[:i]
		}
		b, err := decodeBase64(userinfo)
		if err != nil {
			return model.Node{}, l.fail(codeParse, "ss userinfo base64 解码失败", "", err)
		}
		if lk.Cipher, lk.Password, err = splitCredentials(string(b)); err != nil {
			return model.Node{}, l.fail(codeParse, "ss userinfo base64 解码失败", "", err)
		}
		hostPort = host
	} else {
		// Legacy: base64(cipher:password@host:port)
		b, err := decodeBase64(rest)
		if err != nil {
			return model.Node{}, l.fail(codeParse, "ss base64 解码失败", "", err)
		}
		decoded := string(b)
		if !utf8.ValidString(decoded) {
			return model.Node{}, l.fail(codeParse, "ss base64 解码结果不是合法 UTF-8", "", nil)
		}
		at := strings.LastIndex(decoded, "@")
		if at < 0 {
			return model.Node{}, l.fail(codeParse, "ss base64 解码结果缺少 @ 分隔符", "", nil)
		}
		cred := decoded[:at]
		if strings.IndexByte(cred, ':') <= 0 {
			return model.Node{}, l.fail(codeParse, "ss base64 解码结果缺少 cipher:password", "", nil)
		}
		if lk.Cipher, lk.Password, err = splitCredentials(cred); err != nil {
			return model.Node{}, l.fail(codeParse, "cipher 或 password 不合法", "", err)
		}
		hostPort = decoded[at+1:]
	}

	var err error
	if lk.Server, lk.Port, err = parseHostPort(hostPort); err != nil {
		return model.Node{}, l.fail(codeParse, "服务器地址或端口不合法", "", err)
	}
	return lk.node(l)
}

// parsePlugin reads the SIP002 query. Only plugin=<name>;k=v;... is accepted
// and pairs are split on '&' by hand because net/url rejects bare ';'.
func (l *line) parsePlugin(query string, lk *link) error {
	if query == "" {
		return nil
	}
	var value *string
	for _, part := range strings.Split(query, "&") {
		if part == "" {
			continue
		}
		kRaw, vRaw, ok := strings.Cut(part, "=")
		if !ok {
			return l.fail(codeParse, "query 参数必须是 key=value 形式", "", nil)
		}
		k, err := url.PathUnescape(kRaw)
		if err != nil {
			return l.fail(codeParse, "query 参数解码失败", "", err)
		}
		v, err := url.PathUnescape(vRaw)
		if err != nil {
			return l.fail(codeParse, "query 参数解码失败", "", err)
		}
		if k != "plugin" {
			return l.fail(codeParse, "出现未知 query 参数（仅支持 plugin）", "only allow: plugin", nil)
		}
		if value != nil {
			return l.fail(codeParse, "重复的 plugin 参数", "", nil)
		}
		value = &v
	}
	if value == nil {
		return nil
	}

	segs := strings.Split(*value, ";")
	lk.PluginName = strings.TrimSpace(segs[0])
	if lk.PluginName == "" {
		return l.fail(codeParse, "plugin 名称不能为空", "", nil)
	}
	for _, seg := range segs[1:] {
		if seg == "" {
			continue
		}
		k, v, ok := strings.Cut(seg, "=")
		if !ok {
			return l.fail(codeParse, "plugin 选项必须是 k=v 形式", "", nil)
		}
		if k = strings.TrimSpace(k); k == "" {
			return l.fail(codeParse, "plugin 选项 key 不能为空", "", nil)
		}
		lk.PluginOpts = append(lk.PluginOpts, kv{Key: k, Value: v})
	}
	return nil
}

func splitCredentials(s string) (cipher, password string, err error) {
	if !utf8.ValidString(s) {
		return "", "", errors.New("cipher:password is not valid utf-8")
	}
	c, p, ok := strings.Cut(s, ":")
	if !ok {
		return "", "", errors.New("missing ':'")
	}
	cipher, password = strings.TrimSpace(c), strings.TrimSpace(p)
	if cipher == "" || password == "" {
		return "", "", errors.New("empty cipher or password")
	}
	if hasControl(cipher) || hasControl(password) {
		return "", "", errors.New("control chars in cipher/password")
	}
	return cipher, password, nil
}

func parseHostPort(s string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, err
	}
	if host = strings.TrimSpace(host); host == "" {
		return "", 0, errors.New("empty host")
	}
	port, err := strconv.Atoi(strings.TrimSpace(portStr))
	if err != nil {
		return "", 0, err
	}
	if port < 1 || port > 65535 {
		return "", 0, errors.New("port out of range")
	}
	return host, port, nil
}

var base64Encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.URLEncoding,
	base64.RawStdEncoding,
	base64.RawURLEncoding,
}

func decodeBase64(s string) ([]byte, error) {
	var lastErr error
	for _, enc := range base64Encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
}

func hasControl(s string) bool { return strings.ContainsAny(s, "\r\n\x00") }

func listError(sourceURL, code, msg, hint string, cause error) error {
	return &ParseError{
		AppError: model.AppError{Code: code, Message: msg, Stage: stageParseSub, URL: sourceURL, Hint: hint},
		Cause:    cause,
	}
}

func truncateSnippet(s string, max int) string {
	s = strings.NewReplacer("\r", "", "\n", "").Replace(s)
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max]
}
