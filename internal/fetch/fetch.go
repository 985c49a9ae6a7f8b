// Package fetch loads manifest, fragment, node, template and base documents
// over http(s) or from disk, with size, redirect and encoding limits.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/John-Robertt/submerge/internal/model"
)

type Kind int

const (
	KindFragment Kind = iota
	KindNodes
	KindManifest
	KindTemplate
	KindBase
)

var kindNames = map[Kind]string{
	KindFragment: "fragment",
	KindNodes:    "nodes",
	KindManifest: "manifest",
	KindTemplate: "template",
	KindBase:     "base",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

func (k Kind) stage() string {
	if _, ok := kindNames[k]; !ok {
		return "fetch"
	}
	return "fetch_" + k.String()
}

func (k Kind) defaultMaxBytes() int64 {
	switch k {
	case KindFragment, KindNodes:
		return 5 << 20
	case KindTemplate:
		return 2 << 20
	default:
		return 1 << 20
	}
}

const (
	// DefaultUserAgent makes subscription servers answer with mihomo YAML.
	DefaultUserAgent = "clash.meta"

	defaultTimeout      = 15 * time.Second
	defaultMaxRedirects = 5
)

type Options struct {
	Timeout      time.Duration // default 15s
	MaxBytes     int64         // default per kind
	MaxRedirects int           // default 5
	UserAgent    string        // default DefaultUserAgent
}

func (o Options) withDefaults(kind Kind) Options {
	if o.Timeout == 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxRedirects == 0 {
		o.MaxRedirects = defaultMaxRedirects
	}
	if o.MaxBytes == 0 {
		o.MaxBytes = kind.defaultMaxBytes()
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	return o
}

type FetchError struct {
	Status   int
	AppError model.AppError
	Cause    error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }
func (e *FetchError) App() model.AppError { return e.AppError }

var (
	errTooManyRedirects   = errors.New("too many redirects")
	errRedirectBadScheme  = errors.New("redirect target scheme is not http/https")
	errInvalidURLOrScheme = errors.New("invalid url or scheme")
)

// failer builds FetchErrors for one stage and location.
type failer struct {
	stage string
	url   string
}

func (f failer) fail(status int, code, msg string, cause error) *FetchError {
	return &FetchError{
		Status:   status,
		AppError: model.AppError{Code: code, Message: msg, Stage: f.stage, URL: f.url},
		Cause:    cause,
	}
}

func FetchText(ctx context.Context, kind Kind, rawURL string) (string, error) {
	return FetchTextWithOptions(ctx, kind, rawURL, Options{})
}

// FetchTextWithOptions GETs rawURL and returns the body as UTF-8 text.
// Redirects are followed up to MaxRedirects and must stay on http(s).
func FetchTextWithOptions(ctx context.Context, kind Kind, rawURL string, opt Options) (string, error) {
	opt = opt.withDefaults(kind)
	f := failer{stage: kind.stage(), url: rawURL}

	if opt.MaxBytes <= 0 {
		return "", f.fail(http.StatusBadRequest, "INVALID_ARGUMENT", "响应大小上限必须大于 0", nil)
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", f.fail(http.StatusBadRequest, "INVALID_ARGUMENT", "仅允许 http/https URL", errors.Join(errInvalidURLOrScheme, err))
	}

	client := &http.Client{
		Timeout:   opt.Timeout,
		Transport: http.DefaultTransport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// len(via) counts the redirects followed so far, including this one.
			if len(via) > opt.MaxRedirects {
				return errTooManyRedirects
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return errRedirectBadScheme
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", f.fail(http.StatusBadRequest, "INVALID_ARGUMENT", "请求 URL 不合法", err)
	}
	req.Header.Set("User-Agent", opt.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		switch {
		case errors.Is(err, errTooManyRedirects):
			return "", f.fail(http.StatusBadGateway, "FETCH_FAILED", fmt.Sprintf("重定向次数超过上限（>%d）", opt.MaxRedirects), err)
		case errors.Is(err, errRedirectBadScheme):
			return "", f.fail(http.StatusBadRequest, "INVALID_ARGUMENT", "重定向目标仅允许 http/https", err)
		case isTimeout(err):
			return "", f.fail(http.StatusGatewayTimeout, "FETCH_TIMEOUT", "拉取远程资源超时", err)
		default:
			return "", f.fail(http.StatusBadGateway, "FETCH_FAILED", "拉取远程资源失败", err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", f.fail(http.StatusBadGateway, "FETCH_FAILED", fmt.Sprintf("上游返回非 2xx 状态码：%d", resp.StatusCode), nil)
	}

	body, err := readText(resp.Body, opt.MaxBytes, f, "远程资源")
	var fe *FetchError
	if errors.As(err, &fe) && fe.AppError.Code == "READ_FAILED" {
		if isTimeout(fe.Cause) {
			return "", f.fail(http.StatusGatewayTimeout, "FETCH_TIMEOUT", "拉取远程资源超时", fe.Cause)
		}
		return "", f.fail(http.StatusBadGateway, "FETCH_FAILED", "读取上游响应失败", fe.Cause)
	}
	if err != nil {
		return "", err
	}
	return body, nil
}

// readText reads at most maxBytes of UTF-8 text from r. One extra byte is
// read so that overflow is detected exactly.
func readText(r io.Reader, maxBytes int64, f failer, what string) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return "", f.fail(http.StatusBadGateway, "READ_FAILED", fmt.Sprintf("读取%s失败", what), err)
	}
	if int64(len(body)) > maxBytes {
		return "", f.fail(http.StatusUnprocessableEntity, "TOO_LARGE", fmt.Sprintf("%s过大（>%d bytes）", what, maxBytes), nil)
	}
	if !utf8.Valid(body) {
		return "", f.fail(http.StatusUnprocessableEntity, "FETCH_INVALID_UTF8", fmt.Sprintf("%s不是合法 UTF-8 文本", what), nil)
	}
	return string(body), nil
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
