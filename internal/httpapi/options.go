package httpapi

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Options controls HTTP API runtime behavior (timeouts, etc.).
type Options struct {
	// MergeTimeout is the hard upper bound for a single merge request
	// (fetch + parse + merge + render).
	MergeTimeout time.Duration

	// FetchTimeout is the per-HTTP-request timeout used when fetching remote
	// fragments, templates and base configs.
	FetchTimeout time.Duration

	// MaxBodyBytes limits the manifest body of POST /api/merge.
	MaxBodyBytes int64

	Logger *zap.Logger

	// Registry receives the service metrics and backs GET /metrics. Nil means
	// a fresh registry per handler.
	Registry *prometheus.Registry

	// Getenv feeds manifest environment overrides. Nil means os.Getenv.
	Getenv func(string) string
}

func (o Options) withDefaults() Options {
	if o.MergeTimeout <= 0 {
		o.MergeTimeout = 60 * time.Second
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 15 * time.Second
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 8 * 1024 * 1024
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Registry == nil {
		o.Registry = prometheus.NewRegistry()
	}
	if o.Getenv == nil {
		o.Getenv = os.Getenv
	}
	return o
}
