package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type server struct {
	opt     Options
	metrics *metrics
}

func newServer(opt Options) *server {
	opt = opt.withDefaults()
	return &server{opt: opt, metrics: newMetrics(opt.Registry)}
}

// NewMux returns the bare routes without access logging.
func NewMux(opt Options) *http.ServeMux {
	return newServer(opt).mux()
}

func (s *server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.opt.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("POST /api/merge", s.handleMerge)
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteText(w, http.StatusOK, "ok\n")
}
