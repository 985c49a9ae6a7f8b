package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/John-Robertt/submerge/internal/httpapi"
)

var serveFlags struct {
	listen            string
	readHeaderTimeout time.Duration
	mergeTimeout      time.Duration
	fetchTimeout      time.Duration
	shutdownTimeout   time.Duration
	maxBodyBytes      int64
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve POST /api/merge, /healthz and /metrics",
	Long: `Run the HTTP service. POST /api/merge takes a manifest body whose sources
are http(s) URLs or inline content; server-side files are never read.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.StringVar(&serveFlags.listen, "listen", "127.0.0.1:25500", "HTTP 监听地址")
	f.DurationVar(&serveFlags.readHeaderTimeout, "read-header-timeout", 5*time.Second, "HTTP ReadHeaderTimeout（请求头读取超时）")
	f.DurationVar(&serveFlags.mergeTimeout, "merge-timeout", 60*time.Second, "单次合并的总超时（包含远程拉取）")
	f.DurationVar(&serveFlags.fetchTimeout, "fetch-timeout", 15*time.Second, "单次远程拉取的超时（每个 URL 一次请求）")
	f.DurationVar(&serveFlags.shutdownTimeout, "shutdown-timeout", 10*time.Second, "收到退出信号后的优雅退出等待时间")
	f.Int64Var(&serveFlags.maxBodyBytes, "max-body-bytes", 8*1024*1024, "POST /api/merge 请求体上限")
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := &http.Server{
		Addr: serveFlags.listen,
		Handler: httpapi.NewHandler(httpapi.Options{
			MergeTimeout: serveFlags.mergeTimeout,
			FetchTimeout: serveFlags.fetchTimeout,
			MaxBodyBytes: serveFlags.maxBodyBytes,
			Logger:       logger,
			Registry:     reg,
		}),
		ReadHeaderTimeout: serveFlags.readHeaderTimeout,
	}

	logger.Info("listening", zap.String("addr", "http://"+serveFlags.listen))

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		shCtx, cancel := context.WithTimeout(context.Background(), serveFlags.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
			_ = srv.Close()
		}

		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
