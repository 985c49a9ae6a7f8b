package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/John-Robertt/submerge/internal/fetch"
	"github.com/John-Robertt/submerge/internal/profile"
	"github.com/John-Robertt/submerge/internal/watch"
)

var watchFlags struct {
	manifest     string
	output       string
	fetchTimeout time.Duration
	debounce     time.Duration
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-merge whenever the manifest or one of its local files changes",
	Long: `Merge once, then watch the manifest and every local file it references.
A failed re-merge is logged and the last good output is kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runWatch(ctx)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)

	f := watchCmd.Flags()
	f.StringVarP(&watchFlags.manifest, "manifest", "m", "manifest.yaml", "manifest 路径（必须是本地文件）")
	f.StringVarP(&watchFlags.output, "output", "o", "config.yaml", "输出文件")
	f.DurationVar(&watchFlags.fetchTimeout, "fetch-timeout", 15*time.Second, "单次远程拉取的超时")
	f.DurationVar(&watchFlags.debounce, "debounce", watch.DefaultDebounce, "文件变化后等待多久再合并")
}

func runWatch(ctx context.Context) error {
	if fetch.IsURL(watchFlags.manifest) {
		return fmt.Errorf("watch needs a local manifest, got %s", watchFlags.manifest)
	}
	if watchFlags.output == "" || watchFlags.output == "-" {
		return fmt.Errorf("watch needs an output file")
	}

	res, err := rebuild(ctx)
	if err != nil {
		return err
	}
	w, err := watch.New(watch.Config{
		Paths:    watchPaths(res),
		Debounce: watchFlags.debounce,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	logger.Info("watching", zap.String("manifest", watchFlags.manifest), zap.String("output", watchFlags.output))

	return w.Run(ctx, func(ctx context.Context) error {
		res, err := rebuild(ctx)
		if err != nil {
			return err
		}
		return w.Replace(watchPaths(res))
	})
}

func rebuild(ctx context.Context) (*buildResult, error) {
	res, err := build(ctx, watchFlags.manifest, watchFlags.fetchTimeout)
	if err != nil {
		return nil, err
	}
	if err := writeOutput(os.Stdout, watchFlags.output, res.out); err != nil {
		return nil, err
	}
	logger.Info("config written", zap.String("output", watchFlags.output))
	return res, nil
}

func watchPaths(res *buildResult) []string {
	return append([]string{watchFlags.manifest}, profile.LocalFiles(res.manifest, res.base)...)
}
