package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var mergeFlags struct {
	manifest     string
	output       string
	fetchTimeout time.Duration
}

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge the sources of a manifest into one mihomo config",
	Long: `Load every source listed in the manifest, merge them and write the
resulting mihomo config. Nothing is written unless the whole merge succeeds.

Examples:
  submerge merge -m manifest.yaml -o config.yaml
  submerge merge -m https://example.com/manifest.yaml > config.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := build(cmd.Context(), mergeFlags.manifest, mergeFlags.fetchTimeout)
		if err != nil {
			return err
		}
		if err := writeOutput(cmd.OutOrStdout(), mergeFlags.output, res.out); err != nil {
			return err
		}
		if mergeFlags.output != "-" {
			logger.Info("config written",
				zap.String("output", mergeFlags.output),
				zap.Int("sources", len(res.manifest.Sources)),
			)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mergeCmd)

	mergeCmd.Flags().StringVarP(&mergeFlags.manifest, "manifest", "m", "manifest.yaml", "manifest 路径或 URL")
	mergeCmd.Flags().StringVarP(&mergeFlags.output, "output", "o", "-", "输出文件（- 为标准输出）")
	mergeCmd.Flags().DurationVar(&mergeFlags.fetchTimeout, "fetch-timeout", 15*time.Second, "单次远程拉取的超时")
}
