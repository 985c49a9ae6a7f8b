package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var checkFlags struct {
	manifest     string
	fetchTimeout time.Duration
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a manifest and its sources without writing anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := build(cmd.Context(), checkFlags.manifest, checkFlags.fetchTimeout)
		if err != nil {
			return err
		}
		doc := res.doc
		fmt.Fprintf(cmd.OutOrStdout(), "ok: %d sources, %d groups, %d rule sets, %d listeners\n",
			len(res.manifest.Sources), len(doc.Groups), len(doc.RuleSets), len(doc.Listeners))
		for _, l := range doc.Listeners {
			rs := l.RuleSet
			if rs == "" {
				rs = "(default)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  %s %s:%d -> %s\n", l.Name, l.Listen, l.Port, rs)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVarP(&checkFlags.manifest, "manifest", "m", "manifest.yaml", "manifest 路径或 URL")
	checkCmd.Flags().DurationVar(&checkFlags.fetchTimeout, "fetch-timeout", 15*time.Second, "单次远程拉取的超时")
}
