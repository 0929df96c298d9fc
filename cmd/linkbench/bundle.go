package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pingsantohq/linkbench/internal/bundle"
)

func newBundleCommand(deps Dependencies, opts *rootOptions) *cobra.Command {
	var (
		output     string
		configDir  string
		metricsURL string
		noRedact   bool
	)
	cmd := &cobra.Command{
		Use:   "bundle <run_manifest>",
		Short: "Pack a finished run's artifacts into a tar.gz archive",
		Args:  withUsage(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if configDir != "" {
				cfg.Link.ConfigDir = configDir
			}
			configPath := opts.configPath
			if configPath == "" {
				configPath = os.Getenv("LINKBENCH_CONFIG")
			}
			path, err := bundle.Build(cmd.Context(), bundle.Options{
				ManifestPath:   args[0],
				OutputPath:     output,
				ConfigPath:     configPath,
				Config:         cfg,
				MetricsURL:     metricsURL,
				MetricsTimeout: 3 * time.Second,
				Redact:         !noRedact,
			}, bundle.Dependencies{Now: deps.Now})
			if err != nil {
				return err
			}
			fmt.Fprintf(deps.Stdout, "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "Bundle path (default bundle_<ts>.tar.gz next to the manifest)")
	cmd.Flags().StringVar(&configDir, "config-dir", "", "Directory holding the role documents (default from config)")
	cmd.Flags().StringVar(&metricsURL, "metrics-url", "", "Also scrape a running harness's metrics endpoint")
	cmd.Flags().BoolVar(&noRedact, "no-redact", false, "Keep credentials in bundled documents")
	return cmd
}
