package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pingsantohq/linkbench/internal/synth"
	"github.com/pingsantohq/linkbench/pkg/types"
)

func newMakeConfigCommand(deps Dependencies, opts *rootOptions) *cobra.Command {
	var configDir string
	cmd := &cobra.Command{
		Use:   "make-config <bandwidth> <coding_rate> <spreading_factor>",
		Short: "Write the transmit and receive documents for one parameter triple",
		Args:  withUsage(cobra.ExactArgs(3)),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := types.ParseParameters(args[0], args[1], args[2])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd.Context(), opts)
			if err != nil {
				return err
			}
			paths, err := synth.New(cfg, configDir).WritePair(params)
			if err != nil {
				return err
			}
			fmt.Fprintf(deps.Stdout, "wrote %s\nwrote %s\n", paths.Transmit, paths.Receive)
			return nil
		},
	}
	cmd.Flags().StringVar(&configDir, "config-dir", "", "Directory the role documents are written to (default from config)")
	return cmd
}
