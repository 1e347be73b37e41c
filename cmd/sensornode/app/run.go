package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autopeer-io/sensornode/cmd/sensornode/app/options"
	"github.com/autopeer-io/sensornode/pkg/log"
)

func newRunCommand(ctx context.Context) *cobra.Command {
	opts := options.NewNodeOptions()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the node agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if err := opts.Validate(); err != nil {
				return err
			}

			initLogging(opts.Log)
			defer log.Sync()
			watchLogLevel(v)

			cfg, err := opts.Config()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			agent, err := cfg.NewAgent()
			if err != nil {
				return fmt.Errorf("failed to create agent: %w", err)
			}

			return agent.Run(ctx)
		},
	}

	addNamedFlags(cmd, opts.Flags())
	return cmd
}
