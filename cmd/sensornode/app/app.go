package app

import (
	"context"
	"flag"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/cli/globalflag"
	"k8s.io/component-base/term"
)

const (
	commandName = "sensornode"
	commandDesc = `The sensornode agent polls the peripherals attached to a node,
publishes their readings to the server and applies firmware updates
pushed over the server link.`
)

func NewSensorNodeCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:           commandName,
		Short:         "Sensor node agent with over-the-air updates",
		Long:          commandDesc,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().String(configFlag, "", "Path to a YAML config file. Flags and SENSORNODE_* variables take precedence.")

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)

	cmd.AddCommand(
		newRunCommand(ctx),
		newReleaseCommand(ctx),
		newPeripheralsCommand(ctx),
	)
	return cmd
}

// addNamedFlags wires the option sections into cmd and prints them grouped in help.
func addNamedFlags(cmd *cobra.Command, namedfs cliflag.NamedFlagSets) {
	globalflag.AddGlobalFlags(namedfs.FlagSet("Global"), cmd.Name())
	fs := cmd.Flags()
	for _, f := range namedfs.FlagSets {
		fs.AddFlagSet(f)
	}
	cols, _, _ := term.TerminalSize(cmd.OutOrStdout())
	cliflag.SetUsageAndHelpFunc(cmd, namedfs, cols)
}
