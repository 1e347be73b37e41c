package app

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/sensornode/internal/node/sensor"
	"github.com/autopeer-io/sensornode/pkg/options"
)

type peripheralsOptions struct {
	Sensor *options.SensorOptions `mapstructure:"sensor"`
	Read   bool                   `mapstructure:"read"`
}

func newPeripheralsCommand(ctx context.Context) *cobra.Command {
	opts := &peripheralsOptions{Sensor: options.NewSensorOptions()}
	cmd := &cobra.Command{
		Use:   "peripherals",
		Short: "List the peripherals of the peripherals file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(cmd, opts); err != nil {
				return err
			}
			specs, err := sensor.LoadFile(opts.Sensor.PeripheralsFile)
			if err != nil {
				return err
			}
			table, err := peripheralTable(ctx, sensor.DefaultRegistry(), specs, opts.Read)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}

	var fss cliflag.NamedFlagSets
	opts.Sensor.AddFlags(fss.FlagSet("Sensor"))
	fss.FlagSet("Peripherals").BoolVar(&opts.Read, "read", false, "Take one reading from every peripheral.")
	addNamedFlags(cmd, fss)
	return cmd
}

func peripheralTable(ctx context.Context, registry *sensor.Registry, specs []sensor.Spec, read bool) (*uitable.Table, error) {
	peripherals, err := registry.CreateAll(specs)
	if err != nil {
		return nil, err
	}

	table := uitable.New()
	table.MaxColWidth = 60
	if read {
		table.AddRow("NAME", "TYPE", "SOURCE", "VALUE")
	} else {
		table.AddRow("NAME", "TYPE", "SOURCE")
	}

	for i, p := range peripherals {
		if !read {
			table.AddRow(p.Name(), p.Kind(), source(specs[i]))
			continue
		}
		readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		value := "-"
		if v, err := p.Read(readCtx); err != nil {
			value = "error: " + err.Error()
		} else {
			value = strconv.FormatFloat(v, 'f', -1, 64)
		}
		cancel()
		_ = p.Close()
		table.AddRow(p.Name(), p.Kind(), source(specs[i]), value)
	}
	return table, nil
}

func source(s sensor.Spec) string {
	switch s.Kind {
	case sensor.KindModbus:
		return fmt.Sprintf("%s unit=%d reg=%d", s.Endpoint, s.UnitID, s.Address)
	case sensor.KindAnalog:
		return fmt.Sprintf("simulated [%g, %g)", s.Min, s.Max)
	}
	return ""
}
