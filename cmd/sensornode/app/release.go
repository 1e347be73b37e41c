package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/autopeer-io/sensornode/cmd/sensornode/app/options"
	"github.com/autopeer-io/sensornode/internal/release"
	"github.com/autopeer-io/sensornode/pkg/log"
	"github.com/autopeer-io/sensornode/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/sensornode/pkg/mqtt/topic"
	"github.com/autopeer-io/sensornode/pkg/nats"
	pkgoptions "github.com/autopeer-io/sensornode/pkg/options"
)

func newReleaseCommand(ctx context.Context) *cobra.Command {
	opts := options.NewReleaseOptions()
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Upload a firmware image and emit the update command",
		Long: `Uploads a firmware image to the S3 bucket, presigns a download URL and
prints the matching update command. With --nodes the command is also sent
to every listed node.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(cmd, opts); err != nil {
				return err
			}
			if err := opts.Validate(); err != nil {
				return err
			}
			initLogging(opts.Log)
			defer log.Sync()

			provider, err := release.NewMinIOProvider(opts.S3Options)
			if err != nil {
				return err
			}
			releaser := release.NewReleaser(afero.NewOsFs(), provider, opts.S3Options.PresignExpiry)
			command, err := releaser.Release(ctx, opts.Image, opts.Key, opts.Restart)
			if err != nil {
				return err
			}

			out, err := command.JSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if len(opts.Nodes) == 0 {
				return nil
			}
			return publish(ctx, opts, command)
		},
	}

	addNamedFlags(cmd, opts.Flags())
	return cmd
}

func publish(ctx context.Context, opts *options.ReleaseOptions, command *release.Command) error {
	ctx, cancel := context.WithTimeout(ctx, opts.PublishTimeout)
	defer cancel()

	name := "sensornode-release-" + uuid.NewString()[:8]
	var (
		client mqtt.Client
		err    error
	)
	if opts.TransportOptions.Kind == pkgoptions.TransportNATS {
		client, err = nats.NewClient(opts.TransportOptions.ToNatsConfig(name))
	} else {
		cfg := opts.MqttOptions.ToClientConfig()
		if cfg.ClientID == "" {
			cfg.ClientID = name
		}
		client, err = mqtt.NewClient(cfg)
	}
	if err != nil {
		return err
	}

	if err := client.Start(ctx); err != nil {
		return err
	}
	defer client.Disconnect(context.WithoutCancel(ctx))
	if err := client.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("server link not available: %w", err)
	}

	return release.Publish(ctx, client, mqtttopic.NewBuilder(opts.MqttOptions.TopicRoot), command, opts.Nodes...)
}
