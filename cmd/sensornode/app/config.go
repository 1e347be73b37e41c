package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"

	"github.com/autopeer-io/sensornode/pkg/log"
)

const (
	configFlag = "config"
	envPrefix  = "SENSORNODE"
)

// loadConfig layers the config file and SENSORNODE_* variables under the
// command line flags and decodes the result into opts.
func loadConfig(cmd *cobra.Command, opts any) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}

	path, _ := cmd.Flags().GetString(configFlag)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	if err := v.Unmarshal(opts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return v, nil
}

// watchLogLevel applies log.level edits of the config file without a restart.
func watchLogLevel(v *viper.Viper) {
	if v.ConfigFileUsed() == "" {
		return
	}
	current := v.GetString("log.level")
	v.OnConfigChange(func(e fsnotify.Event) {
		level := v.GetString("log.level")
		if level == current {
			return
		}
		if err := log.SetLevel(level); err != nil {
			log.Error(err, "Ignoring invalid log level from config", "file", e.Name, "level", level)
			return
		}
		log.Info("Log level changed", "from", current, "to", level)
		current = level
	})
	v.WatchConfig()
}

// initLogging installs the process logger and routes klog output of the
// k8s libraries through it.
func initLogging(opts *log.Options) {
	log.Init(opts)
	klog.SetLogger(log.Logr().WithName("klog"))
}
