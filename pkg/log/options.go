// Copyright 2025 The Sensornode Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
)

// Options configures the process logger. Every field maps to a log.* flag
// and to the log section of the config file.
type Options struct {
	// Name is prefixed to every entry, e.g. "sensornode".
	Name string `json:"name,omitempty" mapstructure:"name"`

	// Level is one of debug, info, warn or error. It can be changed at
	// runtime by editing the config file.
	Level string `json:"level,omitempty" mapstructure:"level"`

	// Format is console or json. Nodes shipping logs to a collector use json.
	Format string `json:"format,omitempty" mapstructure:"format"`

	EnableColor   bool `json:"enable-color,omitempty" mapstructure:"enable-color"`
	DisableCaller bool `json:"disable-caller,omitempty" mapstructure:"disable-caller"`

	// CallerSkip is 2 for callers of the package level helpers.
	CallerSkip int `json:"caller-skip,omitempty" mapstructure:"caller-skip"`

	OutputPaths []string `json:"output-paths,omitempty" mapstructure:"output-paths"`
}

func NewOptions() *Options {
	return &Options{
		Name:        "sensornode",
		Level:       "info",
		Format:      "console",
		EnableColor: true,
		CallerSkip:  2,
		OutputPaths: []string{"stdout"},
	}
}

// Validate checks the level and format values.
func (o *Options) Validate() []error {
	var errs []error
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(o.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if o.Format != "console" && o.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be 'console' or 'json', got %q", o.Format))
	}
	if o.CallerSkip < 0 {
		errs = append(errs, fmt.Errorf("log.caller-skip must not be negative"))
	}
	return errs
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Level, "log.level", o.Level, "Minimum level to log: debug, info, warn or error.")
	fs.StringVar(&o.Format, "log.format", o.Format, "Log encoding: console or json.")
	fs.StringVar(&o.Name, "log.name", o.Name, "Logger name attached to every entry.")
	fs.BoolVar(&o.EnableColor, "log.enable-color", o.EnableColor, "Colorize levels in console output.")
	fs.BoolVar(&o.DisableCaller, "log.disable-caller", o.DisableCaller, "Omit the file:line caller field.")
	fs.IntVar(&o.CallerSkip, "log.caller-skip", o.CallerSkip, "Stack frames to skip when annotating the caller.")
	fs.StringSliceVar(&o.OutputPaths, "log.output-paths", o.OutputPaths, "Log sinks, e.g. stdout or /var/log/sensornode.log.")
}
