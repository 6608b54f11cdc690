/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"context"
	"fmt"
	"io"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileConfig is a Config together with the provider-level settings
// that live alongside it in a configuration file.
type FileConfig struct {
	Config `mapstructure:",squash" yaml:",inline"`

	// ReloadIntervalSeconds enables periodic reload of the rule-set. 0 disables it.
	ReloadIntervalSeconds int `mapstructure:"reloadIntervalSeconds" yaml:"reloadIntervalSeconds" json:"reloadIntervalSeconds"`
}

// LoadConfigFromFile reads and validates throttling configuration from a file.
// The format is inferred from the file extension (YAML and JSON are supported).
func LoadConfigFromFile(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read throttling config file: %w", err)
	}
	return unmarshalFileConfig(v)
}

// LoadConfigFromReader reads and validates throttling configuration from a reader.
// dataType is a format of the data ("yaml" or "json").
func LoadConfigFromReader(reader io.Reader, dataType string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigType(dataType)
	if err := v.ReadConfig(reader); err != nil {
		return nil, fmt.Errorf("read throttling config: %w", err)
	}
	return unmarshalFileConfig(v)
}

// ParseConfigYAML parses and validates throttling configuration from raw YAML.
func ParseConfigYAML(data []byte) (*FileConfig, error) {
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal throttling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func unmarshalFileConfig(v *viper.Viper) (*FileConfig, error) {
	var cfg FileConfig
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("unmarshal throttling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FileSupplier makes a ConfigSupplier that re-reads the rule-set from the given file.
func FileSupplier(path string) ConfigSupplier {
	return func(_ context.Context) (*Config, error) {
		cfg, err := LoadConfigFromFile(path)
		if err != nil {
			return nil, err
		}
		return &cfg.Config, nil
	}
}
