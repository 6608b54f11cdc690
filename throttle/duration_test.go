/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTimeDurationUnmarshalYAML(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    TimeDuration
		wantErr bool
	}{
		{"integer nanoseconds", "duration: 2000000000", TimeDuration(2 * time.Second), false},
		{"human-readable", "duration: 1h30m", TimeDuration(90 * time.Minute), false},
		{"negative integer", "duration: -5", 0, true},
		{"garbage", "duration: soon", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg struct{ Duration TimeDuration }
			err := yaml.Unmarshal([]byte(tt.input), &cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, cfg.Duration)
		})
	}
}

func TestTimeDurationUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    TimeDuration
		wantErr bool
	}{
		{"integer nanoseconds", `1000000000`, TimeDuration(time.Second), false},
		{"human-readable", `"45s"`, TimeDuration(45 * time.Second), false},
		{"garbage", `"soon"`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d TimeDuration
			err := json.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, d)
		})
	}
}

func TestTimeDurationMarshal(t *testing.T) {
	d := TimeDuration(90 * time.Minute)
	require.Equal(t, "1h30m0s", d.String())

	jsonData, err := json.Marshal(d)
	require.NoError(t, err)
	require.Equal(t, `"1h30m0s"`, string(jsonData))

	yamlData, err := yaml.Marshal(d)
	require.NoError(t, err)
	require.Equal(t, "1h30m0s\n", string(yamlData))
}
