// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package stalldetection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name            string
		initialConfig   *Config
		resultingConfig *Config
	}{
		{
			name:            "default config",
			initialConfig:   &Config{},
			resultingConfig: &Config{ProgressTimeout: DefaultConfig.ProgressTimeout, MaxWaits: DefaultConfig.MaxWaits},
		},
		{
			name:            "negative values",
			initialConfig:   &Config{ProgressTimeout: -time.Second, MaxWaits: -3},
			resultingConfig: &Config{ProgressTimeout: DefaultConfig.ProgressTimeout, MaxWaits: DefaultConfig.MaxWaits},
		},
		{
			name:            "custom config",
			initialConfig:   &Config{ProgressTimeout: 15 * time.Millisecond, MaxWaits: 3, DisableForcedFlush: true},
			resultingConfig: &Config{ProgressTimeout: 15 * time.Millisecond, MaxWaits: 3, DisableForcedFlush: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.initialConfig.Setup()
			assert.EqualExportedValues(t, tt.initialConfig, tt.resultingConfig)
		})
	}
}
