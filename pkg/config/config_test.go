// Copyright 2025 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestDefaultSystemConfig(t *testing.T) {
	t.Parallel()
	cfg := GetDefaultSystemConfig()
	require.Nil(t, cfg.ValidateAndAdjust())
	require.Equal(t, "actor-system", cfg.Name)
	require.Greater(t, cfg.WorkerNumber, 0)
	require.Equal(t, 8, cfg.InboxCapacity)
	require.Equal(t, 64, cfg.Throughput)
	require.Equal(t, time.Millisecond, time.Duration(cfg.TimerTick))
	require.Equal(t, 256, cfg.TimerWheelSize)
}

func TestValidateAndAdjustFillsDefaults(t *testing.T) {
	t.Parallel()
	cfg := &SystemConfig{}
	require.Nil(t, cfg.ValidateAndAdjust())
	require.Equal(t, "actor-system", cfg.Name)
	require.Greater(t, cfg.WorkerNumber, 0)
	require.LessOrEqual(t, cfg.WorkerNumber, maxWorkerNumber)
	require.Equal(t, 8, cfg.InboxCapacity)
	require.Equal(t, 64, cfg.Throughput)
	require.Equal(t, time.Millisecond, time.Duration(cfg.TimerTick))
	require.Equal(t, 256, cfg.TimerWheelSize)
}

func TestValidateAndAdjustRejects(t *testing.T) {
	t.Parallel()
	cases := []func(*SystemConfig){
		func(c *SystemConfig) { c.WorkerNumber = -1 },
		func(c *SystemConfig) { c.WorkerNumber = maxWorkerNumber + 1 },
		func(c *SystemConfig) { c.InboxCapacity = -8 },
		func(c *SystemConfig) { c.InboxCapacity = maxInboxCapacity + 1 },
		func(c *SystemConfig) { c.Throughput = -1 },
		func(c *SystemConfig) { c.TimerTick = TomlDuration(-time.Millisecond) },
		func(c *SystemConfig) { c.TimerTick = TomlDuration(time.Hour) },
		func(c *SystemConfig) { c.TimerWheelSize = -1 },
		func(c *SystemConfig) { c.TimerWheelSize = maxWheelSize + 1 },
	}
	for i, mutate := range cases {
		cfg := GetDefaultSystemConfig()
		mutate(cfg)
		err := cfg.ValidateAndAdjust()
		require.Error(t, err, "case %d", i)
		require.True(t, cerrors.ErrInvalidSystemOption.Equal(err), "case %d: %v", i, err)
	}
}

func TestSystemConfigClone(t *testing.T) {
	t.Parallel()
	cfg := GetDefaultSystemConfig()
	clone := cfg.Clone()
	clone.Name = "other"
	clone.WorkerNumber = 2
	require.Equal(t, "actor-system", cfg.Name)
	require.NotEqual(t, cfg.WorkerNumber, clone.WorkerNumber)
}

func TestSystemConfigFromTOML(t *testing.T) {
	t.Parallel()
	cfg := GetDefaultSystemConfig()
	err := cfg.FromTOML(`
name = "sorter"
worker-number = 4
inbox-capacity = 16
throughput = 128
timer-tick = "5ms"
timer-wheel-size = 512
`)
	require.Nil(t, err)
	require.Nil(t, cfg.ValidateAndAdjust())
	require.Equal(t, "sorter", cfg.Name)
	require.Equal(t, 4, cfg.WorkerNumber)
	require.Equal(t, 16, cfg.InboxCapacity)
	require.Equal(t, 128, cfg.Throughput)
	require.Equal(t, 5*time.Millisecond, time.Duration(cfg.TimerTick))
	require.Equal(t, 512, cfg.TimerWheelSize)
}

func TestSystemConfigFromTOMLUnknownKey(t *testing.T) {
	t.Parallel()
	cfg := GetDefaultSystemConfig()
	err := cfg.FromTOML(`
name = "sorter"
no-such-option = true
`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown configuration options")
}

func TestSystemConfigFromFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "system.toml")
	err := os.WriteFile(path, []byte(`
name = "from-file"
timer-tick = "2ms"
`), 0o600)
	require.Nil(t, err)

	cfg := GetDefaultSystemConfig()
	require.Nil(t, cfg.FromFile(path))
	require.Equal(t, "from-file", cfg.Name)
	require.Equal(t, 2*time.Millisecond, time.Duration(cfg.TimerTick))

	require.Error(t, cfg.FromFile(filepath.Join(t.TempDir(), "missing.toml")))
}

func TestSystemConfigString(t *testing.T) {
	t.Parallel()
	cfg := GetDefaultSystemConfig()
	require.Contains(t, cfg.String(), `"name":"actor-system"`)
}
