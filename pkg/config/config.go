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

// Package config holds the file-loadable configuration of an actor system.
package config

import (
	"encoding/json"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"go.uber.org/zap"
)

const (
	// maxWorkerNumber mirrors the system cap, more schedulers than this
	// buys nothing but wakeup traffic.
	maxWorkerNumber = 128
	// maxInboxCapacity mirrors the inbox ring allocation bound.
	maxInboxCapacity = 1 << 30
	maxTimerTick     = time.Minute
	maxWheelSize     = 1 << 20
)

// TomlDuration is a duration with a custom json and toml decoder.
type TomlDuration time.Duration

// UnmarshalText is the toml decoder.
func (d *TomlDuration) UnmarshalText(text []byte) error {
	stdDuration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = TomlDuration(stdDuration)
	return nil
}

// UnmarshalJSON is the json decoder.
func (d *TomlDuration) UnmarshalJSON(b []byte) error {
	var stdDuration time.Duration
	if err := json.Unmarshal(b, &stdDuration); err != nil {
		return err
	}
	*d = TomlDuration(stdDuration)
	return nil
}

// SystemConfig configures an actor system.
type SystemConfig struct {
	// Name identifies the system in logs and metric labels.
	Name string `toml:"name" json:"name"`
	// WorkerNumber is the number of scheduler workers. 0 means the number
	// of CPUs.
	WorkerNumber int `toml:"worker-number" json:"worker-number"`
	// InboxCapacity is the default per-actor inbox capacity.
	InboxCapacity int `toml:"inbox-capacity" json:"inbox-capacity"`
	// Throughput is how many inbox messages an actor handles per
	// resumption before yielding its worker.
	Throughput int `toml:"throughput" json:"throughput"`
	// TimerTick is the timer wheel resolution, timer lateness is bounded
	// by one tick plus scheduling delay.
	TimerTick TomlDuration `toml:"timer-tick" json:"timer-tick"`
	// TimerWheelSize is the bucket count of each worker's timer wheel.
	TimerWheelSize int `toml:"timer-wheel-size" json:"timer-wheel-size"`
}

// read only
var defaultSystemConfig = &SystemConfig{
	Name:           "actor-system",
	WorkerNumber:   0, // Resolved to the number of CPUs at validation.
	InboxCapacity:  8,
	Throughput:     64,
	TimerTick:      TomlDuration(time.Millisecond),
	TimerWheelSize: 256,
}

// GetDefaultSystemConfig returns the default configuration.
func GetDefaultSystemConfig() *SystemConfig {
	return defaultSystemConfig.Clone()
}

// ValidateAndAdjust fills unset fields with defaults and rejects values
// that are out of range.
func (c *SystemConfig) ValidateAndAdjust() error {
	if c.Name == "" {
		c.Name = defaultSystemConfig.Name
	}

	if c.WorkerNumber < 0 {
		return cerrors.ErrInvalidSystemOption.GenWithStackByArgs("worker-number", c.WorkerNumber)
	}
	if c.WorkerNumber == 0 {
		c.WorkerNumber = runtime.GOMAXPROCS(0)
		if c.WorkerNumber > maxWorkerNumber {
			c.WorkerNumber = maxWorkerNumber
		}
	}
	// We put an upper limit on WorkerNumber to avoid having to create many
	// reactors.
	if c.WorkerNumber > maxWorkerNumber {
		return cerrors.ErrInvalidSystemOption.GenWithStackByArgs("worker-number", c.WorkerNumber)
	}

	if c.InboxCapacity == 0 {
		c.InboxCapacity = defaultSystemConfig.InboxCapacity
	}
	if c.InboxCapacity < 0 || c.InboxCapacity > maxInboxCapacity {
		return cerrors.ErrInvalidSystemOption.GenWithStackByArgs("inbox-capacity", c.InboxCapacity)
	}

	if c.Throughput == 0 {
		c.Throughput = defaultSystemConfig.Throughput
	}
	if c.Throughput < 0 {
		return cerrors.ErrInvalidSystemOption.GenWithStackByArgs("throughput", c.Throughput)
	}

	if c.TimerTick == 0 {
		c.TimerTick = defaultSystemConfig.TimerTick
	}
	if c.TimerTick < 0 || time.Duration(c.TimerTick) > maxTimerTick {
		return cerrors.ErrInvalidSystemOption.GenWithStackByArgs("timer-tick", time.Duration(c.TimerTick))
	}

	if c.TimerWheelSize == 0 {
		c.TimerWheelSize = defaultSystemConfig.TimerWheelSize
	}
	if c.TimerWheelSize < 0 || c.TimerWheelSize > maxWheelSize {
		return cerrors.ErrInvalidSystemOption.GenWithStackByArgs("timer-wheel-size", c.TimerWheelSize)
	}

	return nil
}

// Clone returns a deep copy.
func (c *SystemConfig) Clone() *SystemConfig {
	return &SystemConfig{
		Name:           c.Name,
		WorkerNumber:   c.WorkerNumber,
		InboxCapacity:  c.InboxCapacity,
		Throughput:     c.Throughput,
		TimerTick:      c.TimerTick,
		TimerWheelSize: c.TimerWheelSize,
	}
}

// String implements fmt.Stringer.
func (c *SystemConfig) String() string {
	data, err := json.Marshal(c)
	if err != nil {
		log.Panic("marshal system config failed", zap.Error(err))
	}
	return string(data)
}

// FromFile loads the configuration from a toml file. Any key in the file
// that does not map into SystemConfig is an error.
func (c *SystemConfig) FromFile(path string) error {
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		return errors.Trace(err)
	}
	return checkUndecoded(meta, path)
}

// FromTOML loads the configuration from toml data. Any key that does not
// map into SystemConfig is an error.
func (c *SystemConfig) FromTOML(data string) error {
	meta, err := toml.Decode(data, c)
	if err != nil {
		return errors.Trace(err)
	}
	return checkUndecoded(meta, "toml data")
}

func checkUndecoded(meta toml.MetaData, source string) error {
	undecoded := meta.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	var b strings.Builder
	for i, item := range undecoded {
		if i != 0 {
			b.WriteString(", ")
		}
		b.WriteString(item.String())
	}
	return errors.Errorf("%s contained unknown configuration options: %s", source, b.String())
}
