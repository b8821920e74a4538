/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config holds the run configuration: the positional single-channel
// parameters, the per-thread configuration file and the operational knobs.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/srediag/msgq-zcpy/internal/logger"
	"github.com/srediag/msgq-zcpy/internal/transport"
)

const (
	DefaultThreads      = 4
	DefaultMessages     = 25200
	DefaultPayloadSize  = 4
	DefaultProcID       = transport.ProcIPU2
	DefaultOpenInterval = time.Second

	// MaxThreads bounds the positional thread count.
	MaxThreads = 50
	// MaxWorkers bounds the number of configuration file lines.
	MaxWorkers = 100

	wordSize = 4
)

var (
	ErrInvalidConfigKey   = errors.New("config: invalid key")
	ErrInvalidConfigValue = errors.New("config: invalid value")
	ErrTooManyWorkers     = errors.New("config: too many workers")
	ErrUnalignedPayload   = errors.New("config: payload size is not 4 byte aligned")
	ErrInvalidArgs        = errors.New("config: invalid arguments")
)

// Direction is the data flow of one worker, seen from the host.
type Direction uint32

const (
	Send Direction = iota
	Receive
	Bidirectional
)

func (d Direction) String() string {
	switch d {
	case Send:
		return "send"
	case Receive:
		return "recv"
	case Bidirectional:
		return "bidirectional"
	}
	return "direction(" + strconv.Itoa(int(d)) + ")"
}

// Mode selects which benchmark variant runs.
type Mode int

const (
	// ModeSingle runs every worker bidirectionally after one handshake.
	ModeSingle Mode = iota
	// ModePerThread runs the workers of a configuration file, each with its
	// own direction, after a per-thread handshake.
	ModePerThread
)

// WorkerConfig describes one worker.
type WorkerConfig struct {
	Index        int
	Direction    Direction
	PayloadSize  int
	MessageCount int
	// Interval is the pause after each send.
	Interval time.Duration
	ProcID   uint16
}

func (w WorkerConfig) String() string {
	return fmt.Sprintf("Thread [%d] : direction = %d, msgSize = %d, msgCount = %d, interval = %d, procID = %d",
		w.Index, w.Direction, w.PayloadSize, w.MessageCount, w.Interval.Microseconds(), w.ProcID)
}

// Config is the complete run configuration.
type Config struct {
	Mode Mode

	// Positional parameters of ModeSingle.
	Threads       int
	TotalMessages int
	PayloadSize   int
	ProcID        uint16

	// Workers of ModePerThread, filled by ParseFile.
	Workers    []WorkerConfig
	ConfigFile string

	OpenInterval     time.Duration
	OpenRetries      uint64
	HandshakeTimeout time.Duration
	ReceiveTimeout   time.Duration
	Timeout          time.Duration

	AdminAddr string
	LogLevel  string
	ShmName   string
}

// DefaultConfig returns the configuration of a run without arguments.
func DefaultConfig() *Config {
	return &Config{
		Mode:          ModeSingle,
		Threads:       DefaultThreads,
		TotalMessages: DefaultMessages,
		PayloadSize:   DefaultPayloadSize,
		ProcID:        DefaultProcID,
		OpenInterval:  DefaultOpenInterval,
		LogLevel:      "warn",
	}
}

// VerifyConfig checks c for consistency.
func VerifyConfig(c *Config) error {
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfigValue, err)
	}
	if c.OpenInterval <= 0 {
		return fmt.Errorf("%w: open interval must be positive", ErrInvalidConfigValue)
	}
	if c.HandshakeTimeout < 0 || c.ReceiveTimeout < 0 || c.Timeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfigValue)
	}
	switch c.Mode {
	case ModeSingle:
		if c.Threads < 1 {
			return fmt.Errorf("%w: thread count %d", ErrInvalidArgs, c.Threads)
		}
		if c.Threads > MaxThreads {
			return fmt.Errorf("%w: %d threads, max %d", ErrTooManyWorkers, c.Threads, MaxThreads)
		}
		if c.TotalMessages < 0 {
			return fmt.Errorf("%w: message count %d", ErrInvalidArgs, c.TotalMessages)
		}
		if c.PayloadSize <= 0 || c.PayloadSize%wordSize != 0 {
			return fmt.Errorf("%w: %d", ErrUnalignedPayload, c.PayloadSize)
		}
		if err := checkTarget(c.ProcID); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
		}
	case ModePerThread:
		if len(c.Workers) == 0 {
			return fmt.Errorf("%w: no workers configured", ErrInvalidArgs)
		}
		if len(c.Workers) > MaxWorkers {
			return fmt.Errorf("%w: %d workers, max %d", ErrTooManyWorkers, len(c.Workers), MaxWorkers)
		}
		for _, w := range c.Workers {
			if err := verifyWorker(w); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: mode %d", ErrInvalidArgs, c.Mode)
	}
	return nil
}

func verifyWorker(w WorkerConfig) error {
	if w.Direction > Bidirectional {
		return fmt.Errorf("%w: worker %d direction %d", ErrInvalidConfigValue, w.Index, w.Direction)
	}
	if w.PayloadSize <= 0 || w.PayloadSize%wordSize != 0 {
		return fmt.Errorf("%w: worker %d msgSize %d", ErrUnalignedPayload, w.Index, w.PayloadSize)
	}
	if w.MessageCount < 0 || w.Interval < 0 {
		return fmt.Errorf("%w: worker %d", ErrInvalidConfigValue, w.Index)
	}
	if err := checkTarget(w.ProcID); err != nil {
		return fmt.Errorf("%w: worker %d: %v", ErrInvalidConfigValue, w.Index, err)
	}
	return nil
}

// checkTarget accepts known remote processors only.
func checkTarget(id uint16) error {
	if id == transport.ProcHost {
		return fmt.Errorf("processor %d is the host, not a remote target", id)
	}
	_, err := transport.ProcName(id)
	return err
}

// FromArgs applies up to four positional arguments: thread count, total
// message count, payload size and processor id. A payload size that is not
// word aligned is reset to the default with a warning.
func (c *Config) FromArgs(args []string, log *logger.Logger) error {
	if len(args) > 4 {
		return fmt.Errorf("%w: expected at most 4 positional arguments, got %d", ErrInvalidArgs, len(args))
	}
	targets := []*int{&c.Threads, &c.TotalMessages, &c.PayloadSize}
	for i, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("%w: argument %d %q is not a number", ErrInvalidArgs, i+1, arg)
		}
		if i < len(targets) {
			*targets[i] = n
			continue
		}
		if n < 0 || n >= transport.NumProcs {
			return fmt.Errorf("%w: processor id %d", ErrInvalidArgs, n)
		}
		if err := checkTarget(uint16(n)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
		}
		c.ProcID = uint16(n)
	}
	if c.PayloadSize%wordSize != 0 {
		if log != nil {
			log.Warnf("each message payload size should be 4 bytes aligned, using %d", DefaultPayloadSize)
		}
		c.PayloadSize = DefaultPayloadSize
	}
	return nil
}

// WorkerConfigs returns the workers a run starts. In ModeSingle the total
// message count is split evenly across bidirectional workers.
func (c *Config) WorkerConfigs() []WorkerConfig {
	if c.Mode == ModePerThread {
		out := make([]WorkerConfig, len(c.Workers))
		copy(out, c.Workers)
		return out
	}
	if c.Threads <= 0 {
		return nil
	}
	perThread := c.TotalMessages / c.Threads
	out := make([]WorkerConfig, c.Threads)
	for i := range out {
		out[i] = WorkerConfig{
			Index:        i,
			Direction:    Bidirectional,
			PayloadSize:  c.PayloadSize,
			MessageCount: perThread,
			ProcID:       c.ProcID,
		}
	}
	return out
}

// TotalPayload returns the shared buffer size the workers need.
func (c *Config) TotalPayload() int {
	total := 0
	for _, w := range c.WorkerConfigs() {
		total += w.PayloadSize
	}
	return total
}
