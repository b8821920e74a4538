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

package adapter

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/heptiolabs/healthcheck"

	internalshm "github.com/srediag/msgq-zcpy/internal/shm"
)

// DefaultMaxGoroutines bounds the liveness goroutine check.
const DefaultMaxGoroutines = 1000

var (
	ErrNotReady   = errors.New("adapter: not ready")
	ErrNoShmSpace = errors.New("adapter: not enough space for the shared buffer")
)

// HealthOptions selects the checks NewHealth installs.
type HealthOptions struct {
	MaxGoroutines int
	// ShmSize and ShmDir enable the shared-memory capacity readiness check.
	ShmSize uint64
	ShmDir  string
	// Ready gates readiness; nil means always ready.
	Ready *ReadyFlag
	// Transports must all report started for readiness.
	Transports map[string]Starter
}

// Starter is anything that can say whether it is attached.
type Starter interface {
	Started() bool
}

// NewHealth builds a healthcheck handler with the selected checks.
func NewHealth(opts HealthOptions) healthcheck.Handler {
	h := healthcheck.NewHandler()
	limit := opts.MaxGoroutines
	if limit <= 0 {
		limit = DefaultMaxGoroutines
	}
	h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(limit))
	if opts.ShmSize > 0 {
		h.AddReadinessCheck("shm-capacity", ShmCapacityCheck(opts.ShmSize, opts.ShmDir))
	}
	if opts.Ready != nil {
		h.AddReadinessCheck("run", opts.Ready.Check)
	}
	for name, t := range opts.Transports {
		h.AddReadinessCheck("transport-"+name, StartedCheck(t))
	}
	return h
}

// ShmCapacityCheck fails when size bytes do not fit under dir.
func ShmCapacityCheck(size uint64, dir string) healthcheck.Check {
	if dir == "" {
		dir = internalshm.DefaultDir
	}
	probe := filepath.Join(dir, "msgq-probe")
	return func() error {
		if !internalshm.CanCreateOnDevShm(size, probe) {
			return fmt.Errorf("%w: %d bytes in %s", ErrNoShmSpace, size, dir)
		}
		return nil
	}
}

// StartedCheck fails while s is detached.
func StartedCheck(s Starter) healthcheck.Check {
	return func() error {
		if !s.Started() {
			return ErrNotReady
		}
		return nil
	}
}

// ReadyFlag is a settable readiness gate.
type ReadyFlag struct {
	ready atomic.Bool
}

func (f *ReadyFlag) Set(ready bool) { f.ready.Store(ready) }

func (f *ReadyFlag) Check() error {
	if !f.ready.Load() {
		return ErrNotReady
	}
	return nil
}
