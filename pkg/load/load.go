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

// Package load samples host CPU utilisation across the data phase of a run.
package load

import (
	"context"
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
)

// ErrNoSample is returned when the system reports no CPU times.
var ErrNoSample = errors.New("load: no cpu times available")

// Sample is a snapshot of the aggregate CPU times taken by Begin.
type Sample struct {
	start cpu.TimesStat
	cores int
}

// Load is the CPU utilisation between two snapshots.
type Load struct {
	// Percent is the busy share of all cores, 0 to 100.
	Percent float64
	// Cores is the logical CPU count.
	Cores int
	// Seconds is the wall-clock CPU time covered, summed over cores.
	Seconds float64
}

func (l Load) String() string {
	return fmt.Sprintf("CPU load during the run: %.2f%% across %d cores", l.Percent, l.Cores)
}

// Begin snapshots the aggregate CPU times.
func Begin(ctx context.Context) (*Sample, error) {
	t, err := times(ctx)
	if err != nil {
		return nil, err
	}
	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil || cores <= 0 {
		cores = 1
	}
	return &Sample{start: t, cores: cores}, nil
}

// End snapshots the CPU times again and returns the load since Begin.
func (s *Sample) End(ctx context.Context) (Load, error) {
	t, err := times(ctx)
	if err != nil {
		return Load{}, err
	}
	return between(s.start, t, s.cores), nil
}

func between(a, b cpu.TimesStat, cores int) Load {
	total := total(b) - total(a)
	idle := (b.Idle + b.Iowait) - (a.Idle + a.Iowait)
	l := Load{Cores: cores, Seconds: total}
	if total <= 0 {
		return l
	}
	busy := total - idle
	if busy < 0 {
		busy = 0
	}
	l.Percent = busy / total * 100
	if l.Percent > 100 {
		l.Percent = 100
	}
	return l
}

// total leaves guest time out; the kernel already counts it in user.
func total(t cpu.TimesStat) float64 {
	return t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq +
		t.Softirq + t.Steal
}

func times(ctx context.Context) (cpu.TimesStat, error) {
	ts, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return cpu.TimesStat{}, fmt.Errorf("load: %w", err)
	}
	if len(ts) == 0 {
		return cpu.TimesStat{}, ErrNoSample
	}
	return ts[0], nil
}
