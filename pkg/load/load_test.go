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

package load

import (
	"context"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBetween(t *testing.T) {
	a := cpu.TimesStat{User: 10, System: 5, Idle: 85}
	b := cpu.TimesStat{User: 40, System: 15, Idle: 145}
	l := between(a, b, 4)
	assert.InDelta(t, 40.0, l.Percent, 0.001)
	assert.InDelta(t, 100.0, l.Seconds, 0.001)
	assert.Equal(t, 4, l.Cores)
	assert.Contains(t, l.String(), "40.00% across 4 cores")
}

func TestBetween_NoElapsedTime(t *testing.T) {
	a := cpu.TimesStat{User: 1, Idle: 1}
	assert.Zero(t, between(a, a, 2).Percent)
}

func TestSample_EndAfterWork(t *testing.T) {
	ctx := context.Background()
	s, err := Begin(ctx)
	if err != nil {
		t.Skipf("cpu times unavailable: %v", err)
	}
	deadline := time.Now().Add(50 * time.Millisecond)
	x := 0
	for time.Now().Before(deadline) {
		x++
	}
	l, err := s.End(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, l.Percent, 0.0)
	assert.LessOrEqual(t, l.Percent, 100.0)
	assert.Positive(t, l.Cores)
}
