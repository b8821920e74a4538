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

package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// validKeys maps each configuration key to the bit size of its value.
var validKeys = map[string]int{
	"direction": 32,
	"msgSize":   31,
	"msgCount":  31,
	"interval":  31,
	"procID":    16,
}

// ParseFile reads a per-thread configuration file into c and switches c to
// ModePerThread.
func (c *Config) ParseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: couldn't open %s: %w", path, err)
	}
	defer f.Close()
	workers, err := Parse(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	c.Mode = ModePerThread
	c.ConfigFile = path
	c.Workers = workers
	return nil
}

// Parse reads one worker per line:
//
//	#Thread 1
//	direction=0, msgSize=6400, msgCount=400, interval=2500, procID=1
//
// Blank lines and lines starting with '#' are skipped. interval is in
// microseconds.
func Parse(r io.Reader) ([]WorkerConfig, error) {
	var workers []WorkerConfig
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if len(workers) == MaxWorkers {
			return nil, fmt.Errorf("%w: more than %d lines", ErrTooManyWorkers, MaxWorkers)
		}
		w, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		w.Index = len(workers)
		workers = append(workers, w)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return workers, nil
}

func parseLine(line string) (WorkerConfig, error) {
	var w WorkerConfig
	fields := strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	for _, field := range fields {
		key, value, ok := strings.Cut(field, "=")
		bits, valid := validKeys[key]
		if !valid {
			return w, fmt.Errorf("%w: %q", ErrInvalidConfigKey, key)
		}
		if !ok {
			return w, fmt.Errorf("%w: %s has no value", ErrInvalidConfigValue, key)
		}
		u, err := strconv.ParseUint(value, 10, bits)
		if err != nil {
			return w, fmt.Errorf("%w: %s=%q", ErrInvalidConfigValue, key, value)
		}
		n := int(u)
		switch key {
		case "direction":
			w.Direction = Direction(n)
		case "msgSize":
			w.PayloadSize = n
		case "msgCount":
			w.MessageCount = n
		case "interval":
			w.Interval = time.Duration(n) * time.Microsecond
		case "procID":
			w.ProcID = uint16(n)
		}
	}
	if err := verifyWorker(w); err != nil {
		return w, err
	}
	return w, nil
}
