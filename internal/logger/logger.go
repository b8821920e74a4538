/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
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

// Package logger is the leveled logger shared by every package of the benchmark.
package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level is a log verbosity level. Messages below the current level are dropped.
type Level int32

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelNoPrint
)

// EnvLogLevel overrides the default level at start-up.
const EnvLogLevel = "MSGQ_LOG_LEVEL"

var (
	level atomic.Int32

	magenta = string([]byte{27, 91, 57, 53, 109}) // Trace
	green   = string([]byte{27, 91, 57, 50, 109}) // Debug
	blue    = string([]byte{27, 91, 57, 52, 109}) // Info
	yellow  = string([]byte{27, 91, 57, 51, 109}) // Warn
	red     = string([]byte{27, 91, 57, 49, 109}) // Error
	reset   = string([]byte{27, 91, 48, 109})

	colors = []string{
		magenta,
		green,
		blue,
		yellow,
		red,
	}

	levelName = []string{
		"Trace",
		"Debug",
		"Info",
		"Warn",
		"Error",
	}
)

func init() {
	level.Store(int32(LevelWarn))
	if v := os.Getenv(EnvLogLevel); v != "" {
		if l, err := ParseLevel(v); err == nil {
			SetLevel(l)
		}
	}
}

// SetLevel changes the level of every logger. The default level is Warn.
func SetLevel(l Level) {
	if l >= LevelTrace && l <= LevelNoPrint {
		level.Store(int32(l))
	}
}

// CurrentLevel returns the active level.
func CurrentLevel() Level {
	return Level(level.Load())
}

// ParseLevel accepts either a number (0 trace .. 5 silent) or a level name.
func ParseLevel(s string) (Level, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < int(LevelTrace) || n > int(LevelNoPrint) {
			return LevelWarn, fmt.Errorf("log level %d out of range", n)
		}
		return Level(n), nil
	}
	for i, name := range levelName {
		if strings.EqualFold(name, s) {
			return Level(i), nil
		}
	}
	if strings.EqualFold(s, "none") || strings.EqualFold(s, "silent") {
		return LevelNoPrint, nil
	}
	return LevelWarn, fmt.Errorf("unknown log level %q", s)
}

// Logger writes colored, leveled lines tagged with a component name.
type Logger struct {
	name      string
	out       io.Writer
	mu        *sync.Mutex
	callDepth int
}

// New returns a logger for the named component. A nil out means os.Stdout.
func New(name string, out io.Writer) *Logger {
	if out == nil {
		out = os.Stdout
	}
	return &Logger{
		name:      name,
		out:       out,
		mu:        &sync.Mutex{},
		callDepth: 4,
	}
}

// Named returns a logger sharing l's output with a different component name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{name: name, out: l.out, mu: l.mu, callDepth: l.callDepth}
}

func (l *Logger) Errorf(format string, a ...interface{}) {
	l.printf(LevelError, format, a...)
}

func (l *Logger) Warnf(format string, a ...interface{}) {
	l.printf(LevelWarn, format, a...)
}

func (l *Logger) Infof(format string, a ...interface{}) {
	l.printf(LevelInfo, format, a...)
}

func (l *Logger) Debugf(format string, a ...interface{}) {
	l.printf(LevelDebug, format, a...)
}

func (l *Logger) Tracef(format string, a ...interface{}) {
	l.printf(LevelTrace, format, a...)
}

func (l *Logger) printf(lv Level, format string, a ...interface{}) {
	if CurrentLevel() > lv {
		return
	}
	line := l.prefix(lv) + fmt.Sprintf(format, a...) + reset + "\n"
	l.mu.Lock()
	_, err := io.WriteString(l.out, line)
	l.mu.Unlock()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger write failed: %v\n", err)
	}
}

func (l *Logger) prefix(lv Level) string {
	var buffer [64]byte
	buf := bytes.NewBuffer(buffer[:0])
	_, _ = buf.WriteString(colors[lv])
	_, _ = buf.WriteString(levelName[lv])
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(time.Now().Format("2006-01-02 15:04:05.999999"))
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(l.location())
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(l.name)
	_ = buf.WriteByte(' ')
	return buf.String()
}

func (l *Logger) location() string {
	_, file, line, ok := runtime.Caller(l.callDepth)
	if !ok {
		file = "???"
		line = 0
	}
	file = filepath.Base(file)
	return file + ":" + strconv.Itoa(line)
}
