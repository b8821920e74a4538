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

package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

type LoggerTestSuite struct {
	suite.Suite
	saved Level
}

func (s *LoggerTestSuite) SetupTest() {
	s.saved = CurrentLevel()
}

func (s *LoggerTestSuite) TearDownTest() {
	SetLevel(s.saved)
}

func (s *LoggerTestSuite) TestLogColor() {
	var out bytes.Buffer
	l := New("test", &out)
	SetLevel(LevelTrace)

	l.Tracef("this is tracef %s", "hello world")
	l.Debugf("this is debugf %s", "hello world")
	l.Infof("this is infof %s", "hello world")
	l.Warnf("this is warnf %s", "hello world")
	l.Errorf("this is errorf %s", "hello world")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	s.Require().Len(lines, 5)
	for i, name := range []string{"Trace", "Debug", "Info", "Warn", "Error"} {
		s.True(strings.HasPrefix(lines[i], colors[i]+name+" "), lines[i])
		s.Contains(lines[i], "logger_test.go:")
		s.Contains(lines[i], " test ")
		s.True(strings.HasSuffix(lines[i], reset))
	}
}

func (s *LoggerTestSuite) TestLevelFilters() {
	var out bytes.Buffer
	l := New("test", &out)
	SetLevel(LevelWarn)
	l.Infof("dropped")
	l.Debugf("dropped")
	l.Warnf("kept")
	s.Equal(1, strings.Count(out.String(), "\n"))
	s.NotContains(out.String(), "dropped")

	SetLevel(LevelNoPrint)
	l.Errorf("silent")
	s.NotContains(out.String(), "silent")

	SetLevel(Level(42))
	s.Equal(LevelNoPrint, CurrentLevel())
}

func (s *LoggerTestSuite) TestNamedSharesOutput() {
	var out bytes.Buffer
	SetLevel(LevelInfo)
	New("parent", &out).Named("child").Infof("hi")
	s.Contains(out.String(), " child hi")
}

func (s *LoggerTestSuite) TestParseLevel() {
	for in, want := range map[string]Level{
		"0": LevelTrace, "debug": LevelDebug, "INFO": LevelInfo,
		"warn": LevelWarn, "Error": LevelError, "none": LevelNoPrint, "5": LevelNoPrint,
	} {
		got, err := ParseLevel(in)
		s.NoError(err, in)
		s.Equal(want, got, in)
	}
	_, err := ParseLevel("9")
	s.Error(err)
	_, err = ParseLevel("loud")
	s.Error(err)
}

func TestLoggerTestSuite(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}
