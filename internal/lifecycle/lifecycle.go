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

// Package lifecycle tears a run down in the reverse order it was built up.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"

	"github.com/srediag/msgq-zcpy/internal/logger"
)

// Stack is a LIFO list of named release functions. Each resource acquired
// during setup pushes its release; Close runs them newest first.
type Stack struct {
	mu     sync.Mutex
	steps  []step
	closed bool
	log    *logger.Logger
}

type step struct {
	name    string
	release func() error
}

// NewStack returns an empty stack. A nil log disables step tracing.
func NewStack(log *logger.Logger) *Stack {
	return &Stack{log: log}
}

// Push registers release under name. Pushing onto a closed stack runs
// release immediately.
func (s *Stack) Push(name string, release func() error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.run(step{name, release})
	}
	s.steps = append(s.steps, step{name, release})
	s.mu.Unlock()
	return nil
}

// Len returns the number of pending releases.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

// Close runs every pending release, newest first, and joins their errors.
// A failing release does not stop the ones below it. Close is idempotent.
func (s *Stack) Close() error {
	s.mu.Lock()
	steps := s.steps
	s.steps = nil
	s.closed = true
	s.mu.Unlock()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		if err := s.run(steps[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Stack) run(st step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("release %s: panic: %v", st.name, r)
		}
		if s.log != nil {
			if err != nil {
				s.log.Warnf("release %s failed: %v", st.name, err)
			} else {
				s.log.Debugf("released %s", st.name)
			}
		}
	}()
	if err = st.release(); err != nil {
		err = fmt.Errorf("release %s: %w", st.name, err)
	}
	return err
}
