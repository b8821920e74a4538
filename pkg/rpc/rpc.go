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

// Package rpc is a minimal remote function call service: a client names a
// service, makes buffers persistent on it and invokes functions by id.
package rpc

import (
	"errors"
	"fmt"

	"github.com/srediag/msgq-zcpy/pkg/shm"
)

// FxnID identifies a remote function.
type FxnID uint32

// FxnCompute is the function that transforms a persistent buffer in place.
const FxnCompute FxnID = 0x80000000 | 0

func (f FxnID) String() string {
	return fmt.Sprintf("fxn(0x%08x)", uint32(f))
}

var (
	ErrServiceNotFound = errors.New("rpc: service not found")
	ErrServiceExists   = errors.New("rpc: service already registered")
	ErrNotRegistered   = errors.New("rpc: buffer is not persistent on the service")
	ErrUnknownFunction = errors.New("rpc: unknown function")
	ErrClosed          = errors.New("rpc: client closed")
	ErrAddressSpace    = errors.New("rpc: service address space exhausted")
)

// Param is one function argument. Handle is zero for plain scalars and
// otherwise names a buffer the caller made persistent.
type Param struct {
	Value  uint32
	Handle shm.Handle
}

// Mapping is a persistent buffer and the address the service sees it at.
type Mapping struct {
	Buf  *shm.Buffer
	Addr uint32
}

// Call is what a function receives.
type Call struct {
	Fxn    FxnID
	Params []Param
	srv    *Server
}

// Mapping resolves the buffer referenced by parameter i.
func (c *Call) Mapping(i int) (Mapping, error) {
	if i < 0 || i >= len(c.Params) {
		return Mapping{}, fmt.Errorf("rpc: parameter %d out of range", i)
	}
	return c.srv.mapping(c.Params[i].Handle)
}

// Fxn is a function a service exposes. A negative return reports failure.
type Fxn func(call *Call) int32
