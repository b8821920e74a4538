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

package rpc

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/srediag/msgq-zcpy/pkg/shm"
)

const (
	// DefaultRemoteBase is where the first persistent buffer is mapped.
	DefaultRemoteBase uint32 = 0xA0000000
	pageSize          uint32 = 4096
	addressSpace      uint64 = 1 << 32
)

// Registry is the set of services clients can connect to.
type Registry struct {
	services cmap.ConcurrentMap[string, *Server]
}

func NewRegistry() *Registry {
	return &Registry{services: cmap.New[*Server]()}
}

// Register publishes s under its name.
func (r *Registry) Register(s *Server) error {
	if !r.services.SetIfAbsent(s.name, s) {
		return fmt.Errorf("%w: %s", ErrServiceExists, s.name)
	}
	return nil
}

// Unregister withdraws the named service.
func (r *Registry) Unregister(name string) {
	r.services.Remove(name)
}

// Lookup finds a service by name.
func (r *Registry) Lookup(name string) (*Server, bool) {
	return r.services.Get(name)
}

// Server executes functions on behalf of clients and keeps the table of
// persistent buffers with their service-side addresses.
type Server struct {
	name   string
	fxns   map[FxnID]Fxn
	mapped cmap.ConcurrentMap[string, Mapping]

	mu   sync.Mutex
	next uint64
}

// NewServer creates a service whose buffers are mapped from base upward.
func NewServer(name string, base uint32) *Server {
	if base == 0 {
		base = DefaultRemoteBase
	}
	return &Server{
		name:   name,
		fxns:   make(map[FxnID]Fxn),
		mapped: cmap.New[Mapping](),
		next:   uint64(base),
	}
}

func (s *Server) Name() string { return s.name }

// Handle adds a function. It must be called before the server is registered.
func (s *Server) Handle(id FxnID, fn Fxn) {
	s.fxns[id] = fn
}

// Resolve returns the view of a persistent buffer covering the service-side
// range [addr, addr+size).
func (s *Server) Resolve(addr uint32, size int) (*shm.View, error) {
	for _, m := range s.mapped.Items() {
		if addr >= m.Addr && uint64(addr)+uint64(size) <= uint64(m.Addr)+uint64(m.Buf.Size()) {
			return m.Buf.Slice(int(addr-m.Addr), size)
		}
	}
	return nil, fmt.Errorf("%w: no buffer maps 0x%08x+%d", ErrNotRegistered, addr, size)
}

// Persistent returns the number of persistent buffers.
func (s *Server) Persistent() int { return s.mapped.Count() }

func (s *Server) use(buf *shm.Buffer) (Mapping, error) {
	key := handleKey(buf.Handle())
	if m, ok := s.mapped.Get(key); ok {
		return m, nil
	}
	span := (uint64(buf.Size()) + uint64(pageSize) - 1) &^ uint64(pageSize-1)
	s.mu.Lock()
	if s.next+span > addressSpace {
		next := s.next
		s.mu.Unlock()
		return Mapping{}, fmt.Errorf("%w: %d bytes at 0x%x", ErrAddressSpace, buf.Size(), next)
	}
	m := Mapping{Buf: buf, Addr: uint32(s.next)}
	s.next += span
	s.mu.Unlock()
	if !s.mapped.SetIfAbsent(key, m) {
		m, _ = s.mapped.Get(key)
	}
	return m, nil
}

func (s *Server) release(h shm.Handle) bool {
	_, ok := s.mapped.Pop(handleKey(h))
	return ok
}

func (s *Server) mapping(h shm.Handle) (Mapping, error) {
	m, ok := s.mapped.Get(handleKey(h))
	if !ok {
		return Mapping{}, fmt.Errorf("%w: handle %d", ErrNotRegistered, h)
	}
	return m, nil
}

func (s *Server) invoke(ctx context.Context, id FxnID, params []Param) (int32, error) {
	fn, ok := s.fxns[id]
	if !ok {
		return -1, fmt.Errorf("%w: %v on %s", ErrUnknownFunction, id, s.name)
	}
	for i, p := range params {
		if p.Handle == 0 {
			continue
		}
		if _, err := s.mapping(p.Handle); err != nil {
			return -1, fmt.Errorf("parameter %d: %w", i, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	return fn(&Call{Fxn: id, Params: params, srv: s}), nil
}

func handleKey(h shm.Handle) string {
	return strconv.FormatUint(uint64(h), 10)
}
