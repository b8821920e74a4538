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
	"sync"

	"github.com/srediag/msgq-zcpy/api"
	"github.com/srediag/msgq-zcpy/pkg/shm"
)

// Client is a connection to one service.
type Client struct {
	srv *Server

	mu     sync.Mutex
	used   map[shm.Handle]struct{}
	closed bool
}

// Create connects to the named service.
func Create(ctx context.Context, reg *Registry, name string) (*Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, api.NewOpError("MmRpc_create", api.StatusUnblocked, err)
	}
	srv, ok := reg.Lookup(name)
	if !ok {
		return nil, api.NewOpError("MmRpc_create", api.StatusNotFound, fmt.Errorf("%w: %s", ErrServiceNotFound, name))
	}
	return &Client{srv: srv, used: make(map[shm.Handle]struct{})}, nil
}

// Use makes bufs persistent on the service and returns their service-side
// addresses in the same order.
func (c *Client) Use(bufs ...*shm.Buffer) ([]uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, api.NewOpError("MmRpc_use", api.StatusInvalidState, ErrClosed)
	}
	addrs := make([]uint32, 0, len(bufs))
	for _, b := range bufs {
		m, err := c.srv.use(b)
		if err != nil {
			return nil, api.NewOpError("MmRpc_use", api.StatusMemory, err)
		}
		c.used[b.Handle()] = struct{}{}
		addrs = append(addrs, m.Addr)
	}
	return addrs, nil
}

// Release ends the persistence of bufs.
func (c *Client) Release(bufs ...*shm.Buffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range bufs {
		h := b.Handle()
		if _, ok := c.used[h]; !ok {
			return api.NewOpError("MmRpc_release", api.StatusInvalidArg, fmt.Errorf("%w: handle %d", ErrNotRegistered, h))
		}
		delete(c.used, h)
		c.srv.release(h)
	}
	return nil
}

// Call invokes fxn and returns its status.
func (c *Client) Call(ctx context.Context, fxn FxnID, params ...Param) (int32, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return -1, api.NewOpError("MmRpc_call", api.StatusInvalidState, ErrClosed)
	}
	ret, err := c.srv.invoke(ctx, fxn, params)
	if err != nil {
		return ret, api.NewOpError("MmRpc_call", api.StatusFail, err)
	}
	return ret, nil
}

// Close releases every buffer still persistent through c. Closing twice is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for h := range c.used {
		c.srv.release(h)
	}
	c.used = nil
	return nil
}
