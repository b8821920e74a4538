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

package msgq

import (
	"sync/atomic"

	"github.com/valyala/bytebufferpool"

	"github.com/srediag/msgq-zcpy/api"
)

// Heap hands out messages whose payloads are recycled through a byte buffer pool.
type Heap struct {
	pool  bytebufferpool.Pool
	inUse atomic.Int64
}

// Alloc returns a message with a zeroed payload of size bytes.
func (h *Heap) Alloc(size int) *api.Message {
	bb := h.pool.Get()
	if cap(bb.B) < size {
		bb.B = make([]byte, size)
	} else {
		bb.B = bb.B[:size]
		clear(bb.B)
	}
	h.inUse.Add(1)
	return &api.Message{Payload: bb}
}

// Free returns msg's payload to the pool. Freeing nil is a no-op.
func (h *Heap) Free(msg *api.Message) {
	if msg == nil || msg.Payload == nil {
		return
	}
	h.pool.Put(msg.Payload)
	msg.Payload = nil
	h.inUse.Add(-1)
}

// InUse returns the number of messages allocated and not yet freed.
func (h *Heap) InUse() int64 {
	return h.inUse.Load()
}
