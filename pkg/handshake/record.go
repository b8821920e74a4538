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

package handshake

import (
	"fmt"

	"github.com/srediag/msgq-zcpy/api"
)

// Kind tells the remote side how to read a record.
type Kind uint32

const (
	// KindRun carries the parameters of a single-channel run.
	KindRun Kind = iota
	// KindCount announces how many KindThread records follow.
	KindCount
	// KindThread carries the parameters of one worker.
	KindThread
)

func (k Kind) String() string {
	switch k {
	case KindRun:
		return "run"
	case KindCount:
		return "count"
	case KindThread:
		return "thread"
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// RecordSize is the encoded size of a Record.
const RecordSize = 40

// Record is one handshake message payload.
type Record struct {
	Kind        Kind
	Index       uint32
	BufAddr     uint32
	BufSize     uint32
	Threads     uint32
	Messages    uint32
	WaitUs      uint32
	PayloadSize uint32
	ProcID      uint32
	Direction   uint32
}

// Encode writes r into the first RecordSize bytes of b.
func (r Record) Encode(b []byte) error {
	if len(b) < RecordSize {
		return fmt.Errorf("handshake: payload too short (%d bytes)", len(b))
	}
	for i, v := range r.words() {
		api.Order.PutUint32(b[i*4:], v)
	}
	return nil
}

// DecodeRecord reads a Record from the first RecordSize bytes of b.
func DecodeRecord(b []byte) (Record, error) {
	if len(b) < RecordSize {
		return Record{}, fmt.Errorf("handshake: payload too short (%d bytes)", len(b))
	}
	w := func(i int) uint32 { return api.Order.Uint32(b[i*4:]) }
	return Record{
		Kind:        Kind(w(0)),
		Index:       w(1),
		BufAddr:     w(2),
		BufSize:     w(3),
		Threads:     w(4),
		Messages:    w(5),
		WaitUs:      w(6),
		PayloadSize: w(7),
		ProcID:      w(8),
		Direction:   w(9),
	}, nil
}

func (r Record) words() [RecordSize / 4]uint32 {
	return [RecordSize / 4]uint32{
		uint32(r.Kind), r.Index, r.BufAddr, r.BufSize, r.Threads,
		r.Messages, r.WaitUs, r.PayloadSize, r.ProcID, r.Direction,
	}
}
