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

// Package transport holds the processor table and the queue naming scheme
// shared by the host and the remote side.
package transport

import (
	"fmt"
	"strconv"
)

// Processor ids in MultiProc order.
const (
	ProcHost uint16 = iota
	ProcIPU2
	ProcIPU1
	ProcDSP2
	ProcDSP1
)

var procNames = []string{"HOST", "IPU2", "IPU1", "DSP2", "DSP1"}

// NumProcs is the number of known processors.
var NumProcs = len(procNames)

// ProcName returns the MultiProc name of id.
func ProcName(id uint16) (string, error) {
	if int(id) >= len(procNames) {
		return "", fmt.Errorf("unknown processor id %d", id)
	}
	return procNames[id], nil
}

// ProcID resolves a MultiProc name.
func ProcID(name string) (uint16, error) {
	for i, n := range procNames {
		if n == name {
			return uint16(i), nil
		}
	}
	return 0, fmt.Errorf("unknown processor %q", name)
}

// Handshake queues.
const (
	HostHandshakeQueue      = "HOST"
	PerThreadHandshakeQueue = "A15_RECEIVER_HANDSHAKE"
)

// RemoteHandshakeQueue is the queue the remote processor listens on for
// handshake records.
func RemoteHandshakeQueue(procName string) string {
	return "SLAVE_" + procName
}

// HostQueue is the host side of bidirectional worker i.
func HostQueue(i int) string { return "HOST_" + strconv.Itoa(i) }

// RemoteQueue is the remote side of bidirectional worker i.
func RemoteQueue(i int) string { return "SLAVE_" + strconv.Itoa(i) }

// HostRecvQueue is the queue a receive-only host worker i creates.
func HostRecvQueue(i int) string { return "A15_RECV_MQ_" + strconv.Itoa(i) }

// RemoteRecvQueue is the queue a send-only host worker i sends to.
func RemoteRecvQueue(i int) string { return "M4_RECV_MQ_" + strconv.Itoa(i) }

// RPCServiceName is the name the remote compute service registers under.
func RPCServiceName(procID uint16) string {
	return "rpc_example_" + strconv.Itoa(int(procID))
}
