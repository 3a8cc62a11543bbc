/*
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

package shmdf

import (
	"sync/atomic"
	"unsafe"
)

// nodeMagic identifies a region whose header this version understands.
const nodeMagic uint32 = 0x5df01001

// node header layout, little-endian, 8-byte aligned, 64 bytes total:
//
//	[0..4)   magic
//	[4..8)   state
//	[8..16)  mutex (futex word + owner pid)
//	[16..20) writeReady condvar sequence
//	[20..24) readReady condvar sequence
//	[24..28) sinkPresent flag, cleared only by the owning sink's close
//	[28..32) sourceRefCount
//	[32..36) acknowledgedReads
//	[36..40) payloadBytes
//	[40..48) sampleCount
//	[48..52) sinkPid
//	[52..64) reserved
//
// Every field except the condvar sequences and the mutex word itself is
// mutated only while holding the mutex, apart from the magic and payload
// size written by initNode and the END state a bind stores on a stale node
// it reclaims. Reads outside the mutex go through
// atomics so torn values are never observed.
type node struct {
	mutex      sharedMutex
	writeReady sharedCond
	readReady  sharedCond

	magic        *uint32
	state        *uint32
	sinkPresent  *uint32
	sourceRefs   *uint32
	ackedReads   *uint32
	payloadBytes *uint32
	sampleCount  *uint64
	sinkPid      *uint32

	sideHeader []byte
	payload    []byte
}

func mapUint32(data []byte, off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&data[off]))
}

func mapUint64(data []byte, off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&data[off]))
}

// mapNodeFromRegion interprets the region bytes as a node. It never writes;
// construction happens once in initNode on the sink side.
func mapNodeFromRegion(r *sharedRegion) (*node, error) {
	data := r.mem
	n := &node{
		mutex:        mapSharedMutex(data[8:16]),
		writeReady:   mapSharedCond(data[16:20]),
		readReady:    mapSharedCond(data[20:24]),
		magic:        mapUint32(data, 0),
		state:        mapUint32(data, 4),
		sinkPresent:  mapUint32(data, 24),
		sourceRefs:   mapUint32(data, 28),
		ackedReads:   mapUint32(data, 32),
		payloadBytes: mapUint32(data, 36),
		sampleCount:  mapUint64(data, 40),
		sinkPid:      mapUint32(data, 48),
	}
	n.sideHeader = data[nodeHeaderLength : nodeHeaderLength+sideHeaderLength]
	payloadEnd := nodeHeaderLength + sideHeaderLength + int(atomic.LoadUint32(n.payloadBytes))
	if payloadEnd > len(data) {
		return nil, ErrNodeCorrupt
	}
	n.payload = data[nodeHeaderLength+sideHeaderLength : payloadEnd]
	return n, nil
}

// initNode zero-constructs the node inside a freshly created region and
// publishes the payload size. Counts stay 0 and state stays UNDEFINED; the
// sink flips it to SINK_BOUND once fully bound.
func initNode(r *sharedRegion, payloadBytes uint32) (*node, error) {
	atomic.StoreUint32(mapUint32(r.mem, 36), payloadBytes)
	n, err := mapNodeFromRegion(r)
	if err != nil {
		return nil, err
	}
	atomic.StoreUint32(n.magic, nodeMagic)
	return n, nil
}

func (n *node) loadState() NodeState {
	return NodeState(atomic.LoadUint32(n.state))
}

func (n *node) storeState(s NodeState) {
	atomic.StoreUint32(n.state, uint32(s))
}

func (n *node) loadSampleCount() uint64 {
	return atomic.LoadUint64(n.sampleCount)
}

func (n *node) validMagic() bool {
	return atomic.LoadUint32(n.magic) == nodeMagic
}

// allSourcesAcked is the writer's wakeup condition, evaluated under mutex.
func (n *node) allSourcesAcked() bool {
	return atomic.LoadUint32(n.ackedReads) == atomic.LoadUint32(n.sourceRefs)
}
