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
	"time"
)

// NodeState is the lifecycle tag of a node. It only moves forward, except
// for the SinkBound<->SourceWaiting flip during normal sample cycling.
type NodeState uint32

const (
	// StateUndefined is the zero-initialized node before any sink bound it.
	StateUndefined NodeState = iota
	// StateSinkBound means a sink owns the node and no unread sample is pending.
	StateSinkBound
	// StateSourceWaiting means a sample was published and sources may read it.
	StateSourceWaiting
	// StateEnd is terminal. No more samples will be produced.
	StateEnd
)

func (s NodeState) String() string {
	switch s {
	case StateUndefined:
		return "UNDEFINED"
	case StateSinkBound:
		return "SINK_BOUND"
	case StateSourceWaiting:
		return "SOURCE_WAITING"
	case StateEnd:
		return "END"
	}
	return "UNKNOWN"
}

// BridgePolicy decides what a bridge does with a sample when its queue is full.
type BridgePolicy uint8

const (
	// DropNewest discards the incoming sample when the queue is full.
	DropNewest BridgePolicy = iota
	// Block stalls the source-side loop until the queue has room.
	Block
)

const (
	// region name = address + regionSuffix, node lookup key = address + nodeSuffix
	regionSuffix = "_sh_mem"
	nodeSuffix   = "_sh_obj"

	// nodeHeaderLength is the byte size of the node header at region offset 0.
	// The layout is fixed and 8-byte aligned, see node.go.
	nodeHeaderLength = 64
	// sideHeaderLength is the byte size of the producer-published payload
	// shape block that follows the node header.
	sideHeaderLength = 48
	// regionSlack is extra bytes reserved past the payload region.
	regionSlack = 1024

	// pollInterval is the tick of every interruptible wait, so that a
	// shutdown flag is observed within one tick.
	pollInterval = 10 * time.Millisecond

	defaultShmDir            = "/dev/shm"
	defaultTouchRetryTimeout = 5 * time.Second
	defaultBridgeCap         = 1000
	defaultFrameQueueCap     = 128
	defaultFramesPerSecond   = 30
	defaultFourCC            = "H264"

	// linux file name max length
	fileNameMaxLen = 255
)
