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
)

// Monitor receives a component's flow metrics once, when the component closes.
type Monitor interface {
	// OnEmitFlowMetrics was called by a component when it stops.
	OnEmitFlowMetrics(FlowMetrics)
	// flush metrics
	Flush() error
}

//FlowMetrics is the per-component sample flow accounting
type FlowMetrics struct {
	SamplesIn      uint64 //samples pulled from inbound sources
	SamplesOut     uint64 //samples published to outbound sinks
	SamplesDropped uint64 //samples discarded by a full queue (DropNewest only)
	WriteErrors    uint64 //failed artifact writes, isolated per stream
}

type stats struct {
	samplesIn      uint64
	samplesOut     uint64
	samplesDropped uint64
	writeErrors    uint64
}

func (s *stats) addIn(n uint64) { atomic.AddUint64(&s.samplesIn, n) }
func (s *stats) addOut(n uint64) { atomic.AddUint64(&s.samplesOut, n) }
func (s *stats) addDrop(n uint64) { atomic.AddUint64(&s.samplesDropped, n) }
func (s *stats) addWErr(n uint64) { atomic.AddUint64(&s.writeErrors, n) }

func (s *stats) snapshot() FlowMetrics {
	return FlowMetrics{
		SamplesIn:      atomic.LoadUint64(&s.samplesIn),
		SamplesOut:     atomic.LoadUint64(&s.samplesOut),
		SamplesDropped: atomic.LoadUint64(&s.samplesDropped),
		WriteErrors:    atomic.LoadUint64(&s.writeErrors),
	}
}

func emitMetrics(m Monitor, s *stats) {
	if m == nil {
		return
	}
	m.OnEmitFlowMetrics(s.snapshot())
	if err := m.Flush(); err != nil {
		internalLogger.warnf("monitor flush error:%s", err.Error())
	}
}
