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
	"fmt"
	"sync/atomic"

	syscall "golang.org/x/sys/unix"
)

// Sink is the writer endpoint of a node. It creates and exclusively owns
// the shared region; closing the sink marks the node END and removes the
// region's OS-global name.
//
// Usage: Bind once, Retrieve once, then cycle Wait -> write into the
// retrieved view -> Post. A Sink must not be shared between goroutines.
type Sink struct {
	conf    *Config
	address string
	region  *sharedRegion
	node    *node
	params  ConnectionParameters

	bound     bool
	retrieved bool
	closing   uint32
	published uint64
}

// NewSink returns an unbound sink. A nil conf uses DefaultConfig.
func NewSink(conf *Config) *Sink {
	if conf == nil {
		conf = DefaultConfig()
	}
	return &Sink{conf: conf}
}

// Bind opens-or-creates the region named `address_sh_mem`, constructs the
// node at its head and transitions it to SINK_BOUND. Binding an address a
// living sink already owns fails with ErrAddressInUse. A region left behind
// by a dead sink is reclaimed first.
func (s *Sink) Bind(address string, payloadBytes uint32) error {
	return s.BindShaped(address, ConnectionParameters{Kind: PayloadOpaque, Bytes: payloadBytes})
}

// BindShaped is Bind plus the payload shape hints published through the
// side header, so sources can size typed buffers from Connect alone.
func (s *Sink) BindShaped(address string, params ConnectionParameters) error {
	if s.bound {
		return ErrAlreadyBound
	}
	if params.Bytes == 0 {
		return fmt.Errorf("bind %s: zero payload size", address)
	}
	if err := s.ensureAddressFree(address); err != nil {
		return err
	}

	size := nodeHeaderLength + sideHeaderLength + int(params.Bytes) + regionSlack
	region, err := createSharedRegion(s.conf.ShmDir, address, size)
	if err != nil {
		return err
	}
	n, err := initNode(region, params.Bytes)
	if err != nil {
		region.unmap()
		return err
	}
	encodeSideHeader(n.sideHeader, params)

	if err := n.mutex.lock(); err != nil && err != ErrStaleNode {
		region.unmap()
		return err
	}
	atomic.StoreUint32(n.sinkPresent, 1)
	atomic.StoreUint32(n.sinkPid, uint32(syscall.Getpid()))
	n.storeState(StateSinkBound)
	n.mutex.unlock()

	s.address = address
	s.region = region
	s.node = n
	s.params = params
	s.bound = true
	internalLogger.infof("sink bound address:%s payloadBytes:%d", address, params.Bytes)
	return nil
}

// ensureAddressFree enforces the one-writer invariant. A leftover region
// with a living sink pid is a fatal bind failure; a dead pid means the
// previous owner crashed and the janitor may clear the name.
func (s *Sink) ensureAddressFree(address string) error {
	region, err := openSharedRegion(s.conf.ShmDir, address)
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		// unreadable leftovers are stale by definition
		removeRegionFile(s.conf.ShmDir, address)
		return nil
	}
	defer region.unmap()

	n, err := mapNodeFromRegion(region)
	if err != nil || !n.validMagic() {
		removeRegionFile(s.conf.ShmDir, address)
		return nil
	}
	if atomic.LoadUint32(n.sinkPresent) == 1 && processAlive(atomic.LoadUint32(n.sinkPid)) {
		return fmt.Errorf("%w: address %s held by pid %d",
			ErrAddressInUse, address, atomic.LoadUint32(n.sinkPid))
	}
	// owner is gone: release any readers still parked on the old node,
	// then clear the stale name
	n.storeState(StateEnd)
	n.readReady.broadcast()
	removeRegionFile(s.conf.ShmDir, address)
	internalLogger.warnf("sink bind reclaimed stale region address:%s", address)
	return nil
}

// Retrieve hands the writer the mutable view of the payload region. It must
// be called exactly once, after Bind. The view stays valid until Close.
func (s *Sink) Retrieve() ([]byte, error) {
	if !s.bound {
		return nil, ErrNotBound
	}
	if s.retrieved {
		return nil, fmt.Errorf("retrieve called twice on sink %s", s.address)
	}
	s.retrieved = true
	return s.node.payload, nil
}

// Wait blocks until every attached source has acknowledged the previous
// sample. With no sources attached it returns immediately. It returns
// StateEnd when the node was marked END externally.
func (s *Sink) Wait() (NodeState, error) {
	if !s.bound {
		return StateUndefined, ErrNotBound
	}
	n := s.node
	if err := s.lockOrPoison(); err != nil {
		return StateEnd, err
	}
	for !n.allSourcesAcked() {
		if n.loadState() == StateEnd || atomic.LoadUint32(&s.closing) == 1 {
			n.mutex.unlock()
			return StateEnd, nil
		}
		if err := n.writeReady.wait(n.mutex, pollInterval); err != nil && err != ErrStaleNode {
			n.mutex.unlock()
			return StateEnd, err
		}
	}
	state := n.loadState()
	n.mutex.unlock()
	if state == StateEnd {
		return StateEnd, nil
	}
	return state, nil
}

// Post publishes the current contents of the retrieved view as one new
// sample: resets the acknowledgment count, bumps the sample counter and
// wakes every parked reader. Must be paired 1:1 with Wait.
func (s *Sink) Post() error {
	if !s.bound {
		return ErrNotBound
	}
	if !s.retrieved {
		return fmt.Errorf("post before retrieve on sink %s", s.address)
	}
	n := s.node
	if err := s.lockOrPoison(); err != nil {
		return err
	}
	atomic.StoreUint32(n.ackedReads, 0)
	atomic.AddUint64(n.sampleCount, 1)
	n.storeState(StateSourceWaiting)
	n.readReady.broadcast()
	n.mutex.unlock()
	s.published++
	return nil
}

// SampleCount reports how many samples this sink has published.
func (s *Sink) SampleCount() uint64 {
	return s.published
}

// Address returns the bound address, empty before Bind.
func (s *Sink) Address() string {
	return s.address
}

// Close marks the node END, wakes all readers and drops the region. Any
// surviving source observes END from its next Wait. Close is idempotent.
func (s *Sink) Close() error {
	if !s.bound {
		return nil
	}
	atomic.StoreUint32(&s.closing, 1)
	n := s.node
	if err := n.mutex.lock(); err != nil && err != ErrStaleNode {
		return err
	}
	n.storeState(StateEnd)
	atomic.StoreUint32(n.sinkPresent, 0)
	atomic.StoreUint32(n.sinkPid, 0)
	n.readReady.broadcast()
	n.writeReady.broadcast()
	n.mutex.unlock()

	s.region.unmap()
	s.bound = false
	internalLogger.infof("sink closed address:%s samples:%d", s.address, s.published)
	return nil
}

// lockOrPoison treats a recovered stale mutex as a terminal event: the
// holder died inside a critical section, so the sample state is unknown
// and the node goes END.
func (s *Sink) lockOrPoison() error {
	err := s.node.mutex.lock()
	if err == ErrStaleNode {
		s.node.storeState(StateEnd)
		s.node.readReady.broadcast()
		s.node.mutex.unlock()
		return ErrStaleNode
	}
	return err
}
