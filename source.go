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
	"time"

	"github.com/bytedance/gopkg/lang/dirtmake"
)

// Source is a reader endpoint. It attaches to a node some sink created,
// without ownership: its Close only detaches. Many sources, in many
// processes, may attach to one node.
//
// Usage: Touch, Connect, then cycle Wait -> CopyTo/Clone -> Post. The
// payload view is only valid between Wait returning and the matching Post.
type Source struct {
	conf    *Config
	address string
	region  *sharedRegion
	node    *node

	lastSeen uint64
	attached bool
	posted   bool
	closing  uint32
}

// NewSource returns a detached source. A nil conf uses DefaultConfig.
func NewSource(conf *Config) *Source {
	if conf == nil {
		conf = DefaultConfig()
	}
	return &Source{conf: conf}
}

// Touch attaches to the region named `address_sh_mem` and registers this
// source in the node's reference count. When no region exists yet it
// retries silently every tick until the configured deadline, then gives up
// with ErrNotFound.
func (c *Source) Touch(address string) error {
	if c.attached {
		return fmt.Errorf("source already attached to %s", c.address)
	}
	deadline := time.Now().Add(c.conf.TouchRetryTimeout)
	var region *sharedRegion
	var n *node
	for {
		var err error
		region, err = openSharedRegion(c.conf.ShmDir, address)
		if err == nil {
			n, err = mapNodeFromRegion(region)
			if err == nil && n.validMagic() {
				break
			}
			// the sink created the file but hasn't finished constructing
			// the node yet; keep retrying like the region wasn't there
			region.unmap()
			if err == nil {
				err = ErrNodeCorrupt
			}
		}
		if err != ErrNotFound && err != ErrNodeCorrupt {
			return err
		}
		if time.Now().After(deadline) || atomic.LoadUint32(&c.closing) == 1 {
			return err
		}
		time.Sleep(pollInterval)
	}

	// registering bumps both counters under mutex: the current sample
	// count becomes our last-seen mark (we join at the next produced
	// sample, never the current one), and we count as having released the
	// current cycle we will never read, so the producer's wakeup condition
	// acked == refs is preserved across the attach
	if err := n.mutex.lock(); err != nil && err != ErrStaleNode {
		region.unmap()
		return err
	}
	atomic.AddUint32(n.sourceRefs, 1)
	atomic.AddUint32(n.ackedReads, 1)
	c.lastSeen = n.loadSampleCount()
	c.posted = true
	n.mutex.unlock()

	c.address = address
	c.region = region
	c.node = n
	c.attached = true
	internalLogger.infof("source touched address:%s refs:%d", address, atomic.LoadUint32(n.sourceRefs))
	return nil
}

// Connect blocks until a sink has bound the node, then returns the payload
// metadata the sink published. It never returns successfully without a sink
// being present; a node that goes END first yields ErrEndOfStream.
func (c *Source) Connect() (ConnectionParameters, error) {
	if !c.attached {
		return ConnectionParameters{}, ErrNotConnected
	}
	n := c.node
	if err := n.mutex.lock(); err != nil && err != ErrStaleNode {
		return ConnectionParameters{}, err
	}
	for {
		switch n.loadState() {
		case StateSinkBound, StateSourceWaiting:
			n.mutex.unlock()
			return decodeSideHeader(n.sideHeader), nil
		case StateEnd:
			n.mutex.unlock()
			return ConnectionParameters{}, ErrEndOfStream
		}
		if atomic.LoadUint32(&c.closing) == 1 {
			n.mutex.unlock()
			return ConnectionParameters{}, ErrEndOfStream
		}
		if err := n.readReady.wait(n.mutex, pollInterval); err != nil && err != ErrStaleNode {
			n.mutex.unlock()
			return ConnectionParameters{}, err
		}
	}
}

// Parameters re-reads the side header of a connected source.
func (c *Source) Parameters() ConnectionParameters {
	if !c.attached {
		return ConnectionParameters{}
	}
	return decodeSideHeader(c.node.sideHeader)
}

// Wait blocks for the next unseen sample and enters the read critical
// section. It returns StateEnd when the node is terminal; any other return
// means a fresh sample is readable until Post.
func (c *Source) Wait() (NodeState, error) {
	if !c.attached {
		return StateUndefined, ErrNotConnected
	}
	n := c.node
	if err := n.mutex.lock(); err != nil && err != ErrStaleNode {
		return StateEnd, err
	}
	for n.loadSampleCount() == c.lastSeen {
		if n.loadState() == StateEnd || atomic.LoadUint32(&c.closing) == 1 {
			n.mutex.unlock()
			return StateEnd, nil
		}
		if err := n.readReady.wait(n.mutex, pollInterval); err != nil && err != ErrStaleNode {
			n.mutex.unlock()
			return StateEnd, err
		}
	}
	c.lastSeen = n.loadSampleCount()
	c.posted = false
	n.mutex.unlock()
	return StateSourceWaiting, nil
}

// stop makes any in-flight or future Wait return StateEnd within one
// tick, without detaching. Cooperative shutdown hook for coordinators
// whose tick loop sits in Wait; Close still performs the detach.
func (c *Source) stop() {
	atomic.StoreUint32(&c.closing, 1)
}

// SampleIndex is the index of the sample currently held, valid between
// Wait and Post.
func (c *Source) SampleIndex() uint64 {
	if c.lastSeen == 0 {
		return 0
	}
	return c.lastSeen - 1
}

// view returns the read-only payload slice. Kept unexported: callers go
// through CopyTo/Clone so no reference survives past Post.
func (c *Source) view() []byte {
	return c.node.payload
}

// CopyTo copies the payload out of the shared region into dst. Must be
// called while still in the post-Wait critical section.
func (c *Source) CopyTo(dst []byte) (int, error) {
	if !c.attached {
		return 0, ErrNotConnected
	}
	if len(dst) < len(c.node.payload) {
		return 0, fmt.Errorf("%w: need %d bytes, dst has %d",
			ErrPayloadTooLarge, len(c.node.payload), len(dst))
	}
	return copy(dst, c.node.payload), nil
}

// Clone copies the payload into a freshly allocated buffer.
func (c *Source) Clone() ([]byte, error) {
	if !c.attached {
		return nil, ErrNotConnected
	}
	dst := dirtmake.Bytes(len(c.node.payload), len(c.node.payload))
	copy(dst, c.node.payload)
	return dst, nil
}

// Post releases the current sample. Once every attached source has posted,
// the producer's Wait wakes and the payload becomes writable again.
func (c *Source) Post() error {
	if !c.attached {
		return ErrNotConnected
	}
	n := c.node
	if err := n.mutex.lock(); err != nil && err != ErrStaleNode {
		return err
	}
	if !c.posted {
		c.posted = true
		atomic.AddUint32(n.ackedReads, 1)
		if n.allSourcesAcked() {
			n.writeReady.signal()
		}
	}
	n.mutex.unlock()
	return nil
}

// Close detaches from the node: the reference count drops and, if this
// source had already posted for the current cycle, so does the
// acknowledgment count. The producer is woken either way so its wakeup
// condition is re-evaluated within one tick.
func (c *Source) Close() error {
	if !c.attached {
		return nil
	}
	atomic.StoreUint32(&c.closing, 1)
	n := c.node
	if err := n.mutex.lock(); err != nil && err != ErrStaleNode {
		return err
	}
	if atomic.LoadUint32(n.sourceRefs) > 0 {
		atomic.AddUint32(n.sourceRefs, ^uint32(0))
	}
	if c.posted && c.lastSeen == n.loadSampleCount() && atomic.LoadUint32(n.ackedReads) > 0 {
		atomic.AddUint32(n.ackedReads, ^uint32(0))
	}
	n.writeReady.signal()
	n.mutex.unlock()

	c.region.unmap()
	c.attached = false
	internalLogger.infof("source detached address:%s", c.address)
	return nil
}
