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
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/gopkg/util/gopool"
)

// Bridge decouples a fast upstream node from a slow downstream consumer.
// It owns an inbound Source and an outbound Sink joined by a bounded SPSC
// queue; a dedicated pump goroutine feeds the sink at the consumer's pace
// while the Process loop keeps draining the producer at full rate.
//
// The queue-full policy is fixed at construction: DropNewest discards the
// incoming sample, Block stalls Process (which pushes back through the
// node protocol to the upstream producer).
type Bridge struct {
	conf *Config
	name string

	sourceAddress string
	sinkAddress   string
	source        *Source
	sink          *Sink

	queue    *spscQueue
	popCh    chan struct{}
	policy   BridgePolicy
	sinkView []byte

	sinkRunning uint32
	pumpDone    sync.WaitGroup
	stats       stats
	connected   bool
}

// NewBridge returns an unconnected bridge between two node addresses.
func NewBridge(conf *Config, sourceAddress, sinkAddress string) *Bridge {
	if conf == nil {
		conf = DefaultConfig()
	}
	return &Bridge{
		conf:          conf,
		name:          "buffer[" + sourceAddress + "->" + sinkAddress + "]",
		sourceAddress: sourceAddress,
		sinkAddress:   sinkAddress,
		source:        NewSource(conf),
		sink:          NewSink(conf),
		queue:         newSPSCQueue(conf.BridgeCapacity),
		popCh:         make(chan struct{}, 1),
		policy:        conf.BridgePolicy,
	}
}

func (b *Bridge) Name() string { return b.name }
func (b *Bridge) Type() ComponentType { return TypeBuffer }

// ConnectToNode attaches the inbound source, propagates its payload shape
// to the outbound sink and starts the pump. Source side connects first so
// the sink never advertises a shape downstream before upstream fixed it.
func (b *Bridge) ConnectToNode() error {
	if err := b.source.Touch(b.sourceAddress); err != nil {
		return err
	}
	params, err := b.source.Connect()
	if err != nil {
		return err
	}
	if err := b.sink.BindShaped(b.sinkAddress, params); err != nil {
		return err
	}
	b.sinkView, err = b.sink.Retrieve()
	if err != nil {
		return err
	}

	atomic.StoreUint32(&b.sinkRunning, 1)
	b.pumpDone.Add(1)
	gopool.Go(b.pump)
	b.connected = true
	return nil
}

// Process pulls one sample from the inbound node and hands it to the pump
// queue. One call is one full barrier cycle on the upstream node.
func (b *Bridge) Process() (NodeState, error) {
	state, err := b.source.Wait()
	if err != nil {
		return state, err
	}
	if state == StateEnd {
		return StateEnd, nil
	}
	data, err := b.source.Clone()
	if err != nil {
		return StateEnd, err
	}
	index := b.source.SampleIndex()
	if err := b.source.Post(); err != nil {
		return StateEnd, err
	}
	b.stats.addIn(1)

	e := sample{index: index, data: data}
	for {
		if err := b.queue.push(e); err == nil {
			break
		}
		if b.policy == DropNewest {
			b.stats.addDrop(1)
			internalLogger.debugf("%s dropped sample %d, queue full", b.name, index)
			return state, nil
		}
		// Block policy: stall until the pump made room
		time.Sleep(pollInterval)
		if atomic.LoadUint32(&b.sinkRunning) == 0 {
			return StateEnd, nil
		}
	}
	select {
	case b.popCh <- struct{}{}:
	default:
	}
	return state, nil
}

// pump is the sink-side thread: it sleeps on the notify channel with a one
// tick timeout, then publishes every queued sample through the outbound
// node's own barrier.
func (b *Bridge) pump() {
	defer b.pumpDone.Done()
	timer := time.NewTimer(pollInterval)
	defer timer.Stop()
	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(pollInterval)
		select {
		case <-b.popCh:
		case <-timer.C:
		}

		for !b.queue.isEmpty() {
			if err := b.pop(); err != nil {
				internalLogger.warnf("%s pump stops:%s", b.name, err.Error())
				return
			}
		}
		if atomic.LoadUint32(&b.sinkRunning) == 0 && b.queue.isEmpty() {
			return
		}
	}
}

// pop publishes the queue front to the outbound sink.
func (b *Bridge) pop() error {
	state, err := b.sink.Wait()
	if err != nil {
		return err
	}
	if state == StateEnd {
		return ErrEndOfStream
	}
	e, err := b.queue.pop()
	if err != nil {
		return nil
	}
	copy(b.sinkView, e.data)
	if err := b.sink.Post(); err != nil {
		return err
	}
	b.stats.addOut(1)
	return nil
}

// Stop interrupts an in-flight Process blocked on the inbound node so the
// caller's loop observes shutdown within one tick. Pair with Close.
func (b *Bridge) Stop() {
	b.source.stop()
}

// Metrics reports the bridge's sample flow so far.
func (b *Bridge) Metrics() FlowMetrics {
	return b.stats.snapshot()
}

// Close drains what the pump can still publish, then drops the outbound
// sink so its node goes END, then detaches from the inbound node.
func (b *Bridge) Close() error {
	if !b.connected {
		return nil
	}
	atomic.StoreUint32(&b.sinkRunning, 0)
	select {
	case b.popCh <- struct{}{}:
	default:
	}
	b.pumpDone.Wait()

	err := b.sink.Close()
	if serr := b.source.Close(); err == nil {
		err = serr
	}
	b.connected = false
	emitMetrics(b.conf.Monitor, &b.stats)
	return err
}
