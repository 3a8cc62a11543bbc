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

// sample is one owned copy of a published payload, carried between threads
// of the same process by an spscQueue.
type sample struct {
	index uint64
	data  []byte
}

// spscQueue is a bounded FIFO for exactly one producer goroutine and one
// consumer goroutine. head moves on pop, tail on push; both are monotonic,
// so size is always tail-head and no index ever wraps ambiguously. The
// single-writer-per-field rule makes plain atomics sufficient, no lock.
// The one-producer/one-consumer requirement is enforced by construction.
type spscQueue struct {
	head     int64 // consumer writes, producer reads
	tail     int64 // producer writes, consumer reads
	cap      int64
	elements []sample
}

func newSPSCQueue(cap int) *spscQueue {
	return &spscQueue{
		cap:      int64(cap),
		elements: make([]sample, cap),
	}
}

func (q *spscQueue) size() int64 {
	return atomic.LoadInt64(&q.tail) - atomic.LoadInt64(&q.head)
}

func (q *spscQueue) isEmpty() bool {
	return q.size() == 0
}

func (q *spscQueue) isFull() bool {
	return q.size() == q.cap
}

// push appends one sample. The element is written before the tail is
// published, so a consumer that observes the new tail also observes the
// element.
func (q *spscQueue) push(e sample) error {
	tail := atomic.LoadInt64(&q.tail)
	if tail-atomic.LoadInt64(&q.head) >= q.cap {
		return ErrQueueFull
	}
	q.elements[tail%q.cap] = e
	atomic.AddInt64(&q.tail, 1)
	return nil
}

// front returns the oldest sample without consuming it.
func (q *spscQueue) front() (sample, error) {
	head := atomic.LoadInt64(&q.head)
	if head >= atomic.LoadInt64(&q.tail) {
		return sample{}, errQueueEmpty
	}
	return q.elements[head%q.cap], nil
}

// pop consumes the oldest sample.
func (q *spscQueue) pop() (sample, error) {
	head := atomic.LoadInt64(&q.head)
	if head >= atomic.LoadInt64(&q.tail) {
		return sample{}, errQueueEmpty
	}
	e := q.elements[head%q.cap]
	q.elements[head%q.cap] = sample{} // drop the reference so the bytes can be collected
	atomic.AddInt64(&q.head, 1)
	return e, nil
}
