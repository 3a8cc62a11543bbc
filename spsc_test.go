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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSPSCQueueOperate(t *testing.T) {
	const cap = 128
	q := newSPSCQueue(cap)

	assert.Equal(t, true, q.isEmpty(), "queue should be empty")
	assert.Equal(t, false, q.isFull(), "queue is not full")
	assert.Equal(t, int64(0), q.size(), "queue size should be 0")

	for i := 0; i < cap; i++ {
		err := q.push(sample{index: uint64(i)})
		assert.Equal(t, nil, err)
	}
	err := q.push(sample{index: 1})
	assert.Equal(t, ErrQueueFull, err)
	assert.Equal(t, true, q.isFull(), "queue should be full")
	assert.Equal(t, int64(cap), q.size(), "queue size")

	front, err := q.front()
	assert.Equal(t, nil, err)
	assert.Equal(t, uint64(0), front.index, "front should not consume")
	assert.Equal(t, int64(cap), q.size())

	for i := 0; i < cap; i++ {
		e, err := q.pop()
		assert.Equal(t, nil, err)
		assert.Equal(t, i, int(e.index), "queue pop verify index")
	}
	_, err = q.pop()
	assert.Equal(t, errQueueEmpty, err)
	_, err = q.front()
	assert.Equal(t, errQueueEmpty, err)
}

func TestSPSCQueueConcurrentOrder(t *testing.T) {
	const total = 100000
	q := newSPSCQueue(1024)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			if q.push(sample{index: uint64(i)}) == nil {
				i++
			}
		}
	}()

	next := uint64(0)
	for next < total {
		e, err := q.pop()
		if err != nil {
			continue
		}
		assert.Equal(t, next, e.index, "consumer must see indices in push order")
		next++
	}
	wg.Wait()
	assert.Equal(t, true, q.isEmpty())
}

func TestSPSCQueuePopReleasesReference(t *testing.T) {
	q := newSPSCQueue(4)
	assert.Equal(t, nil, q.push(sample{index: 7, data: []byte{1, 2, 3}}))
	e, err := q.pop()
	assert.Equal(t, nil, err)
	assert.Equal(t, []byte{1, 2, 3}, e.data)
	// the slot itself must not keep the bytes alive
	assert.Equal(t, 0, len(q.elements[0].data))
}
