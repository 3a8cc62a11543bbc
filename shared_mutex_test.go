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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedMutexMutualExclusion(t *testing.T) {
	data := make([]byte, 8)
	m := mapSharedMutex(data)

	const workers = 8
	const rounds = 2000
	counter := 0
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				require.Equal(t, nil, m.lock())
				counter++
				m.unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, workers*rounds, counter)
}

func TestSharedMutexReclaimsDeadOwner(t *testing.T) {
	data := make([]byte, 8)
	m := mapSharedMutex(data)

	// simulate a holder that died inside the critical section
	*m.word = mutexLocked
	*m.owner = 0xfffffffe // no such pid

	start := time.Now()
	err := m.lock()
	assert.Equal(t, ErrStaleNode, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	m.unlock()

	// the mutex works normally after recovery
	require.Equal(t, nil, m.lock())
	m.unlock()
}

func TestSharedCondWakeup(t *testing.T) {
	mdata := make([]byte, 8)
	cdata := make([]byte, 4)
	m := mapSharedMutex(mdata)
	c := mapSharedCond(cdata)

	ready := false
	woke := make(chan struct{})
	go func() {
		require.Equal(t, nil, m.lock())
		for !ready {
			require.Equal(t, nil, c.wait(m, pollInterval))
		}
		m.unlock()
		close(woke)
	}()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, nil, m.lock())
	ready = true
	c.broadcast()
	m.unlock()

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatalf("condvar waiter never woke")
	}
}

func TestSharedCondTimedWaitReturns(t *testing.T) {
	mdata := make([]byte, 8)
	cdata := make([]byte, 4)
	m := mapSharedMutex(mdata)
	c := mapSharedCond(cdata)

	require.Equal(t, nil, m.lock())
	start := time.Now()
	// nobody signals: the timed wait must come back within a few ticks
	require.Equal(t, nil, c.wait(m, pollInterval))
	m.unlock()
	assert.Less(t, time.Since(start), time.Second)
}
