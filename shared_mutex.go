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
	"time"

	syscall "golang.org/x/sys/unix"
)

const (
	mutexUnlocked  uint32 = 0
	mutexLocked    uint32 = 1
	mutexContended uint32 = 2
)

// sharedMutex is a futex-based mutex whose word and owner tag live inside a
// MAP_SHARED region, so any process mapping the region contends on the same
// kernel wait queue. The owner pid makes a crashed holder detectable: a
// locker that keeps timing out probes the pid and reclaims the mutex when
// the owner is gone.
type sharedMutex struct {
	word  *uint32
	owner *uint32 // pid of the current holder, 0 when unlocked
}

// mapSharedMutex interprets 8 bytes of mapped memory as a mutex.
// Word and owner must stay 4-byte aligned.
func mapSharedMutex(data []byte) sharedMutex {
	return sharedMutex{
		word:  mapUint32(data, 0),
		owner: mapUint32(data, 4),
	}
}

// lock acquires the mutex, sleeping on the futex word under contention.
// It returns ErrStaleNode when the holder died while we waited; the caller
// owns the mutex in that case too and should declare the node END.
func (m sharedMutex) lock() error {
	if atomic.CompareAndSwapUint32(m.word, mutexUnlocked, mutexLocked) {
		atomic.StoreUint32(m.owner, uint32(syscall.Getpid()))
		return nil
	}
	deadOwnerChecks := 0
	for {
		// mark contended so the holder knows to wake us
		old := atomic.SwapUint32(m.word, mutexContended)
		if old == mutexUnlocked {
			atomic.StoreUint32(m.owner, uint32(syscall.Getpid()))
			return nil
		}
		err := futexWait(m.word, mutexContended, pollInterval)
		if err == syscall.ETIMEDOUT {
			owner := atomic.LoadUint32(m.owner)
			if owner != 0 && !processAlive(owner) {
				deadOwnerChecks++
				// two consecutive probes across a full tick rule out pid reuse racing
				if deadOwnerChecks >= 2 {
					atomic.StoreUint32(m.owner, uint32(syscall.Getpid()))
					atomic.StoreUint32(m.word, mutexLocked)
					return ErrStaleNode
				}
			} else {
				deadOwnerChecks = 0
			}
		}
	}
}

func (m sharedMutex) unlock() {
	atomic.StoreUint32(m.owner, 0)
	if atomic.SwapUint32(m.word, mutexUnlocked) == mutexContended {
		futexWake(m.word, 1)
	}
}

// sharedCond is a condition variable over a sequence word in shared memory.
// wait releases the mutex, sleeps until the sequence moves (or one tick
// elapses) and reacquires the mutex before returning. Spurious wakeups are
// expected; callers loop on their predicate.
type sharedCond struct {
	seq *uint32
}

func mapSharedCond(data []byte) sharedCond {
	return sharedCond{seq: mapUint32(data, 0)}
}

func (c sharedCond) wait(m sharedMutex, timeout time.Duration) error {
	seq := atomic.LoadUint32(c.seq)
	m.unlock()
	_ = futexWait(c.seq, seq, timeout)
	return m.lock()
}

func (c sharedCond) signal() {
	atomic.AddUint32(c.seq, 1)
	futexWake(c.seq, 1)
}

func (c sharedCond) broadcast() {
	atomic.AddUint32(c.seq, 1)
	futexWake(c.seq, 1<<30)
}
