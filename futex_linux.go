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
	"unsafe"

	syscall "golang.org/x/sys/unix"
)

// FUTEX_WAIT and FUTEX_WAKE are the futex(2) operation codes from the Linux
// kernel ABI (linux/futex.h). golang.org/x/sys/unix does not export them.
const (
	_FUTEX_WAIT = 0
	_FUTEX_WAKE = 1
)

// futexWait sleeps on addr while *addr == expect. A FUTEX_WAKE on the same
// word, a timeout or a signal returns control; the caller must re-check its
// predicate in a loop. The word lives in a MAP_SHARED region, so plain
// (non *_PRIVATE) futex ops are required for cross-process wakeups.
func futexWait(addr *uint32, expect uint32, timeout time.Duration) error {
	var ts *syscall.Timespec
	if timeout > 0 {
		t := syscall.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	_, _, errno := syscall.Syscall6(syscall.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(_FUTEX_WAIT),
		uintptr(expect),
		uintptr(unsafe.Pointer(ts)),
		0, 0)
	switch errno {
	case 0, syscall.EAGAIN, syscall.EINTR:
		return nil
	case syscall.ETIMEDOUT:
		return syscall.ETIMEDOUT
	default:
		return errno
	}
}

// futexWake wakes up to count waiters sleeping on addr.
func futexWake(addr *uint32, count int) {
	_, _, errno := syscall.Syscall6(syscall.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(_FUTEX_WAKE),
		uintptr(count),
		0, 0, 0)
	if errno != 0 {
		internalLogger.warnf("futexWake errno:%d", errno)
	}
}
