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
	"errors"
)

var (
	//ErrAddressInUse means that another living sink had already bound the address.
	ErrAddressInUse = errors.New("another sink is bound to this address")

	//ErrAlreadyBound means that Bind was called twice on the same sink.
	ErrAlreadyBound = errors.New("sink is already bound")

	//ErrNotBound was returned by Retrieve/Wait/Post before a successful Bind.
	ErrNotBound = errors.New("sink is not bound")

	//ErrNotFound means that no shared region exists for the address.
	//Source.Touch retries silently before giving up with this error.
	ErrNotFound = errors.New("no shared region found for address")

	//ErrNotConnected was returned by Source.Connect/Wait/CopyTo/Clone/Post
	//before a successful Touch.
	ErrNotConnected = errors.New("source is not connected")

	//ErrInsufficientMemory means that the region allocation failed, usually
	//because the tmpfs that backs /dev/shm has not enough free space.
	ErrInsufficientMemory = errors.New("share memory had not left space")

	//ErrPayloadTooLarge means that an operation demanded a payload region
	//larger than the node advertised at bind time.
	ErrPayloadTooLarge = errors.New("payload exceeds the bound region size")

	//ErrEndOfStream is the terminal value of a node. It is not a failure:
	//surviving readers receive it once the sink has gone away.
	ErrEndOfStream = errors.New("end of stream")

	//ErrQueueFull means that a bounded SPSC queue had no room for a push.
	ErrQueueFull = errors.New("the sample queue is full")

	//ErrNodeCorrupt means that the node header does not carry the expected
	//magic, usually a region created by an incompatible version.
	ErrNodeCorrupt = errors.New("node header is corrupt")

	//ErrStaleNode means that the holder of a node mutex died inside its
	//critical section and the locker reclaimed the mutex.
	ErrStaleNode = errors.New("stale node left by a dead sink")

	//ErrOSNonSupported means that the fabric couldn't work in current OS.
	//(process-shared futexes only exist on Linux)
	ErrOSNonSupported = errors.New("shmdf just support linux OS now")

	errQueueEmpty = errors.New("the sample queue is empty")
)
