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
	"encoding/binary"
)

// PayloadKind hints what the payload bytes hold. Opaque to the fabric,
// consumed by the typed wrappers above it.
type PayloadKind uint32

const (
	// PayloadOpaque is raw bytes with no declared shape.
	PayloadOpaque PayloadKind = iota
	// PayloadFrame is a video frame, see frame.go.
	PayloadFrame
	// PayloadPosition is a position record, see position.go.
	PayloadPosition
)

// ConnectionParameters is the payload metadata a sink exposes through the
// side header. A source receives it from Connect and uses it to size its
// local buffers before the first sample arrives.
type ConnectionParameters struct {
	Kind           PayloadKind
	Bytes          uint32
	Rows           uint32
	Cols           uint32
	PixelFormat    uint32
	BytesPerPixel  uint32
	SamplePeriodNs uint64
}

// side header layout, little-endian, 48 bytes:
//
//	[0..4)   kind
//	[4..8)   payload bytes
//	[8..12)  rows
//	[12..16) cols
//	[16..20) pixel format
//	[20..24) bytes per pixel
//	[24..32) sample period in ns
//	[32..48) reserved
//
// The producer publishes it once before the node goes SINK_BOUND, so a
// connected source may read it without holding the mutex.
func encodeSideHeader(dst []byte, p ConnectionParameters) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(p.Kind))
	binary.LittleEndian.PutUint32(dst[4:8], p.Bytes)
	binary.LittleEndian.PutUint32(dst[8:12], p.Rows)
	binary.LittleEndian.PutUint32(dst[12:16], p.Cols)
	binary.LittleEndian.PutUint32(dst[16:20], p.PixelFormat)
	binary.LittleEndian.PutUint32(dst[20:24], p.BytesPerPixel)
	binary.LittleEndian.PutUint64(dst[24:32], p.SamplePeriodNs)
}

func decodeSideHeader(src []byte) ConnectionParameters {
	return ConnectionParameters{
		Kind:           PayloadKind(binary.LittleEndian.Uint32(src[0:4])),
		Bytes:          binary.LittleEndian.Uint32(src[4:8]),
		Rows:           binary.LittleEndian.Uint32(src[8:12]),
		Cols:           binary.LittleEndian.Uint32(src[12:16]),
		PixelFormat:    binary.LittleEndian.Uint32(src[16:20]),
		BytesPerPixel:  binary.LittleEndian.Uint32(src[20:24]),
		SamplePeriodNs: binary.LittleEndian.Uint64(src[24:32]),
	}
}
