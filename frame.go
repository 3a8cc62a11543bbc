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
	"fmt"

	"github.com/bytedance/gopkg/lang/dirtmake"
)

// Pixel formats of a frame payload. The fabric never interprets pixels;
// the tags travel so codecs on both ends agree.
const (
	PixGray8 uint32 = iota
	PixBGR24
	PixBGRA32
)

// frameHeaderLength is the fixed header preceding the pixel bytes inside a
// frame payload: rows, cols, pixel format, bytes per pixel, sample index,
// sample period. Little-endian, 8-byte aligned.
const frameHeaderLength = 32

// Frame is the typed view of a frame payload. Pixels aliases the payload
// bytes it was parsed from: inside a source critical section that is the
// shared region itself, so the view dies with Post unless cloned.
type Frame struct {
	Rows           uint32
	Cols           uint32
	PixelFormat    uint32
	BytesPerPixel  uint32
	SampleIndex    uint64
	SamplePeriodNs uint64
	Pixels         []byte
}

// FrameBytes is the payload size needed for the given geometry.
func FrameBytes(rows, cols, bytesPerPixel uint32) uint32 {
	return frameHeaderLength + rows*cols*bytesPerPixel
}

// EncodeFrame writes the frame header and pixels into a payload view.
func EncodeFrame(dst []byte, f *Frame) error {
	need := int(FrameBytes(f.Rows, f.Cols, f.BytesPerPixel))
	if len(dst) < need {
		return fmt.Errorf("%w: frame needs %d bytes, payload has %d", ErrPayloadTooLarge, need, len(dst))
	}
	binary.LittleEndian.PutUint32(dst[0:4], f.Rows)
	binary.LittleEndian.PutUint32(dst[4:8], f.Cols)
	binary.LittleEndian.PutUint32(dst[8:12], f.PixelFormat)
	binary.LittleEndian.PutUint32(dst[12:16], f.BytesPerPixel)
	binary.LittleEndian.PutUint64(dst[16:24], f.SampleIndex)
	binary.LittleEndian.PutUint64(dst[24:32], f.SamplePeriodNs)
	copy(dst[frameHeaderLength:need], f.Pixels)
	return nil
}

// DecodeFrame parses a payload view in place, without copying pixels.
func DecodeFrame(src []byte) (*Frame, error) {
	if len(src) < frameHeaderLength {
		return nil, fmt.Errorf("frame payload too short: %d bytes", len(src))
	}
	f := &Frame{
		Rows:           binary.LittleEndian.Uint32(src[0:4]),
		Cols:           binary.LittleEndian.Uint32(src[4:8]),
		PixelFormat:    binary.LittleEndian.Uint32(src[8:12]),
		BytesPerPixel:  binary.LittleEndian.Uint32(src[12:16]),
		SampleIndex:    binary.LittleEndian.Uint64(src[16:24]),
		SamplePeriodNs: binary.LittleEndian.Uint64(src[24:32]),
	}
	need := int(FrameBytes(f.Rows, f.Cols, f.BytesPerPixel))
	if len(src) < need {
		return nil, fmt.Errorf("frame payload truncated: header says %d bytes, payload has %d", need, len(src))
	}
	f.Pixels = src[frameHeaderLength:need]
	return f, nil
}

// Clone copies the frame out of shared memory so it survives Post.
func (f *Frame) Clone() *Frame {
	out := *f
	out.Pixels = dirtmake.Bytes(len(f.Pixels), len(f.Pixels))
	copy(out.Pixels, f.Pixels)
	return &out
}

// EncodeSampleIndex draws the 64-bit sample counter as a bit bar into the
// top rows of the frame, least significant bit rightmost, one bitSize
// square per bit. Downstream video analysis recovers exact sample indices
// from the recorded pixels this way.
func (f *Frame) EncodeSampleIndex(bitSize uint32) error {
	if bitSize == 0 {
		bitSize = 1
	}
	if 64*bitSize > f.Cols {
		return fmt.Errorf("%w: bit bar needs %d columns, frame has %d", ErrPayloadTooLarge, 64*bitSize, f.Cols)
	}
	if bitSize > f.Rows {
		return fmt.Errorf("%w: bit bar needs %d rows, frame has %d", ErrPayloadTooLarge, bitSize, f.Rows)
	}
	count := f.SampleIndex
	col := f.Cols - bitSize
	for shift := 0; shift < 64; shift++ {
		var v byte
		if count&0x1 == 1 {
			v = 0xff
		}
		f.fillSquare(0, col, bitSize, v)
		count >>= 1
		if shift < 63 {
			col -= bitSize
		}
	}
	return nil
}

func (f *Frame) fillSquare(row, col, size uint32, v byte) {
	stride := f.Cols * f.BytesPerPixel
	for r := row; r < row+size; r++ {
		start := r*stride + col*f.BytesPerPixel
		end := start + size*f.BytesPerPixel
		for i := start; i < end; i++ {
			f.Pixels[i] = v
		}
	}
}

// FrameSink binds a sink shaped for frames and writes one frame per cycle.
type FrameSink struct {
	Sink *Sink
	view []byte
	geom ConnectionParameters
}

// BindFrameSink binds address for the given frame geometry.
func BindFrameSink(conf *Config, address string, rows, cols, pixelFormat, bytesPerPixel uint32, samplePeriodNs uint64) (*FrameSink, error) {
	params := ConnectionParameters{
		Kind:           PayloadFrame,
		Bytes:          FrameBytes(rows, cols, bytesPerPixel),
		Rows:           rows,
		Cols:           cols,
		PixelFormat:    pixelFormat,
		BytesPerPixel:  bytesPerPixel,
		SamplePeriodNs: samplePeriodNs,
	}
	s := NewSink(conf)
	if err := s.BindShaped(address, params); err != nil {
		return nil, err
	}
	view, err := s.Retrieve()
	if err != nil {
		s.Close()
		return nil, err
	}
	return &FrameSink{Sink: s, view: view, geom: params}, nil
}

// Publish runs one full barrier cycle for the frame.
func (fs *FrameSink) Publish(f *Frame) error {
	state, err := fs.Sink.Wait()
	if err != nil {
		return err
	}
	if state == StateEnd {
		return ErrEndOfStream
	}
	if err := EncodeFrame(fs.view, f); err != nil {
		return err
	}
	return fs.Sink.Post()
}

func (fs *FrameSink) Close() error { return fs.Sink.Close() }

// FrameSource attaches to a frame node and clones one frame per cycle.
type FrameSource struct {
	Source *Source
	params ConnectionParameters
}

// ConnectFrameSource touches and connects address.
func ConnectFrameSource(conf *Config, address string) (*FrameSource, error) {
	c := NewSource(conf)
	if err := c.Touch(address); err != nil {
		return nil, err
	}
	params, err := c.Connect()
	if err != nil {
		c.Close()
		return nil, err
	}
	return &FrameSource{Source: c, params: params}, nil
}

func (fc *FrameSource) Parameters() ConnectionParameters { return fc.params }

// Next blocks for the next frame and returns an owned copy. A nil frame
// with StateEnd means the stream terminated.
func (fc *FrameSource) Next() (*Frame, NodeState, error) {
	state, err := fc.Source.Wait()
	if err != nil || state == StateEnd {
		return nil, StateEnd, err
	}
	f, err := DecodeFrame(fc.Source.view())
	if err != nil {
		fc.Source.Post()
		return nil, state, err
	}
	out := f.Clone()
	if err := fc.Source.Post(); err != nil {
		return nil, state, err
	}
	return out, state, nil
}

func (fc *FrameSource) Close() error { return fc.Source.Close() }
