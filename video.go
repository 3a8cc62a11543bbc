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
	"os"
)

// videoWriter muxes frame payloads into a RIFF/AVI container, one video
// stream per file. The container is opened lazily on the first frame so
// the geometry can come from the stream itself; the codec tag is whatever
// FourCC the configuration names, the frame bytes pass through untouched.
//
// Chunk sizes in RIFF are patched on close, so a writer must be closed to
// produce a readable file.
type videoWriter struct {
	path   string
	fourcc [4]byte
	fps    uint32

	f          *os.File
	rows       uint32
	cols       uint32
	frameBytes uint32
	frames     uint32

	riffSizeOff  int64
	avihFramesOff int64
	strhLenOff   int64
	moviSizeOff  int64
	moviStart    int64
	opened       bool
}

func newVideoWriter(path, fourcc string, fps int) *videoWriter {
	w := &videoWriter{path: path, fps: uint32(fps)}
	copy(w.fourcc[:], fourcc)
	return w
}

func (w *videoWriter) isOpened() bool { return w.opened }

// open writes the container preamble using the first frame's geometry.
func (w *videoWriter) open(frame *Frame) error {
	f, err := os.Create(w.path)
	if err != nil {
		return err
	}
	w.f = f
	w.rows = frame.Rows
	w.cols = frame.Cols
	w.frameBytes = frame.Rows * frame.Cols * frame.BytesPerPixel

	var hdr []byte
	put32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		hdr = append(hdr, b[:]...)
	}
	putTag := func(tag string) { hdr = append(hdr, tag...) }

	putTag("RIFF")
	w.riffSizeOff = int64(len(hdr))
	put32(0) // patched on close
	putTag("AVI ")

	// hdrl list: avih + one strl
	putTag("LIST")
	put32(4 + 8 + 56 + 8 + 4 + 8 + 56 + 8 + 40)
	putTag("hdrl")

	putTag("avih")
	put32(56)
	put32(1000000 / w.fps) // microseconds per frame
	put32(w.frameBytes * w.fps)
	put32(0)
	put32(0x10) // AVIF_HASINDEX
	w.avihFramesOff = int64(len(hdr))
	put32(0) // total frames, patched on close
	put32(0)
	put32(1) // one stream
	put32(w.frameBytes)
	put32(w.cols)
	put32(w.rows)
	put32(0)
	put32(0)
	put32(0)
	put32(0)

	putTag("LIST")
	put32(4 + 8 + 56 + 8 + 40)
	putTag("strl")

	putTag("strh")
	put32(56)
	putTag("vids")
	hdr = append(hdr, w.fourcc[:]...)
	put32(0)
	put32(0)
	put32(0)
	put32(1)     // scale
	put32(w.fps) // rate
	put32(0)
	w.strhLenOff = int64(len(hdr))
	put32(0) // stream length in frames, patched on close
	put32(w.frameBytes)
	put32(0xffffffff)
	put32(0)
	put32(0)                                          // rcFrame left, top
	put32(uint32(w.rows)<<16 | uint32(w.cols)&0xffff) // rcFrame right, bottom

	putTag("strf")
	put32(40)
	put32(40) // BITMAPINFOHEADER size
	put32(w.cols)
	put32(w.rows)
	hdr = append(hdr, 1, 0) // planes
	bitCount := uint16(8 * w.frameBytes / (w.rows * w.cols))
	hdr = append(hdr, byte(bitCount), byte(bitCount>>8))
	hdr = append(hdr, w.fourcc[:]...) // compression
	put32(w.frameBytes)
	put32(0)
	put32(0)
	put32(0)
	put32(0)

	putTag("LIST")
	w.moviSizeOff = int64(len(hdr))
	put32(0) // patched on close
	putTag("movi")

	if _, err := f.Write(hdr); err != nil {
		f.Close()
		return err
	}
	w.moviStart = int64(len(hdr))
	w.opened = true
	internalLogger.infof("video writer opened %s %dx%d@%dfps fourcc:%s",
		w.path, w.cols, w.rows, w.fps, string(w.fourcc[:]))
	return nil
}

// write appends one frame as a '00dc' chunk. The pixel byte count must
// match the geometry the container was opened with.
func (w *videoWriter) write(frame *Frame) error {
	if !w.opened {
		return fmt.Errorf("video writer %s not opened", w.path)
	}
	if uint32(len(frame.Pixels)) != w.frameBytes {
		return fmt.Errorf("%w: frame has %d pixel bytes, container wants %d",
			ErrPayloadTooLarge, len(frame.Pixels), w.frameBytes)
	}
	var chunk [8]byte
	copy(chunk[0:4], "00dc")
	binary.LittleEndian.PutUint32(chunk[4:8], w.frameBytes)
	if _, err := w.f.Write(chunk[:]); err != nil {
		return err
	}
	if _, err := w.f.Write(frame.Pixels); err != nil {
		return err
	}
	if w.frameBytes%2 == 1 {
		if _, err := w.f.Write([]byte{0}); err != nil {
			return err
		}
	}
	w.frames++
	return nil
}

// close patches the deferred sizes and releases the file.
func (w *videoWriter) close() error {
	if !w.opened {
		return nil
	}
	end, err := w.f.Seek(0, 2)
	if err != nil {
		w.f.Close()
		return err
	}
	patch := func(off int64, v uint32) error {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		_, err := w.f.WriteAt(b[:], off)
		return err
	}
	for _, p := range []struct {
		off int64
		v   uint32
	}{
		{w.riffSizeOff, uint32(end - 8)},
		{w.avihFramesOff, w.frames},
		{w.strhLenOff, w.frames},
		{w.moviSizeOff, uint32(end - w.moviStart + 4)},
	} {
		if err := patch(p.off, p.v); err != nil {
			w.f.Close()
			return err
		}
	}
	err = w.f.Close()
	w.opened = false
	internalLogger.infof("video writer closed %s frames:%d", w.path, w.frames)
	return err
}
