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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/gopkg/util/gopool"
)

// frameStream is the single-owner state of one recorded frame source: its
// endpoint, its bounded queue, its artifact and the goroutine feeding it.
// Everything is released together when the recorder closes.
type frameStream struct {
	label    string
	source   *FrameSource
	queue    *spscQueue
	notifyCh chan struct{}
	writer   *videoWriter
	done     sync.WaitGroup
}

// Recorder reads one synchronized sample from every attached node per tick
// and persists each stream to its own artifact: one video container per
// frame source, one JSON array for all position sources.
//
// The tick loop and the position serialization run on the caller's
// goroutine, so position records land in strict sample order. Each frame
// stream drains through its own SPSC queue into a dedicated writer
// goroutine; a full queue stalls the tick loop, which pushes back through
// the node protocol to the upstream producer.
type Recorder struct {
	conf *Config
	name string

	frameAddresses    []string
	positionAddresses []string

	frameStreams    []*frameStream
	positionSources []*PositionSource
	positions       []Position

	positionFile *os.File
	positionBuf  *bufio.Writer
	wroteRecord  bool

	running   uint32
	recordOn  uint32
	ticks     uint64
	stats     stats
	connected bool
}

// NewRecorder returns an unconnected recorder over the given node
// addresses. Recording starts enabled; the control surface toggles it.
func NewRecorder(conf *Config, frameAddresses, positionAddresses []string) *Recorder {
	if conf == nil {
		conf = DefaultConfig()
	}
	return &Recorder{
		conf:              conf,
		name:              "recorder[" + strings.Join(append(append([]string{}, frameAddresses...), positionAddresses...), ",") + "]",
		frameAddresses:    frameAddresses,
		positionAddresses: positionAddresses,
		recordOn:          1,
	}
}

func (r *Recorder) Name() string { return r.name }
func (r *Recorder) Type() ComponentType { return TypeRecorder }

// SetRecordOn toggles persistence. Samples keep being consumed either way
// so upstream producers never stall on a paused recorder.
func (r *Recorder) SetRecordOn(on bool) {
	if on {
		atomic.StoreUint32(&r.recordOn, 1)
	} else {
		atomic.StoreUint32(&r.recordOn, 0)
	}
}

// RecordOn reports whether persistence is enabled.
func (r *Recorder) RecordOn() bool {
	return atomic.LoadUint32(&r.recordOn) == 1
}

// Ticks reports how many full barrier cycles completed.
func (r *Recorder) Ticks() uint64 {
	return atomic.LoadUint64(&r.ticks)
}

// Stop interrupts any in-flight source Wait so the tick loop observes
// shutdown within one tick, without detaching anything. Pair with Close.
func (r *Recorder) Stop() {
	atomic.StoreUint32(&r.running, 0)
	for _, fs := range r.frameStreams {
		fs.source.Source.stop()
	}
	for _, src := range r.positionSources {
		src.Source.stop()
	}
}

// ConnectToNode attaches every source, creates the artifacts and starts
// one writer goroutine per frame stream. Sources only: the recorder never
// binds a sink.
func (r *Recorder) ConnectToNode() error {
	savePath := r.conf.SavePath
	if fi, err := os.Stat(savePath); err != nil || !fi.IsDir() {
		internalLogger.warnf("save path %s does not exist or is not a directory, using the current directory", savePath)
		savePath = "."
	}
	datePrefix := ""
	if r.conf.AppendDate {
		datePrefix = time.Now().Format("2006-01-02-15-04-05") + "_"
	}

	if len(r.positionAddresses) > 0 {
		for _, addr := range r.positionAddresses {
			src, err := ConnectPositionSource(r.conf, addr)
			if err != nil {
				r.releaseSources()
				return err
			}
			r.positionSources = append(r.positionSources, src)
		}
		r.positions = make([]Position, len(r.positionAddresses))

		base := r.conf.FileName
		if base == "" {
			base = r.positionAddresses[0]
		}
		path := uniqueArtifactPath(filepath.Join(savePath, datePrefix+base) + ".json")
		f, err := os.Create(path)
		if err != nil {
			r.releaseSources()
			return fmt.Errorf("unable to open %s: %w", path, err)
		}
		r.positionFile = f
		r.positionBuf = bufio.NewWriterSize(f, 1<<16)
		if _, err := r.positionBuf.WriteString("["); err != nil {
			r.releaseSources()
			return err
		}
	}

	for _, addr := range r.frameAddresses {
		src, err := ConnectFrameSource(r.conf, addr)
		if err != nil {
			r.releaseSources()
			return err
		}
		base := r.conf.FileName
		name := addr
		if base != "" {
			name = base + "_" + addr
		}
		path := uniqueArtifactPath(filepath.Join(savePath, datePrefix+name) + ".avi")
		fs := &frameStream{
			label:    addr,
			source:   src,
			queue:    newSPSCQueue(r.conf.FrameQueueCapacity),
			notifyCh: make(chan struct{}, 1),
			writer:   newVideoWriter(path, r.conf.FourCC, r.conf.FramesPerSecond),
		}
		r.frameStreams = append(r.frameStreams, fs)
	}

	atomic.StoreUint32(&r.running, 1)
	for _, fs := range r.frameStreams {
		fs := fs
		fs.done.Add(1)
		gopool.Go(func() { r.writeFramesFromQueue(fs) })
	}
	r.connected = true
	return nil
}

// Process runs one tick: one synchronized sample from each frame node,
// then each position node, then one serialized position record. Returns
// StateEnd as soon as any source reports END.
func (r *Recorder) Process() (NodeState, error) {
	recording := r.RecordOn()

	for _, fs := range r.frameStreams {
		frame, state, err := fs.source.Next()
		if err != nil {
			return StateEnd, err
		}
		if state == StateEnd {
			return StateEnd, nil
		}
		r.stats.addIn(1)
		if !recording {
			continue
		}
		payload := encodeOwnedFrame(frame)
		for {
			if err := fs.queue.push(sample{index: frame.SampleIndex, data: payload}); err == nil {
				break
			}
			// queue full: stall, which back-pressures the upstream node
			time.Sleep(pollInterval)
			if atomic.LoadUint32(&r.running) == 0 {
				return StateEnd, nil
			}
		}
		select {
		case fs.notifyCh <- struct{}{}:
		default:
		}
	}

	for j, src := range r.positionSources {
		state, err := src.Next(&r.positions[j])
		if err != nil {
			return StateEnd, err
		}
		if state == StateEnd {
			return StateEnd, nil
		}
		r.stats.addIn(1)
	}

	if recording {
		if err := r.writePositionRecord(); err != nil {
			internalLogger.errorf("position record write failed:%s", err.Error())
			r.stats.addWErr(1)
		}
	}
	atomic.AddUint64(&r.ticks, 1)
	return StateSourceWaiting, nil
}

// writePositionRecord appends one `[tick, [record, ...]]` element to the
// JSON array. Runs on the tick goroutine only, so records stay in strict
// sample order.
func (r *Recorder) writePositionRecord() error {
	if r.positionFile == nil {
		return nil
	}
	tick := r.positions[0].SampleIndex
	if r.wroteRecord {
		if _, err := r.positionBuf.WriteString(","); err != nil {
			return err
		}
	}
	if _, err := r.positionBuf.WriteString("[" + strconv.FormatUint(tick, 10) + ",["); err != nil {
		return err
	}
	for j := range r.positions {
		if j > 0 {
			if _, err := r.positionBuf.WriteString(","); err != nil {
				return err
			}
		}
		rec, err := r.positions[j].MarshalJSONRecord(r.positionAddresses[j])
		if err != nil {
			return err
		}
		if _, err := r.positionBuf.Write(rec); err != nil {
			return err
		}
	}
	if _, err := r.positionBuf.WriteString("]]"); err != nil {
		return err
	}
	r.wroteRecord = true
	r.stats.addOut(1)
	return nil
}

// writeFramesFromQueue is one stream's writer goroutine. It opens the
// container lazily from the first frame, then persists queued frames at
// its own pace. A failed write is logged and the frame dropped; the other
// streams are unaffected. Exits once the recorder stopped and the queue
// drained.
func (r *Recorder) writeFramesFromQueue(fs *frameStream) {
	defer fs.done.Done()
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
		case <-fs.notifyCh:
		case <-timer.C:
		}

		for {
			e, err := fs.queue.front()
			if err != nil {
				break
			}
			frame, derr := DecodeFrame(e.data)
			if derr == nil {
				if !fs.writer.isOpened() {
					if oerr := fs.writer.open(frame); oerr != nil {
						internalLogger.errorf("stream %s writer open failed:%s", fs.label, oerr.Error())
						r.stats.addWErr(1)
						fs.queue.pop()
						continue
					}
				}
				if werr := fs.writer.write(frame); werr != nil {
					internalLogger.errorf("stream %s frame %d write failed:%s", fs.label, e.index, werr.Error())
					r.stats.addWErr(1)
				} else {
					r.stats.addOut(1)
				}
			} else {
				internalLogger.errorf("stream %s frame %d decode failed:%s", fs.label, e.index, derr.Error())
				r.stats.addWErr(1)
			}
			fs.queue.pop()
		}

		if atomic.LoadUint32(&r.running) == 0 && fs.queue.isEmpty() {
			return
		}
	}
}

// Close stops the writer goroutines after they drained, finalizes every
// artifact and detaches from all nodes. Close is idempotent.
func (r *Recorder) Close() error {
	if !r.connected {
		return nil
	}
	atomic.StoreUint32(&r.running, 0)
	var firstErr error
	for _, fs := range r.frameStreams {
		select {
		case fs.notifyCh <- struct{}{}:
		default:
		}
	}
	for _, fs := range r.frameStreams {
		fs.done.Wait()
		if err := fs.writer.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.positionFile != nil {
		if _, err := r.positionBuf.WriteString("]"); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := r.positionBuf.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := r.positionFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.positionFile = nil
	}
	r.releaseSources()
	r.connected = false
	emitMetrics(r.conf.Monitor, &r.stats)
	internalLogger.infof("%s closed after %d ticks", r.name, atomic.LoadUint64(&r.ticks))
	return firstErr
}

func (r *Recorder) releaseSources() {
	for _, fs := range r.frameStreams {
		fs.source.Close()
	}
	for _, src := range r.positionSources {
		src.Close()
	}
}

// encodeOwnedFrame re-serializes an owned frame into one contiguous buffer
// for the SPSC queue.
func encodeOwnedFrame(f *Frame) []byte {
	buf := make([]byte, FrameBytes(f.Rows, f.Cols, f.BytesPerPixel))
	_ = EncodeFrame(buf, f)
	return buf
}

// uniqueArtifactPath appends _1, _2, ... while the path exists, so a new
// run never clobbers an old artifact.
func uniqueArtifactPath(path string) string {
	if !pathExists(path) {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		next := stem + "_" + strconv.Itoa(i) + ext
		if !pathExists(next) {
			internalLogger.warnf("%s exists, renamed to %s", path, next)
			return next
		}
	}
}
