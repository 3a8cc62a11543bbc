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
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// publishFrames runs a frame producer for `ticks` samples once the
// recorder attached, then ends the stream.
func publishFrames(t *testing.T, conf *Config, addr string, rows, cols, ticks int, wg *sync.WaitGroup) {
	t.Helper()
	wg.Add(1)
	go func() {
		defer wg.Done()
		fs, err := BindFrameSink(conf, addr, uint32(rows), uint32(cols), PixGray8, 1, 0)
		require.Equal(t, nil, err)
		for srcCount(fs.Sink) == 0 {
			time.Sleep(time.Millisecond)
		}
		frame := &Frame{
			Rows:          uint32(rows),
			Cols:          uint32(cols),
			PixelFormat:   PixGray8,
			BytesPerPixel: 1,
			Pixels:        make([]byte, rows*cols),
		}
		for i := 0; i < ticks; i++ {
			frame.SampleIndex = uint64(i)
			for p := range frame.Pixels {
				frame.Pixels[p] = byte(i)
			}
			require.Equal(t, nil, fs.Publish(frame))
		}
		for sinkAcked(fs.Sink) != srcCount(fs.Sink) {
			time.Sleep(time.Millisecond)
		}
		require.Equal(t, nil, fs.Close())
	}()
}

// publishPositions is the position-side producer of the same shape.
func publishPositions(t *testing.T, conf *Config, addr string, ticks int, wg *sync.WaitGroup) {
	t.Helper()
	wg.Add(1)
	go func() {
		defer wg.Done()
		ps, err := BindPositionSink(conf, addr, 0)
		require.Equal(t, nil, err)
		for srcCount(ps.Sink) == 0 {
			time.Sleep(time.Millisecond)
		}
		var pos Position
		pos.SetRegion("arena")
		for i := 0; i < ticks; i++ {
			pos.SampleIndex = uint64(i)
			pos.X = float64(i)
			pos.Y = float64(i) * 2
			pos.Valid = PositionValid | RegionValid
			require.Equal(t, nil, ps.Publish(&pos))
		}
		for sinkAcked(ps.Sink) != srcCount(ps.Sink) {
			time.Sleep(time.Millisecond)
		}
		require.Equal(t, nil, ps.Close())
	}()
}

func countAVIFrames(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	require.Equal(t, nil, err)
	return bytes.Count(data, []byte("00dc"))
}

func TestRecorderMultiStream(t *testing.T) {
	const ticks = 50
	conf := testConfig()
	conf.SavePath = t.TempDir()
	conf.FileName = "session"

	frameA := testAddress(t, "recFrameA")
	frameB := testAddress(t, "recFrameB")
	posA := testAddress(t, "recPos")

	var producers sync.WaitGroup
	publishFrames(t, conf, frameA, 4, 8, ticks, &producers)
	publishFrames(t, conf, frameB, 2, 4, ticks, &producers)
	publishPositions(t, conf, posA, ticks, &producers)

	recorder := NewRecorder(conf, []string{frameA, frameB}, []string{posA})
	assert.Equal(t, TypeRecorder, recorder.Type())
	require.Equal(t, nil, recorder.ConnectToNode())

	for {
		state, err := recorder.Process()
		require.Equal(t, nil, err)
		if state == StateEnd {
			break
		}
	}
	assert.Equal(t, uint64(ticks), recorder.Ticks())
	require.Equal(t, nil, recorder.Close())
	producers.Wait()

	// position artifact: one element per tick, in sample order
	posPath := filepath.Join(conf.SavePath, "session.json")
	data, err := os.ReadFile(posPath)
	require.Equal(t, nil, err)
	var elements [][2]interface{}
	require.Equal(t, nil, sonic.Unmarshal(data, &elements))
	require.Equal(t, ticks, len(elements))
	for i, elem := range elements {
		assert.Equal(t, float64(i), elem[0], "tick order")
		records := elem[1].([]interface{})
		require.Equal(t, 1, len(records))
		record := records[0].(map[string]interface{})
		assert.Equal(t, posA, record["label"])
		assert.Equal(t, true, record["valid"])
		assert.Equal(t, float64(i), record["x"])
		assert.Equal(t, float64(2*i), record["y"])
		assert.Equal(t, nil, record["heading"])
		assert.Equal(t, "arena", record["region"])
	}

	// one container per frame stream, every tick's frame persisted
	assert.Equal(t, ticks, countAVIFrames(t, filepath.Join(conf.SavePath, "session_"+frameA+".avi")))
	assert.Equal(t, ticks, countAVIFrames(t, filepath.Join(conf.SavePath, "session_"+frameB+".avi")))
}

func TestRecorderStopSkipsPersistence(t *testing.T) {
	const ticks = 20
	conf := testConfig()
	conf.SavePath = t.TempDir()
	conf.FileName = "paused"

	posA := testAddress(t, "recPosPause")
	var producers sync.WaitGroup
	publishPositions(t, conf, posA, ticks, &producers)

	recorder := NewRecorder(conf, nil, []string{posA})
	require.Equal(t, nil, recorder.ConnectToNode())
	recorder.SetRecordOn(false)
	assert.Equal(t, false, recorder.RecordOn())

	for {
		state, err := recorder.Process()
		require.Equal(t, nil, err)
		if state == StateEnd {
			break
		}
	}
	// samples were consumed but nothing persisted
	assert.Equal(t, uint64(ticks), recorder.Ticks())
	require.Equal(t, nil, recorder.Close())
	producers.Wait()

	data, err := os.ReadFile(filepath.Join(conf.SavePath, "paused.json"))
	require.Equal(t, nil, err)
	assert.Equal(t, "[]", string(data))
}

func TestRecorderStopInterruptsIdleWait(t *testing.T) {
	conf := testConfig()
	conf.SavePath = t.TempDir()
	posA := testAddress(t, "recPosIdle")

	// a producer that binds but never publishes
	ps, err := BindPositionSink(conf, posA, 0)
	require.Equal(t, nil, err)

	recorder := NewRecorder(conf, nil, []string{posA})
	require.Equal(t, nil, recorder.ConnectToNode())

	done := make(chan NodeState, 1)
	go func() {
		state, err := recorder.Process()
		assert.Equal(t, nil, err)
		done <- state
	}()

	time.Sleep(50 * time.Millisecond)
	recorder.Stop()
	select {
	case state := <-done:
		assert.Equal(t, StateEnd, state)
	case <-time.After(time.Second):
		t.Fatalf("Process stayed blocked after Stop")
	}
	require.Equal(t, nil, recorder.Close())
	require.Equal(t, nil, ps.Close())
}

func TestRecorderArtifactCollisionRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	require.Equal(t, nil, os.WriteFile(path, []byte("x"), 0o644))
	require.Equal(t, nil, os.WriteFile(filepath.Join(dir, "out_1.json"), []byte("x"), 0o644))

	next := uniqueArtifactPath(path)
	assert.Equal(t, filepath.Join(dir, "out_2.json"), next)

	fresh := uniqueArtifactPath(filepath.Join(dir, "new.json"))
	assert.Equal(t, filepath.Join(dir, "new.json"), fresh)
}
