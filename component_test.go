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

func TestComponentTypeNames(t *testing.T) {
	assert.Equal(t, "frame_source", TypeFrameSource.String())
	assert.Equal(t, "position_detector", TypePositionDetector.String())
	assert.Equal(t, "decorator", TypeDecorator.String())
	assert.Equal(t, "buffer", TypeBuffer.String())
	assert.Equal(t, "recorder", TypeRecorder.String())
	assert.Equal(t, "test_position", TypeTestPosition.String())
}

func TestTestPositionPublishesAtRate(t *testing.T) {
	conf := testConfig()
	addr := testAddress(t, "testpos")

	gen := NewTestPosition(conf, addr, 1000, 1)
	assert.Equal(t, TypeTestPosition, gen.Type())
	assert.Equal(t, "testpos[*->"+addr+"]", gen.Name())
	require.Equal(t, nil, gen.ConnectToNode())

	var indices []uint64
	var positions []Position
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		src, err := ConnectPositionSource(conf, addr)
		require.Equal(t, nil, err)
		var p Position
		for {
			state, err := src.Next(&p)
			require.Equal(t, nil, err)
			if state == StateEnd {
				src.Close()
				return
			}
			indices = append(indices, p.SampleIndex)
			positions = append(positions, p)
		}
	}()

	for srcCount(gen.sink.Sink) == 0 {
		time.Sleep(time.Millisecond)
	}
	const samples = 20
	for i := 0; i < samples; i++ {
		state, err := gen.Process()
		require.Equal(t, nil, err)
		require.NotEqual(t, StateEnd, state)
	}
	for sinkAcked(gen.sink.Sink) != srcCount(gen.sink.Sink) {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, nil, gen.Close())
	wg.Wait()

	require.Equal(t, samples, len(indices))
	for i := 0; i < samples; i++ {
		assert.Equal(t, uint64(i), indices[i], "no gaps, no duplicates")
		assert.NotEqual(t, uint32(0), positions[i].Valid&PositionValid)
	}
}

// endAfter is a trivial component for exercising the drive loop.
type endAfter struct {
	left int
}

func (e *endAfter) Name() string { return "endAfter" }
func (e *endAfter) Type() ComponentType { return TypeFrameSource }
func (e *endAfter) ConnectToNode() error { return nil }
func (e *endAfter) Process() (NodeState, error) {
	if e.left == 0 {
		return StateEnd, nil
	}
	e.left--
	return StateSinkBound, nil
}

func TestRunComponentStopsOnEnd(t *testing.T) {
	c := &endAfter{left: 5}
	require.Equal(t, nil, RunComponent(c, nil))
	assert.Equal(t, 0, c.left)
}

func TestRunComponentStopsOnChannel(t *testing.T) {
	stop := make(chan struct{})
	close(stop)
	c := &endAfter{left: 1 << 30}
	require.Equal(t, nil, RunComponent(c, stop))
	assert.NotEqual(t, 0, c.left)
}
