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
	"math/rand"
	"time"
)

// TestPosition publishes synthetic positions through a sink at a fixed
// sample rate, a stand-in detector for exercising downstream stages. The
// motion is a bounded random walk with a matching velocity estimate.
type TestPosition struct {
	conf *Config
	name string

	sinkAddress  string
	sink         *PositionSink
	samplePeriod time.Duration
	nextTick     time.Time

	rng    *rand.Rand
	pos    Position
	bound  float64
	sample uint64
}

// NewTestPosition returns an unconnected generator publishing to
// sinkAddress at samplesPerSecond.
func NewTestPosition(conf *Config, sinkAddress string, samplesPerSecond float64, seed int64) *TestPosition {
	if conf == nil {
		conf = DefaultConfig()
	}
	if samplesPerSecond <= 0 {
		samplesPerSecond = float64(defaultFramesPerSecond)
	}
	return &TestPosition{
		conf:         conf,
		name:         "testpos[*->" + sinkAddress + "]",
		sinkAddress:  sinkAddress,
		samplePeriod: time.Duration(float64(time.Second) / samplesPerSecond),
		rng:          rand.New(rand.NewSource(seed)),
		bound:        100,
	}
}

func (t *TestPosition) Name() string { return t.name }
func (t *TestPosition) Type() ComponentType { return TypeTestPosition }

// ConnectToNode binds the position sink. The generator has no sources, so
// there is nothing to connect before it.
func (t *TestPosition) ConnectToNode() error {
	sink, err := BindPositionSink(t.conf, t.sinkAddress, uint64(t.samplePeriod.Nanoseconds()))
	if err != nil {
		return err
	}
	t.sink = sink
	t.nextTick = time.Now()
	return nil
}

// Process generates and publishes one position, paced to the sample rate.
func (t *TestPosition) Process() (NodeState, error) {
	if d := time.Until(t.nextTick); d > 0 {
		time.Sleep(d)
	}
	t.nextTick = t.nextTick.Add(t.samplePeriod)

	t.step()
	t.pos.SampleIndex = t.sample
	if err := t.sink.Publish(&t.pos); err != nil {
		if err == ErrEndOfStream {
			return StateEnd, nil
		}
		return StateEnd, err
	}
	t.sample++
	return StateSinkBound, nil
}

// step advances the random walk and refreshes the velocity estimate.
func (t *TestPosition) step() {
	dx := t.rng.NormFloat64()
	dy := t.rng.NormFloat64()
	t.pos.X = clampWalk(t.pos.X+dx, t.bound)
	t.pos.Y = clampWalk(t.pos.Y+dy, t.bound)
	t.pos.VX = dx / t.samplePeriod.Seconds()
	t.pos.VY = dy / t.samplePeriod.Seconds()
	t.pos.Valid = PositionValid | VelocityValid
}

func clampWalk(v, bound float64) float64 {
	if v > bound {
		return bound
	}
	if v < -bound {
		return -bound
	}
	return v
}

// Close drops the sink, ending the stream for every attached reader.
func (t *TestPosition) Close() error {
	if t.sink == nil {
		return nil
	}
	return t.sink.Close()
}
