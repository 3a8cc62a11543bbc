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

// ComponentType tags the role of a pipeline stage.
type ComponentType uint8

const (
	TypeFrameSource ComponentType = iota
	TypePositionDetector
	TypeDecorator
	TypeBuffer
	TypeRecorder
	TypeTestPosition
)

func (t ComponentType) String() string {
	switch t {
	case TypeFrameSource:
		return "frame_source"
	case TypePositionDetector:
		return "position_detector"
	case TypeDecorator:
		return "decorator"
	case TypeBuffer:
		return "buffer"
	case TypeRecorder:
		return "recorder"
	case TypeTestPosition:
		return "test_position"
	}
	return "unknown"
}

// Component is the minimal contract every pipeline stage satisfies.
//
// ConnectToNode performs all Touch+Connect+Bind+Retrieve calls in a fixed
// order: sources first, sinks last, so a stage never publishes before its
// downstream knows the payload shape. Process performs exactly one
// wait/compute/post barrier cycle and returns StateEnd once any inbound
// source reported END.
type Component interface {
	Name() string
	Type() ComponentType
	ConnectToNode() error
	Process() (NodeState, error)
}

// RunComponent drives a connected component until END or the stop channel
// closes. It is the shared main loop of every stage binary.
func RunComponent(c Component, stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		state, err := c.Process()
		if err != nil {
			return err
		}
		if state == StateEnd {
			internalLogger.infof("component %s[%s] reached end of stream", c.Name(), c.Type())
			return nil
		}
	}
}
