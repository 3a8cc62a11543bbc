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
	"math"

	"github.com/bytedance/sonic"
)

// Validity bits of a position record.
const (
	PositionValid uint32 = 1 << iota
	HeadingValid
	VelocityValid
	RegionValid
)

// positionRecordLength is the fixed payload size of a position node:
// sample index, validity flags, x, y, heading, velocity and a 16-byte
// region label. Little-endian, 8-byte aligned.
const positionRecordLength = 80

// Position is one detected object position in world units.
type Position struct {
	SampleIndex uint64
	Valid       uint32
	X           float64
	Y           float64
	HeadingX    float64
	HeadingY    float64
	VX          float64
	VY          float64
	Region      [16]byte
}

// SetRegion stores the region label, truncated to the record's 16 bytes.
func (p *Position) SetRegion(label string) {
	p.Region = [16]byte{}
	copy(p.Region[:], label)
}

// RegionString returns the region label without trailing zero bytes.
func (p *Position) RegionString() string {
	n := 0
	for n < len(p.Region) && p.Region[n] != 0 {
		n++
	}
	return string(p.Region[:n])
}

// EncodePosition writes the record into a payload view.
func EncodePosition(dst []byte, p *Position) error {
	if len(dst) < positionRecordLength {
		return fmt.Errorf("%w: position record needs %d bytes, payload has %d",
			ErrPayloadTooLarge, positionRecordLength, len(dst))
	}
	binary.LittleEndian.PutUint64(dst[0:8], p.SampleIndex)
	binary.LittleEndian.PutUint32(dst[8:12], p.Valid)
	binary.LittleEndian.PutUint32(dst[12:16], 0)
	binary.LittleEndian.PutUint64(dst[16:24], math.Float64bits(p.X))
	binary.LittleEndian.PutUint64(dst[24:32], math.Float64bits(p.Y))
	binary.LittleEndian.PutUint64(dst[32:40], math.Float64bits(p.HeadingX))
	binary.LittleEndian.PutUint64(dst[40:48], math.Float64bits(p.HeadingY))
	binary.LittleEndian.PutUint64(dst[48:56], math.Float64bits(p.VX))
	binary.LittleEndian.PutUint64(dst[56:64], math.Float64bits(p.VY))
	copy(dst[64:80], p.Region[:])
	return nil
}

// DecodePosition parses a payload view into p.
func DecodePosition(src []byte, p *Position) error {
	if len(src) < positionRecordLength {
		return fmt.Errorf("position payload too short: %d bytes", len(src))
	}
	p.SampleIndex = binary.LittleEndian.Uint64(src[0:8])
	p.Valid = binary.LittleEndian.Uint32(src[8:12])
	p.X = math.Float64frombits(binary.LittleEndian.Uint64(src[16:24]))
	p.Y = math.Float64frombits(binary.LittleEndian.Uint64(src[24:32]))
	p.HeadingX = math.Float64frombits(binary.LittleEndian.Uint64(src[32:40]))
	p.HeadingY = math.Float64frombits(binary.LittleEndian.Uint64(src[40:48]))
	p.VX = math.Float64frombits(binary.LittleEndian.Uint64(src[48:56]))
	p.VY = math.Float64frombits(binary.LittleEndian.Uint64(src[56:64]))
	copy(p.Region[:], src[64:80])
	return nil
}

// positionJSON is the wire form of one record in the recorder's output
// file. Invalid parts serialize as null, matching the artifact contract.
type positionJSON struct {
	Label    string      `json:"label"`
	Valid    bool        `json:"valid"`
	X        float64     `json:"x"`
	Y        float64     `json:"y"`
	Heading  *[2]float64 `json:"heading"`
	Velocity *[2]float64 `json:"velocity"`
	Region   *string     `json:"region"`
}

// MarshalJSONRecord serializes the record under its source label.
func (p *Position) MarshalJSONRecord(label string) ([]byte, error) {
	out := positionJSON{
		Label: label,
		Valid: p.Valid&PositionValid != 0,
		X:     p.X,
		Y:     p.Y,
	}
	if p.Valid&HeadingValid != 0 {
		out.Heading = &[2]float64{p.HeadingX, p.HeadingY}
	}
	if p.Valid&VelocityValid != 0 {
		out.Velocity = &[2]float64{p.VX, p.VY}
	}
	if p.Valid&RegionValid != 0 {
		region := p.RegionString()
		out.Region = &region
	}
	return sonic.Marshal(&out)
}

// PositionSink binds a sink shaped for position records.
type PositionSink struct {
	Sink *Sink
	view []byte
}

// BindPositionSink binds address for one position record per sample.
func BindPositionSink(conf *Config, address string, samplePeriodNs uint64) (*PositionSink, error) {
	params := ConnectionParameters{
		Kind:           PayloadPosition,
		Bytes:          positionRecordLength,
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
	return &PositionSink{Sink: s, view: view}, nil
}

// Publish runs one full barrier cycle for the record.
func (ps *PositionSink) Publish(p *Position) error {
	state, err := ps.Sink.Wait()
	if err != nil {
		return err
	}
	if state == StateEnd {
		return ErrEndOfStream
	}
	if err := EncodePosition(ps.view, p); err != nil {
		return err
	}
	return ps.Sink.Post()
}

func (ps *PositionSink) Close() error { return ps.Sink.Close() }

// PositionSource attaches to a position node.
type PositionSource struct {
	Source *Source
	params ConnectionParameters
}

// ConnectPositionSource touches and connects address.
func ConnectPositionSource(conf *Config, address string) (*PositionSource, error) {
	c := NewSource(conf)
	if err := c.Touch(address); err != nil {
		return nil, err
	}
	params, err := c.Connect()
	if err != nil {
		c.Close()
		return nil, err
	}
	return &PositionSource{Source: c, params: params}, nil
}

// Next blocks for the next record and copies it into p.
func (pc *PositionSource) Next(p *Position) (NodeState, error) {
	state, err := pc.Source.Wait()
	if err != nil || state == StateEnd {
		return StateEnd, err
	}
	if err := DecodePosition(pc.Source.view(), p); err != nil {
		pc.Source.Post()
		return state, err
	}
	if err := pc.Source.Post(); err != nil {
		return state, err
	}
	return state, nil
}

func (pc *PositionSource) Close() error { return pc.Source.Close() }
