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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestControlRecorderCommands(t *testing.T) {
	r := NewRecorder(testConfig(), nil, nil)
	in := strings.NewReader("stop\nstart\nbogus extra words\nhelp\nexit\n")
	var out bytes.Buffer

	code := ControlRecorder(in, &out, r, false)
	assert.Equal(t, 0, code)

	output := out.String()
	assert.Contains(t, output, "Recording OFF.")
	assert.Contains(t, output, "Recording ON.")
	assert.Contains(t, output, "Invalid command 'bogus'")
	assert.Contains(t, output, "COMMANDS")
	assert.Contains(t, output, "Received exit signal.")
	// start was the last toggle before exit
	assert.Equal(t, true, r.RecordOn())
}

func TestControlRecorderStopToggles(t *testing.T) {
	r := NewRecorder(testConfig(), nil, nil)
	var out bytes.Buffer
	code := ControlRecorder(strings.NewReader("stop\nexit\n"), &out, r, false)
	assert.Equal(t, 0, code)
	assert.Equal(t, false, r.RecordOn())
}

func TestControlRecorderDrainedInputExits(t *testing.T) {
	r := NewRecorder(testConfig(), nil, nil)
	var out bytes.Buffer
	code := ControlRecorder(strings.NewReader(""), &out, r, false)
	assert.Equal(t, 0, code)
}

func TestControlRecorderPrompt(t *testing.T) {
	r := NewRecorder(testConfig(), nil, nil)
	var out bytes.Buffer
	ControlRecorder(strings.NewReader("exit\n"), &out, r, true)
	assert.Contains(t, out.String(), ">>> ")
}
