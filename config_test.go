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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_VerifyConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, nil, VerifyConfig(config))

	config.ShmDir = ""
	assert.NotEqual(t, nil, VerifyConfig(config))
	config.ShmDir = defaultShmDir

	config.BridgeCapacity = 0
	assert.NotEqual(t, nil, VerifyConfig(config))
	config.BridgeCapacity = defaultBridgeCap

	config.FrameQueueCapacity = -1
	assert.NotEqual(t, nil, VerifyConfig(config))
	config.FrameQueueCapacity = defaultFrameQueueCap

	config.FramesPerSecond = 0
	assert.NotEqual(t, nil, VerifyConfig(config))
	config.FramesPerSecond = defaultFramesPerSecond

	config.FourCC = "TOOLONG"
	assert.NotEqual(t, nil, VerifyConfig(config))
	config.FourCC = defaultFourCC

	config.BridgePolicy = BridgePolicy(7)
	assert.NotEqual(t, nil, VerifyConfig(config))
	config.BridgePolicy = Block

	assert.Equal(t, nil, VerifyConfig(config))
}

func Test_LoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf.yaml")
	content := "shm_dir: /dev/shm\n" +
		"touch_retry_timeout: 2s\n" +
		"bridge_capacity: 64\n" +
		"frames_per_second: 25\n" +
		"fourcc: MJPG\n" +
		"save_path: /tmp\n" +
		"append_date: true\n"
	assert.Equal(t, nil, os.WriteFile(path, []byte(content), 0o644))

	conf, err := LoadConfig(path)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2*time.Second, conf.TouchRetryTimeout)
	assert.Equal(t, 64, conf.BridgeCapacity)
	assert.Equal(t, 25, conf.FramesPerSecond)
	assert.Equal(t, "MJPG", conf.FourCC)
	assert.Equal(t, "/tmp", conf.SavePath)
	assert.Equal(t, true, conf.AppendDate)
	// untouched keys keep their defaults
	assert.Equal(t, defaultFrameQueueCap, conf.FrameQueueCapacity)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.NotEqual(t, nil, err)
}

func Test_LoadConfigRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	assert.Equal(t, nil, os.WriteFile(path, []byte("frames_per_second: [nope"), 0o644))
	_, err := LoadConfig(path)
	assert.NotEqual(t, nil, err)
}
