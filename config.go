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
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is used to tune the dataflow fabric.
type Config struct {
	//Directory holding the shared region files. Keep it on a tmpfs.
	ShmDir string `yaml:"shm_dir"`

	//How long Source.Touch keeps retrying before giving up with NotFound.
	//The sink of an address usually starts a moment after its consumers.
	TouchRetryTimeout time.Duration `yaml:"touch_retry_timeout"`

	//Capacity of a bridge's sample queue. default is 1000
	BridgeCapacity int `yaml:"bridge_capacity"`

	//What a bridge does when its queue is full: drop the newest sample or
	//block the source-side loop.
	BridgePolicy BridgePolicy `yaml:"bridge_policy"`

	//Capacity of every per-stream frame queue in the recorder. default is 128
	FrameQueueCapacity int `yaml:"frame_queue_capacity"`

	//Frame rate written into the video containers.
	FramesPerSecond int `yaml:"frames_per_second"`

	//FourCC tag of the video containers. default is H264
	FourCC string `yaml:"fourcc"`

	//Directory the recorder writes artifacts into.
	SavePath string `yaml:"save_path"`

	//Base name of the recorder artifacts. Empty means the first source name.
	FileName string `yaml:"file_name"`

	//Prefix artifact names with the start date.
	AppendDate bool `yaml:"append_date"`

	//LogOutput is carried with the configuration; the internal logger does
	//not read it and always writes to stdout.
	LogOutput io.Writer `yaml:"-"`

	//Bridges and recorders emit their flow metrics to the Monitor when they close.
	Monitor Monitor `yaml:"-"`
}

//DefaultConfig is used to return a default configuration
func DefaultConfig() *Config {
	return &Config{
		ShmDir:             defaultShmDir,
		TouchRetryTimeout:  defaultTouchRetryTimeout,
		BridgeCapacity:     defaultBridgeCap,
		BridgePolicy:       DropNewest,
		FrameQueueCapacity: defaultFrameQueueCap,
		FramesPerSecond:    defaultFramesPerSecond,
		FourCC:             defaultFourCC,
		SavePath:           ".",
		LogOutput:          os.Stdout,
	}
}

//LoadConfig reads a yaml config file over the defaults.
func LoadConfig(path string) (*Config, error) {
	conf := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return conf, VerifyConfig(conf)
}

//VerifyConfig is used to verify the sanity of configuration
func VerifyConfig(config *Config) error {
	if config.ShmDir == "" {
		return errors.New("ShmDir could not be empty")
	}
	if config.BridgeCapacity <= 0 {
		return fmt.Errorf("BridgeCapacity must be positive, got %d", config.BridgeCapacity)
	}
	if config.FrameQueueCapacity <= 0 {
		return fmt.Errorf("FrameQueueCapacity must be positive, got %d", config.FrameQueueCapacity)
	}
	if config.FramesPerSecond <= 0 {
		return fmt.Errorf("FramesPerSecond must be positive, got %d", config.FramesPerSecond)
	}
	if len(config.FourCC) != 4 {
		return fmt.Errorf("FourCC must be 4 characters, got %q", config.FourCC)
	}
	if config.BridgePolicy != DropNewest && config.BridgePolicy != Block {
		return fmt.Errorf("unknown bridge policy %d", config.BridgePolicy)
	}
	if runtime.GOOS != "linux" {
		return ErrOSNonSupported
	}
	return nil
}
