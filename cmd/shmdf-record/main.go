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

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	shmdf "github.com/visionflow/shmdf-go"
)

var (
	configPath      string
	frameSources    []string
	positionSources []string
	savePath        string
	fileName        string
	appendDate      bool
	fps             int
	fourcc          string
	interactive     bool
)

func main() {
	root := &cobra.Command{
		Use:   "shmdf-record",
		Short: "Record frame and position streams to video and JSON artifacts",
		Long: "shmdf-record attaches to the named frame and position nodes, reads one\n" +
			"synchronized sample from each per tick and persists every stream to its\n" +
			"own artifact. Recording is toggled through stdin: start, stop, help, exit.",
		RunE: run,
	}
	flags := root.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "yaml configuration file")
	flags.StringSliceVarP(&frameSources, "frame-source", "f", nil, "frame node address (repeatable)")
	flags.StringSliceVarP(&positionSources, "position-source", "p", nil, "position node address (repeatable)")
	flags.StringVarP(&savePath, "save-path", "d", "", "directory to write artifacts into")
	flags.StringVarP(&fileName, "file-name", "n", "", "base name of the artifacts")
	flags.BoolVar(&appendDate, "date", false, "prefix artifact names with the start date")
	flags.IntVar(&fps, "fps", 0, "video frame rate")
	flags.StringVar(&fourcc, "fourcc", "", "video codec FourCC tag")
	flags.BoolVarP(&interactive, "interactive", "i", true, "accept control commands on stdin")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	conf, err := loadConf()
	if err != nil {
		return err
	}
	if len(frameSources) == 0 && len(positionSources) == 0 {
		return fmt.Errorf("at least one --frame-source or --position-source is required")
	}

	recorder := shmdf.NewRecorder(conf, frameSources, positionSources)
	if err := recorder.ConnectToNode(); err != nil {
		return err
	}
	defer recorder.Close()

	stop := make(chan struct{})
	drained := make(chan error, 1)
	go func() {
		drained <- shmdf.RunComponent(recorder, stop)
	}()

	if interactive {
		code := shmdf.ControlRecorder(os.Stdin, os.Stdout, recorder, true)
		close(stop)
		recorder.Stop()
		<-drained
		if err := recorder.Close(); err != nil {
			return err
		}
		os.Exit(code)
	}
	if err := <-drained; err != nil {
		return err
	}
	return recorder.Close()
}

func loadConf() (*shmdf.Config, error) {
	var conf *shmdf.Config
	var err error
	if configPath != "" {
		conf, err = shmdf.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		conf = shmdf.DefaultConfig()
	}
	if savePath != "" {
		conf.SavePath = savePath
	}
	if fileName != "" {
		conf.FileName = fileName
	}
	if appendDate {
		conf.AppendDate = true
	}
	if fps > 0 {
		conf.FramesPerSecond = fps
	}
	if fourcc != "" {
		conf.FourCC = fourcc
	}
	return conf, shmdf.VerifyConfig(conf)
}
