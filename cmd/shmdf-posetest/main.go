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
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	syscall "golang.org/x/sys/unix"

	shmdf "github.com/visionflow/shmdf-go"
)

var (
	configPath string
	rate       float64
	samples    uint64
	seed       int64
)

func main() {
	root := &cobra.Command{
		Use:   "shmdf-posetest <sink-address>",
		Short: "Publish synthetic positions to a node",
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}
	flags := root.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "yaml configuration file")
	flags.Float64VarP(&rate, "rate", "r", 30, "samples per second")
	flags.Uint64Var(&samples, "samples", 0, "stop after this many samples, 0 means run until interrupted")
	flags.Int64Var(&seed, "seed", time.Now().UnixNano(), "random walk seed")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	var conf *shmdf.Config
	var err error
	if configPath != "" {
		conf, err = shmdf.LoadConfig(configPath)
		if err != nil {
			return err
		}
	}

	gen := shmdf.NewTestPosition(conf, args[0], rate, seed)
	if err := gen.ConnectToNode(); err != nil {
		return err
	}
	defer gen.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	var published uint64
	for samples == 0 || published < samples {
		select {
		case <-sig:
			return gen.Close()
		default:
		}
		state, err := gen.Process()
		if err != nil {
			return err
		}
		if state == shmdf.StateEnd {
			break
		}
		published++
	}
	return gen.Close()
}
