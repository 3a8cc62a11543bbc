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
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ControlRecorder runs the line-oriented command loop of a recorder:
// start/stop toggle persistence, help prints the command block, exit
// returns. Unknown commands are reported and the rest of the line
// discarded. Returns 0 on a clean exit so callers can pass it straight
// through as the process exit code.
func ControlRecorder(in io.Reader, out io.Writer, r *Recorder, prompt bool) int {
	scanner := bufio.NewScanner(in)
	for {
		if prompt {
			fmt.Fprint(out, ">>> ")
		}
		if !scanner.Scan() {
			// input drained; treat like exit
			return 0
		}
		line := scanner.Text()
		cmd := line
		if i := strings.IndexAny(line, " \t"); i >= 0 {
			cmd = line[:i]
		}
		switch cmd {
		case "exit":
			fmt.Fprintln(out, "Received exit signal.")
			return 0
		case "help":
			printInteractiveUsage(out)
		case "start":
			r.SetRecordOn(true)
			fmt.Fprintln(out, "Recording ON.")
		case "stop":
			r.SetRecordOn(false)
			fmt.Fprintln(out, "Recording OFF.")
		case "":
			// blank line, nothing to do
		default:
			fmt.Fprintf(out, "Invalid command '%s'\n", cmd)
		}
	}
}

func printInteractiveUsage(out io.Writer) {
	fmt.Fprint(out, "COMMANDS\n"+
		"CMD         FUNCTION\n"+
		" help       Print this information.\n"+
		" start      Start recording. This will append a file if it\n"+
		"            already exists.\n"+
		" stop       Pause recording. This will pause\n"+
		"            recording and will not start a new file.\n"+
		" exit       Exit the program.\n")
}
