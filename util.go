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
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	syscall "golang.org/x/sys/unix"
)

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	if err != nil {
		return os.IsExist(err)
	}
	return true
}

//In Linux OS, there is a limitation which is the capacity of the tmpfs (which usually on the directory /dev/shm).
//if we do mmap on /dev/shm/xxx and the free memory of the tmpfs is not enough, mmap have no any error.
//but when program is running, it maybe crashed due to the bus error.
func canCreateOnDevShm(size uint64, path string) bool {
	if runtime.GOOS == "linux" && strings.Contains(path, "/dev/shm") {
		stat, err := disk.Usage("/dev/shm")
		if err != nil {
			internalLogger.warnf("could not read /dev/shm free size, canCreateOnDevShm default return true")
			return true
		}
		return stat.Free >= size
	}
	return true
}

// delete only existing regular files
func safeRemoveFile(filename string) bool {
	fileInfo, err := os.Stat(filename)
	if err != nil {
		internalLogger.warnf("%s Stat error %+v", filename, err)
		return false
	}

	if fileInfo.IsDir() {
		return false
	}

	if err := os.Remove(filename); err != nil {
		internalLogger.warnf("%s Remove error %+v", filename, err)
		return false
	}

	return true
}

// processAlive reports whether the process with the given pid still exists.
// Signal 0 performs the permission and existence checks without delivering.
func processAlive(pid uint32) bool {
	if pid == 0 {
		return false
	}
	err := syscall.Kill(int(pid), 0)
	return err == nil || err == syscall.EPERM
}
