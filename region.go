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
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	syscall "golang.org/x/sys/unix"
)

// sharedRegion is one OS-named, process-shared byte range. The region file
// lives under the shm directory as `<address>_sh_mem`; offset 0 holds the
// node header, then the side header, then the payload.
type sharedRegion struct {
	address string
	path    string
	mem     []byte
	owner   bool
}

func regionPath(dir, address string) string {
	return filepath.Join(dir, address+regionSuffix)
}

// createSharedRegion allocates and zeroes the region file for a sink.
// Any leftover file at the path belongs to a previous run; the caller
// decides whether it may be reclaimed before calling this.
func createSharedRegion(dir, address string, size int) (*sharedRegion, error) {
	if runtime.GOOS != "linux" {
		return nil, ErrOSNonSupported
	}
	path := regionPath(dir, address)
	if len(filepath.Base(path)) > fileNameMaxLen {
		return nil, fmt.Errorf("region name too long:%s", path)
	}
	//ignore mkdir error
	_ = os.MkdirAll(filepath.Dir(path), os.ModePerm)
	if !canCreateOnDevShm(uint64(size), path) {
		return nil, fmt.Errorf("%w path:%s size:%d", ErrInsufficientMemory, path, size)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, os.ModePerm)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		return nil, fmt.Errorf("truncate share memory failed,%s", err.Error())
	}
	mem, err := syscall.Mmap(int(f.Fd()), 0, size, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %s: %s", ErrInsufficientMemory, path, err.Error())
	}
	for i := 0; i < len(mem); i++ {
		mem[i] = 0
	}
	return &sharedRegion{
		address: address,
		path:    path,
		mem:     mem,
		owner:   true,
	}, nil
}

// openSharedRegion maps an existing region read/write. Sources open the
// region this way; their writes only touch the synchronization fields.
func openSharedRegion(dir, address string) (*sharedRegion, error) {
	if runtime.GOOS != "linux" {
		return nil, ErrOSNonSupported
	}
	path := regionPath(dir, address)
	f, err := os.OpenFile(path, os.O_RDWR, os.ModePerm)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()
	fileInfo, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := int(fileInfo.Size())
	if size < nodeHeaderLength+sideHeaderLength {
		return nil, ErrNodeCorrupt
	}
	mem, err := syscall.Mmap(int(f.Fd()), 0, size, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return &sharedRegion{
		address: address,
		path:    path,
		mem:     mem,
	}, nil
}

// unmap releases the mapping. The owning sink also removes the file, which
// ends the region's OS-global name; live mappings in other processes stay
// valid until they unmap.
func (r *sharedRegion) unmap() {
	if r.mem == nil {
		return
	}
	if err := syscall.Munmap(r.mem); err != nil {
		internalLogger.warnf("sharedRegion unmap error:" + err.Error())
	}
	r.mem = nil
	if r.owner {
		if safeRemoveFile(r.path) {
			internalLogger.infof("sharedRegion removed file:%s", r.path)
		}
	}
}

// removeRegionFile clears a stale region by name, the out-of-band janitor
// path for a sink that died holding the node.
func removeRegionFile(dir, address string) bool {
	return safeRemoveFile(regionPath(dir, address))
}
