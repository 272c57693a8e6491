//go:build linux

/*
 * snapguard, a snapshot-based parity protection tool
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

package cmd

import (
	"golang.org/x/sys/unix"
)

// platformFallocate grows f to size using the Linux fallocate(2) syscall
// (§4.F "Growth uses fallocate when available"), which both extends the
// file and asks the filesystem to reserve the space up front.
func platformFallocate(f fder, size int64) error {
	return unix.Fallocate(int(f.Fd()), 0, 0, size)
}

// platformFadviseSequential hints the kernel's readahead for sequential
// access (§4.F "Sequential mode hints the OS when enabled").
func platformFadviseSequential(f fder) error {
	return unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}
