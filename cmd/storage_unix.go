//go:build linux || darwin || freebsd

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
	"os"
	"syscall"
)

// platformStatFields extracts the nanosecond mtime (already carried by
// os.FileInfo.ModTime on unix-family platforms) and the inode number from
// fi's underlying syscall.Stat_t, which only unix-family platforms expose.
// This is the one narrow seam where the engine reaches into a
// platform-specific struct, behind a build tag.
func platformStatFields(fi os.FileInfo) (sec int64, ns uint32, inode uint64) {
	mt := fi.ModTime()
	sec, ns = mt.Unix(), uint32(mt.Nanosecond())
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		inode = st.Ino
	}
	return sec, ns, inode
}
