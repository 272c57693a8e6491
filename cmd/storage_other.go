//go:build !linux && !darwin && !freebsd

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

import "os"

// platformStatFields falls back to ModTime-only precision with no inode
// number on platforms without a POSIX inode concept (e.g. Windows); the
// reconciler's inode comparison (§4.E step 2b) then degrades to
// size+mtime matching only.
func platformStatFields(fi os.FileInfo) (sec int64, ns uint32, inode uint64) {
	mt := fi.ModTime()
	return mt.Unix(), uint32(mt.Nanosecond()), 0
}
