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

// fileID is a stable, per-disk handle for a File, used as the owning-file
// back-reference from Block instead of a pointer.
type fileID uint32

// File is one regular file tracked on a disk (§3 "File").
type File struct {
	ID       fileID
	Path     string // disk-relative path
	Size     int64
	MtimeSec int64
	MtimeNs  uint32
	Inode    uint64

	// Blocks is the ordered sequence of block positions that make up
	// this file's content, len(Blocks) == SplitIntoBlocks(Size, blockSize).
	Blocks []uint32
}

// SplitIntoBlocks returns the number of blocks a file of the given size
// occupies under blockSize, per the invariant len(blocks) = ceil(size /
// block_size) (§3 "File"). A zero-size file still occupies one block so
// every file has at least one hashable (zero-padded) slot; callers that
// need to special-case empty files do so explicitly.
func SplitIntoBlocks(size int64, blockSize uint32) int {
	if size <= 0 {
		return 1
	}
	n := size / int64(blockSize)
	if size%int64(blockSize) != 0 {
		n++
	}
	return int(n)
}

// FileTable holds every File known on a disk, keyed by fileID, and a
// secondary path index for O(1) exact-path lookups during reconciliation
// (§4.E step 2a).
type FileTable struct {
	byID   map[fileID]*File
	byPath map[string]*File
	nextID fileID
}

// NewFileTable returns an empty FileTable.
func NewFileTable() *FileTable {
	return &FileTable{
		byID:   make(map[fileID]*File),
		byPath: make(map[string]*File),
	}
}

// Add registers f, assigning it a fresh ID, and returns the assigned ID.
func (t *FileTable) Add(f *File) fileID {
	t.nextID++
	f.ID = t.nextID
	t.byID[f.ID] = f
	t.byPath[f.Path] = f
	return f.ID
}

// Remove drops f from the table.
func (t *FileTable) Remove(f *File) {
	delete(t.byID, f.ID)
	delete(t.byPath, f.Path)
}

// Rename updates the path index after f.Path has been mutated by the
// caller (used by the reconciler's rename/move handling, §4.E step 2b).
func (t *FileTable) Rename(f *File, newPath string) {
	delete(t.byPath, f.Path)
	f.Path = newPath
	t.byPath[newPath] = f
}

// ByPath returns the file at path, or nil.
func (t *FileTable) ByPath(path string) *File {
	return t.byPath[path]
}

// ByID returns the file with id, or nil.
func (t *FileTable) ByID(id fileID) *File {
	return t.byID[id]
}

// All returns every file in the table, in unspecified order.
func (t *FileTable) All() []*File {
	out := make([]*File, 0, len(t.byID))
	for _, f := range t.byID {
		out = append(out, f)
	}
	return out
}
