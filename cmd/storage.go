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
	"io"
	"os"
	"time"
)

// DirEntry is one entry returned by StorageAPI.ReadDir (§4.E "Enumerate
// the disk's tree").
type DirEntry struct {
	Name  string
	IsDir bool
}

// StatInfo is the subset of file metadata the scanner needs to reconcile
// against the loaded content index (§3 "File", §4.E step 1).
type StatInfo struct {
	Size     int64
	MtimeSec int64
	MtimeNs  uint32
	Inode    uint64
	IsDir    bool
}

// StorageAPI is the narrow, minimal POSIX-style file API the core engine
// consumes; every OS-portability concern (long paths, Windows handle
// semantics, encoding) lives behind an implementation of this interface.
type StorageAPI interface {
	// Stat returns metadata for path without following a trailing
	// symlink component (lstat semantics).
	Stat(path string) (StatInfo, error)
	// ReadDir lists the immediate children of path.
	ReadDir(path string) ([]DirEntry, error)
	// Open opens path for random-access reads; ReadAt implementations
	// must not need their own locking across concurrent callers at
	// distinct offsets.
	Open(path string) (ReaderAtCloser, error)
	// Create opens (creating if needed) path for random-access writes
	// without truncating existing content, so a caller can overwrite a
	// single block in place inside a larger file.
	Create(path string) (ReadWriterAtCloser, error)
	// Rename atomically replaces oldpath with newpath (POSIX rename
	// semantics, §4.D "Atomic update protocol").
	Rename(oldpath, newpath string) error
	// Remove deletes path.
	Remove(path string) error
}

// ReaderAtCloser is satisfied by *os.File; kept as its own interface so
// tests can substitute an in-memory implementation.
type ReaderAtCloser interface {
	io.ReaderAt
	io.Closer
}

// ReadWriterAtCloser additionally supports writes, Sync and Truncate, the
// operations component F (parity file I/O) and the fix engine (§4.I) need
// on their destination files.
type ReadWriterAtCloser interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Sync() error
	Truncate(size int64) error
}

// osStorage is the default StorageAPI, backed directly by the os package.
// It is intentionally unexported: production callers obtain it via
// NewOSStorage, keeping the possibility of swapping in a different
// implementation (network mount, test double) without touching the core
// engine's exported surface.
type osStorage struct{}

// NewOSStorage returns the default StorageAPI backed by the local
// filesystem.
func NewOSStorage() StorageAPI { return osStorage{} }

func (osStorage) Stat(path string) (StatInfo, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return StatInfo{}, err
	}
	return statInfoFromFileInfo(fi), nil
}

func (osStorage) ReadDir(path string) ([]DirEntry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, DirEntry{Name: e.Name(), IsDir: e.IsDir()})
	}
	return out, nil
}

func (osStorage) Open(path string) (ReaderAtCloser, error) {
	return os.Open(path)
}

func (osStorage) Create(path string) (ReadWriterAtCloser, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (osStorage) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }
func (osStorage) Remove(path string) error             { return os.Remove(path) }

// platformStatFields is implemented per-OS (storage_unix.go /
// storage_other.go) since nanosecond mtimes and inode numbers live in
// OS-specific stat structures the standard library does not expose
// uniformly.
func statInfoFromFileInfo(fi os.FileInfo) StatInfo {
	sec, ns, ino := platformStatFields(fi)
	return StatInfo{
		Size:     fi.Size(),
		MtimeSec: sec,
		MtimeNs:  ns,
		Inode:    ino,
		IsDir:    fi.IsDir(),
	}
}

// nowStat builds a StatInfo value from a size, mtime and inode without
// touching the filesystem. Nothing in the package calls it.
func nowStat(size int64, mtime time.Time, inode uint64) StatInfo {
	return StatInfo{
		Size:     size,
		MtimeSec: mtime.Unix(),
		MtimeNs:  uint32(mtime.Nanosecond()),
		Inode:    inode,
	}
}
