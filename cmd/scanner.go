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
	"path"
	"sort"

	lru "github.com/hashicorp/golang-lru"

	"github.com/snapguard/snapguard/cmd/logger"
)

// scanCacheSize bounds the scanner's copy-detection indexes; a cache miss
// degrades to "no candidate found", which only ever costs a fresh CHG
// allocation instead of a copy/move reuse, never incorrect data.
const scanCacheSize = 1 << 16

// ScanEntry is one regular file discovered while walking a disk's tree
// (§4.E step 1).
type ScanEntry struct {
	Path     string
	Size     int64
	MtimeSec int64
	MtimeNs  uint32
	Inode    uint64
}

// WalkDisk enumerates d's filesystem tree through storage, applying
// filters, and returns one ScanEntry per regular file that survives
// filtering, in a stable (depth-first, name-sorted) order.
func WalkDisk(storage StorageAPI, root string, filters *FilterList) ([]ScanEntry, error) {
	var out []ScanEntry
	if err := walkDir(storage, root, "", filters, &out); err != nil {
		return nil, Wrap(KindDiskAbsent, "scanner.walk", err)
	}
	return out, nil
}

func walkDir(storage StorageAPI, root, rel string, filters *FilterList, out *[]ScanEntry) error {
	entries, err := storage.ReadDir(path.Join(root, rel))
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	for _, e := range entries {
		childRel := path.Join(rel, e.Name)
		if filters != nil && !filters.MatchPath(childRel) {
			continue
		}
		if e.IsDir {
			if err := walkDir(storage, root, childRel, filters, out); err != nil {
				return err
			}
			continue
		}
		st, err := storage.Stat(path.Join(root, childRel))
		if err != nil {
			logger.LogIf(logger.Fields{Phase: "scan"}, err)
			continue
		}
		*out = append(*out, ScanEntry{
			Path:     childRel,
			Size:     st.Size,
			MtimeSec: st.MtimeSec,
			MtimeNs:  st.MtimeNs,
			Inode:    st.Inode,
		})
	}
	return nil
}

// statKey is the (size, mtime_s, mtime_ns, inode) tuple used for
// move/copy detection (§4.E step 2b).
type statKey struct {
	size     int64
	mtimeSec int64
	mtimeNs  uint32
	inode    uint64
}

// ScanReport summarizes one disk's reconciliation (§4.E).
type ScanReport struct {
	Unchanged   int
	Changed     int
	MovedCopied int
	ContentCopy int
	New         int
	Deleted     int
	NanoFilled  int
}

// firstBlockReader reads the first blockSize bytes of a disk-relative
// path, used for the content-based copy probe in §4.E step 2c.
type firstBlockReader func(relPath string) ([]byte, error)

// Reconcile implements the §4.E cascade: it walks entries (already
// filtered) against the files currently recorded for d, updating blocks
// and returning a summary. opts carries the safety-gate overrides.
func Reconcile(repo *Repository, d *Disk, entries []ScanEntry, readFirstBlock firstBlockReader, opts Options) (*ScanReport, error) {
	report := &ScanReport{}

	if err := checkSafetyGates(repo, d, entries, opts); err != nil {
		return nil, err
	}

	// statIndex lets step 2b find a (size, mtime, inode) match among files
	// no longer present under their old path. It keeps one file per tuple,
	// the last one in All() order; when that file is still present under
	// its own path, no move is detected for the tuple.
	statIndex, _ := lru.New(scanCacheSize)
	for _, f := range d.Files().All() {
		statIndex.Add(statKey{f.Size, f.MtimeSec, f.MtimeNs, f.Inode}, f)
	}

	// hashIndex lets step 2c find a block hash already known to the
	// repository on this disk, the seed for a content-based copy probe.
	hashIndex, _ := lru.New(scanCacheSize)
	repo.Blocks().ForEachDisk(d.Index(), func(pos uint32, b *Block) {
		if b.State.Protected() {
			hashIndex.Add(b.Hash, pos)
		}
	})

	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		present[e.Path] = true
	}

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		seen[e.Path] = true

		if f := d.Files().ByPath(e.Path); f != nil {
			if f.Size == e.Size && f.MtimeSec == e.MtimeSec && sameNanos(f, e) {
				if f.MtimeNs == 0 && e.MtimeNs != 0 && f.Inode == e.Inode {
					f.MtimeNs = e.MtimeNs
					report.NanoFilled++
				}
				report.Unchanged++
				continue
			}
			markFileChanged(repo, d, f)
			f.Size, f.MtimeSec, f.MtimeNs, f.Inode = e.Size, e.MtimeSec, e.MtimeNs, e.Inode
			report.Changed++
			continue
		}

		if v, ok := statIndex.Get(statKey{e.Size, e.MtimeSec, e.MtimeNs, e.Inode}); ok {
			if f, ok := v.(*File); ok && !present[f.Path] {
				d.Files().Rename(f, e.Path)
				report.MovedCopied++
				continue
			}
		}

		if !opts.ForceNocopy {
			if f := firstBlockCopyCandidate(repo, d, e, present, hashIndex, readFirstBlock); f != nil {
				d.Files().Rename(f, e.Path)
				report.ContentCopy++
				continue
			}
		}

		newFile := &File{Path: e.Path, Size: e.Size, MtimeSec: e.MtimeSec, MtimeNs: e.MtimeNs, Inode: e.Inode}
		d.Files().Add(newFile)
		n := SplitIntoBlocks(e.Size, repo.BlockSize)
		newFile.Blocks = make([]uint32, n)
		for i := 0; i < n; i++ {
			pos := repo.AllocateBlock(d)
			newFile.Blocks[i] = pos
			repo.Blocks().Set(d.Index(), pos, &Block{Pos: pos, State: BlockCHG, fileID: newFile.ID})
		}
		report.New++
	}

	for _, f := range d.Files().All() {
		if seen[f.Path] {
			continue
		}
		markFileDeleted(repo, d, f)
		d.Files().Remove(f)
		report.Deleted++
	}

	return report, nil
}

func sameNanos(f *File, e ScanEntry) bool {
	if f.MtimeNs == 0 {
		return true // legacy entry; nanosecond upgrade is handled by the caller
	}
	return f.MtimeNs == e.MtimeNs
}

// firstBlockCopyCandidate implements §4.E step 2c: a hash hit against a
// still-live, not-yet-matched file identifies a content-copy candidate.
// Full-file verification (reading and hashing every remaining block)
// is the caller's responsibility once a candidate is accepted, since it
// requires the sync engine's read path rather than just the first block.
func firstBlockCopyCandidate(repo *Repository, d *Disk, e ScanEntry, present map[string]bool, hashIndex *lru.Cache, readFirstBlock firstBlockReader) *File {
	if readFirstBlock == nil {
		return nil
	}
	block, err := readFirstBlock(e.Path)
	if err != nil {
		return nil
	}
	padded := PaddedBlock(block, repo.BlockSize)
	verifier := NewRehashVerifier(repo)
	want := verifier.Current(padded)
	if _, ok := hashIndex.Get(want); !ok {
		return nil
	}
	for _, f := range d.Files().All() {
		if present[f.Path] || len(f.Blocks) == 0 {
			continue
		}
		if b := repo.BlockAt(d, f.Blocks[0]); b != nil && b.Hash == want {
			return f
		}
	}
	return nil
}

func markFileChanged(repo *Repository, d *Disk, f *File) {
	for _, pos := range f.Blocks {
		if b := repo.BlockAt(d, pos); b != nil {
			b.State = BlockCHG
		}
	}
}

func markFileDeleted(repo *Repository, d *Disk, f *File) {
	for _, pos := range f.Blocks {
		b := repo.BlockAt(d, pos)
		if b == nil {
			continue
		}
		switch b.State {
		case BlockBLK:
			b.State = BlockDeleted
		case BlockCHG:
			b.State = BlockREL
		}
	}
}

// checkSafetyGates implements §4.E "Safety gates".
func checkSafetyGates(repo *Repository, d *Disk, entries []ScanEntry, opts Options) error {
	if !opts.ForceUUID && d.UUID == "" {
		return Wrap(KindConfiguration, "scanner.safety", ErrUUIDChanged)
	}
	if !opts.ForceDevice {
		for _, other := range repo.Disks() {
			if other.Index() != d.Index() && other.DeviceID != 0 && other.DeviceID == d.DeviceID {
				return Wrap(KindConfiguration, "scanner.safety", ErrDeviceClash)
			}
		}
	}
	if !opts.ForceEmpty {
		known := len(d.Files().All())
		if known > 0 {
			present := make(map[string]bool, len(entries))
			for _, e := range entries {
				present[e.Path] = true
			}
			missing := 0
			for _, f := range d.Files().All() {
				if !present[f.Path] {
					missing++
				}
			}
			if missing*2 > known {
				return Wrap(KindConfiguration, "scanner.safety", ErrTooManyMissing)
			}
		}
	}
	if !opts.ForceZero {
		bySize := make(map[string]int64, len(entries))
		for _, e := range entries {
			bySize[e.Path] = e.Size
		}
		for _, f := range d.Files().All() {
			if f.Size > 0 {
				if sz, ok := bySize[f.Path]; ok && sz == 0 {
					return Wrap(KindConfiguration, "scanner.safety", ErrZeroedFile)
				}
			}
		}
	}
	return nil
}
