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
	"sort"

	uuid "github.com/satori/go.uuid"

	"github.com/snapguard/snapguard/cmd/logger"
)

// MaxParityLevel is the largest parity level the codec and on-disk formats
// support (§3 "Repository").
const MaxParityLevel = 6

// Disk is one independently-managed, member data disk (§3 "Disk"). Its
// Index is stable across runs once assigned (Repository.AddDisk): it is the
// disk's column in the parity matrix and must never be reused for a
// different physical disk without an explicit remove.
type Disk struct {
	Name     string // stable, operator-chosen name
	UUID     string
	DeviceID uint64
	Path     string

	files *FileTable

	// index is the disk's column in the parity matrix; 0 means
	// "unassigned".
	index uint16
}

// Index returns the disk's assigned column, or 0 if the disk has not yet
// been registered with Repository.AddDisk.
func (d *Disk) Index() uint16 { return d.index }

// Files returns the disk's file table.
func (d *Disk) Files() *FileTable { return d.files }

// NewDisk constructs a Disk with an empty file table. If uuid is empty, one
// is generated from a cryptographic source via satori/go.uuid, per the
// "generated at repository init" rule for disk identity (§3).
func NewDisk(name, path string, existingUUID string) *Disk {
	id := existingUUID
	if id == "" {
		id = uuid.NewV4().String()
	}
	return &Disk{
		Name:  name,
		UUID:  id,
		Path:  path,
		files: NewFileTable(),
	}
}

// Repository is the top-level configuration and loaded model for one
// snapguard repository (§3 "Repository").
type Repository struct {
	BlockSize   uint32
	Parity      int // parity level p, 1..MaxParityLevel
	HashAlgo    HashAlgoID
	HashSeed    [HashSize]byte
	PrevHash    *PrevHash // non-nil only during a rehash transition
	ParityPaths []string  // len == Parity

	disks    []*Disk
	blocks   *BlockTable
	nextIdx  uint16
	allocPos map[uint16]uint32 // diskIndex -> next fresh pos if no tombstone fits
}

// PrevHash carries the superseded hash algorithm/seed during a rehash
// transition (§4.B "rehash").
type PrevHash struct {
	Algo HashAlgoID
	Seed [HashSize]byte
}

// NewRepository constructs an empty Repository with the given block size
// and parity level. blockSize must be a power of two in [1KiB, 64MiB] and
// parity must be in [1, MaxParityLevel]; both are validated by the caller
// at configuration time (component M), not here, since this constructor is
// also used directly by tests.
func NewRepository(blockSize uint32, parity int) *Repository {
	return &Repository{
		BlockSize: blockSize,
		Parity:    parity,
		blocks:    NewBlockTable(),
		allocPos:  make(map[uint16]uint32),
	}
}

// Blocks returns the repository's global block table.
func (r *Repository) Blocks() *BlockTable { return r.blocks }

// Disks returns every disk registered with the repository, ordered by
// index.
func (r *Repository) Disks() []*Disk {
	out := make([]*Disk, len(r.disks))
	copy(out, r.disks)
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out
}

// DiskByName returns the disk registered under name, or nil.
func (r *Repository) DiskByName(name string) *Disk {
	for _, d := range r.disks {
		if d.Name == name {
			return d
		}
	}
	return nil
}

// AddDisk registers d with the repository, assigning it a stable index if
// it does not already have one (disk.assign_index, §4.C). Re-adding a disk
// that already carries an index (e.g. reloaded from the content index)
// preserves that index.
func (r *Repository) AddDisk(d *Disk) {
	if d.index == 0 {
		r.nextIdx++
		d.index = r.nextIdx
	} else if d.index >= r.nextIdx {
		r.nextIdx = d.index
	}
	r.disks = append(r.disks, d)
}

// AllocateBlock assigns disk a pos for a new block, using a first-fit
// policy across REL/DELETED tombstones on that disk before appending a
// fresh position (§4.C "Block allocation policy"). The allocator is
// deterministic given the table's iteration order is made so by the
// caller (the scanner always calls this in disk-path order, which is what
// makes the resulting content index byte-stable for a given input, §8.4).
func (r *Repository) AllocateBlock(d *Disk) uint32 {
	var reusable uint32
	found := false
	r.blocks.ForEachDisk(d.index, func(pos uint32, b *Block) {
		if b.State.Tombstone() && (!found || pos < reusable) {
			reusable = pos
			found = true
		}
	})
	if found {
		return reusable
	}
	pos := r.allocPos[d.index]
	r.allocPos[d.index] = pos + 1
	return pos
}

// FreeBlock clears disk's block at pos entirely. Sync does not call it: a
// tombstone whose parity contribution has been zeroed stays in the table,
// marked Cleared, and remains available to AllocateBlock.
func (r *Repository) FreeBlock(d *Disk, pos uint32) {
	r.blocks.Delete(d.index, pos)
}

// OwningFile returns the file that owns disk's block at pos and that
// block's index within the file's Blocks slice (so the caller can derive
// its byte offset), or (nil, -1) if pos is unallocated or orphaned.
func (r *Repository) OwningFile(d *Disk, pos uint32) (*File, int) {
	b := r.BlockAt(d, pos)
	if b == nil {
		return nil, -1
	}
	f := d.Files().ByID(b.fileID)
	if f == nil {
		return nil, -1
	}
	for i, p := range f.Blocks {
		if p == pos {
			return f, i
		}
	}
	return nil, -1
}

// BlockAt returns disk's block at pos, or nil if unallocated.
func (r *Repository) BlockAt(d *Disk, pos uint32) *Block {
	return r.blocks.Get(d.index, pos)
}

// GlobalBlockCount returns one past the highest pos allocated to any disk,
// i.e. the size of the shared parity address space (§3 "Block address
// space").
func (r *Repository) GlobalBlockCount() uint32 {
	var max uint32
	for _, d := range r.disks {
		if next := r.allocPos[d.index]; next > max {
			max = next
		}
		r.blocks.ForEachDisk(d.index, func(pos uint32, _ *Block) {
			if pos+1 > max {
				max = pos + 1
			}
		})
	}
	return max
}

// DiskUsage summarizes one disk's contribution to the repository for
// diagnostics (§2 component K).
type DiskUsage struct {
	Name         string
	Index        uint16
	Files        int
	BlocksBLK    int
	BlocksCHG    int
	BlocksTomb   int
	BusySeconds  float64
}

// diskUsageAccounting collects per-disk accounting over block states
// rather than byte totals, since this tool has no notion of disk capacity
// beyond what its own content index tracks.
func (r *Repository) diskUsageAccounting(sched *Scheduler) []DiskUsage {
	out := make([]DiskUsage, 0, len(r.disks))
	for _, d := range r.disks {
		u := DiskUsage{Name: d.Name, Index: d.index, Files: len(d.files.All())}
		r.blocks.ForEachDisk(d.index, func(_ uint32, b *Block) {
			switch b.State {
			case BlockBLK:
				u.BlocksBLK++
			case BlockCHG:
				u.BlocksCHG++
			case BlockREL, BlockDeleted:
				u.BlocksTomb++
			}
		})
		if sched != nil {
			u.BusySeconds = sched.DiskBusy(d.index).Seconds()
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// StorageInfo aggregates usage across every disk in the repository.
func (r *Repository) StorageInfo(sched *Scheduler) []DiskUsage {
	usage := r.diskUsageAccounting(sched)
	for _, u := range usage {
		logger.Infof(logger.Fields{Phase: "status", Disk: u.Name}, "files=%d blk=%d chg=%d tomb=%d",
			u.Files, u.BlocksBLK, u.BlocksCHG, u.BlocksTomb)
	}
	return usage
}
