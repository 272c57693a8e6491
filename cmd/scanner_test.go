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

import "testing"

func newScanRepo() (*Repository, *Disk) {
	repo := NewRepository(4096, 1)
	d := NewDisk("d1", "/mnt/d1", "11111111-1111-1111-1111-111111111111")
	repo.AddDisk(d)
	return repo, d
}

func TestReconcileNewFileAllocatesBlocksWithOwner(t *testing.T) {
	repo, d := newScanRepo()
	entries := []ScanEntry{
		{Path: "a.bin", Size: 9000, MtimeSec: 100, Inode: 1},
	}

	report, err := Reconcile(repo, d, entries, nil, Options{})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.New != 1 {
		t.Fatalf("New = %d, want 1", report.New)
	}

	f := d.Files().ByPath("a.bin")
	if f == nil {
		t.Fatal("file a.bin missing after Reconcile")
	}
	if len(f.Blocks) != 3 {
		t.Fatalf("got %d blocks for a 9000-byte file at 4096 block size, want 3", len(f.Blocks))
	}
	for i, pos := range f.Blocks {
		owner, idx := repo.OwningFile(d, pos)
		if owner == nil || owner.ID != f.ID || idx != i {
			t.Fatalf("block %d: OwningFile = (%v, %d), want (%v, %d)", pos, owner, idx, f, i)
		}
		b := repo.BlockAt(d, pos)
		if b == nil || b.State != BlockCHG {
			t.Fatalf("block %d: state = %v, want BlockCHG", pos, b)
		}
	}
}

func TestReconcileUnchangedFileIsUntouched(t *testing.T) {
	repo, d := newScanRepo()
	f := &File{Path: "a.bin", Size: 4096, MtimeSec: 100, MtimeNs: 7, Inode: 1}
	d.Files().Add(f)
	pos := repo.AllocateBlock(d)
	f.Blocks = []uint32{pos}
	repo.Blocks().Set(d.Index(), pos, &Block{Pos: pos, State: BlockBLK, fileID: f.ID})

	entries := []ScanEntry{
		{Path: "a.bin", Size: 4096, MtimeSec: 100, MtimeNs: 7, Inode: 1},
	}
	report, err := Reconcile(repo, d, entries, nil, Options{})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Unchanged != 1 || report.Changed != 0 {
		t.Fatalf("report = %+v, want Unchanged=1 Changed=0", report)
	}
	b := repo.BlockAt(d, pos)
	if b.State != BlockBLK {
		t.Fatalf("unchanged file's block state = %v, want it left at BlockBLK", b.State)
	}
}

func TestReconcileChangedFileMarksBlocksCHG(t *testing.T) {
	repo, d := newScanRepo()
	f := &File{Path: "a.bin", Size: 4096, MtimeSec: 100, Inode: 1}
	d.Files().Add(f)
	pos := repo.AllocateBlock(d)
	f.Blocks = []uint32{pos}
	repo.Blocks().Set(d.Index(), pos, &Block{Pos: pos, State: BlockBLK, fileID: f.ID})

	entries := []ScanEntry{
		{Path: "a.bin", Size: 5000, MtimeSec: 200, Inode: 1},
	}
	report, err := Reconcile(repo, d, entries, nil, Options{})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Changed != 1 {
		t.Fatalf("Changed = %d, want 1", report.Changed)
	}
	b := repo.BlockAt(d, pos)
	if b.State != BlockCHG {
		t.Fatalf("changed file's block state = %v, want BlockCHG", b.State)
	}
	if f.Size != 5000 {
		t.Fatalf("file size not updated: got %d", f.Size)
	}
}

func TestReconcileRenameDetectsMove(t *testing.T) {
	repo, d := newScanRepo()
	f := &File{Path: "old/name.bin", Size: 4096, MtimeSec: 100, MtimeNs: 5, Inode: 42}
	d.Files().Add(f)
	pos := repo.AllocateBlock(d)
	f.Blocks = []uint32{pos}
	repo.Blocks().Set(d.Index(), pos, &Block{Pos: pos, State: BlockBLK, fileID: f.ID})

	entries := []ScanEntry{
		{Path: "new/name.bin", Size: 4096, MtimeSec: 100, MtimeNs: 5, Inode: 42},
	}
	report, err := Reconcile(repo, d, entries, nil, Options{})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.MovedCopied != 1 {
		t.Fatalf("MovedCopied = %d, want 1", report.MovedCopied)
	}
	if d.Files().ByPath("new/name.bin") == nil {
		t.Fatal("file not found under its new path after rename detection")
	}
	if d.Files().ByPath("old/name.bin") != nil {
		t.Fatal("file still found under its old path after rename detection")
	}
}

func TestReconcileDeletedFileTombstonesBlocks(t *testing.T) {
	repo, d := newScanRepo()
	f := &File{Path: "gone.bin", Size: 4096, MtimeSec: 100, Inode: 7}
	d.Files().Add(f)
	posBLK := repo.AllocateBlock(d)
	posCHG := repo.AllocateBlock(d)
	f.Blocks = []uint32{posBLK, posCHG}
	repo.Blocks().Set(d.Index(), posBLK, &Block{Pos: posBLK, State: BlockBLK, fileID: f.ID})
	repo.Blocks().Set(d.Index(), posCHG, &Block{Pos: posCHG, State: BlockCHG, fileID: f.ID})

	report, err := Reconcile(repo, d, nil, nil, Options{ForceEmpty: true})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Deleted != 1 {
		t.Fatalf("Deleted = %d, want 1", report.Deleted)
	}
	if d.Files().ByPath("gone.bin") != nil {
		t.Fatal("deleted file still present in file table")
	}
	if repo.BlockAt(d, posBLK).State != BlockDeleted {
		t.Fatalf("a BLK block of a deleted file should become BlockDeleted, got %v", repo.BlockAt(d, posBLK).State)
	}
	if repo.BlockAt(d, posCHG).State != BlockREL {
		t.Fatalf("a CHG block of a deleted file should become BlockREL, got %v", repo.BlockAt(d, posCHG).State)
	}
}

func TestReconcileSafetyGateRejectsMissingUUID(t *testing.T) {
	repo := NewRepository(4096, 1)
	d := NewDisk("d1", "/mnt/d1", "")
	d.UUID = ""
	repo.AddDisk(d)

	_, err := Reconcile(repo, d, nil, nil, Options{})
	if err == nil {
		t.Fatal("expected a safety-gate error for a disk with no UUID")
	}
}

func TestReconcileSafetyGateRejectsTooManyMissing(t *testing.T) {
	repo, d := newScanRepo()
	for i := 0; i < 4; i++ {
		f := &File{Path: string(rune('a' + i)), Size: 10, MtimeSec: 1, Inode: uint64(i)}
		d.Files().Add(f)
	}

	entries := []ScanEntry{
		{Path: "a", Size: 10, MtimeSec: 1, Inode: 0},
	}
	_, err := Reconcile(repo, d, entries, nil, Options{})
	if err == nil {
		t.Fatal("expected a safety-gate error when most known files vanished")
	}
}

func TestReconcileSafetyGateForceEmptyBypasses(t *testing.T) {
	repo, d := newScanRepo()
	for i := 0; i < 4; i++ {
		f := &File{Path: string(rune('a' + i)), Size: 10, MtimeSec: 1, Inode: uint64(i)}
		d.Files().Add(f)
	}

	entries := []ScanEntry{
		{Path: "a", Size: 10, MtimeSec: 1, Inode: 0},
	}
	if _, err := Reconcile(repo, d, entries, nil, Options{ForceEmpty: true}); err != nil {
		t.Fatalf("Reconcile with ForceEmpty: %v", err)
	}
}

func TestReconcileSafetyGateRejectsZeroedFile(t *testing.T) {
	repo, d := newScanRepo()
	f := &File{Path: "a.bin", Size: 4096, MtimeSec: 100, Inode: 1}
	d.Files().Add(f)

	entries := []ScanEntry{
		{Path: "a.bin", Size: 0, MtimeSec: 200, Inode: 1},
	}
	_, err := Reconcile(repo, d, entries, nil, Options{})
	if err == nil {
		t.Fatal("expected a safety-gate error when a known non-empty file shows up truncated to zero")
	}
	if _, err := Reconcile(repo, d, entries, nil, Options{ForceZero: true}); err != nil {
		t.Fatalf("Reconcile with ForceZero: %v", err)
	}
}
