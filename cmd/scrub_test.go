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
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// setupRepairEngine builds a two-disk, single-block-per-disk repository
// with one parity level, syncs it once, and returns the engine alongside
// the two on-disk file paths and the parity file path so a test can flip
// bits directly on storage.
func setupRepairEngine(t *testing.T, blockSize uint32, d1data, d2data []byte) (e *Engine, path1, path2, parityPath string) {
	t.Helper()
	root1 := t.TempDir()
	root2 := t.TempDir()
	path1 = filepath.Join(root1, "a.bin")
	path2 = filepath.Join(root2, "a.bin")
	if err := os.WriteFile(path1, d1data, 0o644); err != nil {
		t.Fatalf("WriteFile d1: %v", err)
	}
	if err := os.WriteFile(path2, d2data, 0o644); err != nil {
		t.Fatalf("WriteFile d2: %v", err)
	}

	repo := NewRepository(blockSize, 1)
	repo.HashAlgo = HashMurmur3
	d1 := NewDisk("d1", root1, "")
	d2 := NewDisk("d2", root2, "")
	repo.AddDisk(d1)
	repo.AddDisk(d2)

	f1 := &File{Path: "a.bin", Size: int64(len(d1data))}
	d1.Files().Add(f1)
	pos1 := repo.AllocateBlock(d1)
	f1.Blocks = []uint32{pos1}
	repo.Blocks().Set(d1.Index(), pos1, &Block{Pos: pos1, State: BlockCHG, fileID: f1.ID})

	f2 := &File{Path: "a.bin", Size: int64(len(d2data))}
	d2.Files().Add(f2)
	pos2 := repo.AllocateBlock(d2)
	f2.Blocks = []uint32{pos2}
	repo.Blocks().Set(d2.Index(), pos2, &Block{Pos: pos2, State: BlockCHG, fileID: f2.ID})

	parityPath = filepath.Join(t.TempDir(), "snapguard.parity")
	repo.ParityPaths = []string{parityPath}

	e = NewEngine(repo, NewOSStorage(), []string{filepath.Join(t.TempDir(), "content.bin")}, Options{SkipFallocate: true})
	if err := e.OpenParityFiles(1); err != nil {
		t.Fatalf("OpenParityFiles: %v", err)
	}
	if _, err := e.Sync(0, 1); err != nil {
		t.Fatalf("priming Sync: %v", err)
	}
	return e, path1, path2, parityPath
}

func flipBit(t *testing.T, path string, offset int) {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile %s: %v", path, err)
	}
	b[offset] ^= 0xFF
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("WriteFile %s: %v", path, err)
	}
}

// TestScrubRepairsSingleDiskCorruption covers a silent bit-flip on one
// disk's data: Scrub must detect the hash mismatch, recover the block from
// parity, and rewrite it so a later scrub of the same position verifies
// clean.
func TestScrubRepairsSingleDiskCorruption(t *testing.T) {
	blockSize := uint32(64)
	d1data := bytes.Repeat([]byte{0x10}, int(blockSize))
	d2data := bytes.Repeat([]byte{0x20}, int(blockSize))
	e, _, path2, _ := setupRepairEngine(t, blockSize, d1data, d2data)
	defer e.CloseParityFiles()

	flipBit(t, path2, 0)

	report, err := e.Scrub([]uint32{0})
	if err != nil {
		t.Fatalf("Scrub: %v", err)
	}
	if report.Repaired != 1 || report.SilentCorruption != 1 {
		t.Fatalf("report = %+v, want Repaired=1 SilentCorruption=1", report)
	}

	got, err := os.ReadFile(path2)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, d2data) {
		t.Fatalf("disk 2 not restored:\n got  %x\n want %x", got, d2data)
	}

	again, err := e.Scrub([]uint32{0})
	if err != nil {
		t.Fatalf("re-scrub: %v", err)
	}
	if again.Verified != 1 || again.Repaired != 0 {
		t.Fatalf("re-scrub report = %+v, want Verified=1 Repaired=0", again)
	}
}

// TestScrubRepairsSimultaneousDataAndParityCorruption covers one bit
// flipped in a data disk and one bit flipped in the parity file at the
// same position: fix must restore both, and a re-scrub must come back
// clean.
func TestScrubRepairsSimultaneousDataAndParityCorruption(t *testing.T) {
	blockSize := uint32(64)
	d1data := bytes.Repeat([]byte{0x30}, int(blockSize))
	d2data := bytes.Repeat([]byte{0x40}, int(blockSize))
	e, _, path2, parityPath := setupRepairEngine(t, blockSize, d1data, d2data)
	defer e.CloseParityFiles()

	wantParity := make([]byte, blockSize)
	if err := e.ParityFiles[0].Read(0, wantParity); err != nil {
		t.Fatalf("read parity before corruption: %v", err)
	}

	flipBit(t, path2, 0)
	flipBit(t, parityPath, 0)

	report, err := e.Scrub([]uint32{0})
	if err != nil {
		t.Fatalf("Scrub: %v", err)
	}
	if report.Repaired != 1 {
		t.Fatalf("report = %+v, want Repaired=1", report)
	}

	gotData, err := os.ReadFile(path2)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(gotData, d2data) {
		t.Fatalf("disk 2 not restored:\n got  %x\n want %x", gotData, d2data)
	}

	gotParity := make([]byte, blockSize)
	if err := e.ParityFiles[0].Read(0, gotParity); err != nil {
		t.Fatalf("read parity after fix: %v", err)
	}
	if !bytes.Equal(gotParity, wantParity) {
		t.Fatalf("parity not restored:\n got  %x\n want %x", gotParity, wantParity)
	}

	again, err := e.Scrub([]uint32{0})
	if err != nil {
		t.Fatalf("re-scrub: %v", err)
	}
	if again.Verified != 1 || again.Repaired != 0 {
		t.Fatalf("re-scrub report = %+v, want Verified=1 Repaired=0", again)
	}
}
