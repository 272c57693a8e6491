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
	"path"
	"time"

	"github.com/snapguard/snapguard/cmd/logger"
)

// CheckReport summarizes one check or fix run (§4.I).
type CheckReport struct {
	Verified      int
	Recovered     int
	Unrecoverable int
	Garbage       int
}

// ExitCode maps a CheckReport to the process exit code of §6/§7,
// honoring the expect_unrecoverable/expect_recoverable inversions.
func (r *CheckReport) ExitCode(opts Options) int {
	switch {
	case r.Unrecoverable > 0:
		if opts.ExpectUnrecoverable {
			return 0
		}
		return KindUnrecoverable.ExitCode()
	case r.Recovered > 0:
		if opts.ExpectRecoverable {
			return 0
		}
		return KindSilentCorruption.ExitCode()
	default:
		return 0
	}
}

// Check validates every position in [blockStart, blockCount) without
// writing (§4.I "check"): it reads all data and parity, verifies hashes
// and the parity equation, and reports verified/recovered/unrecoverable/
// garbage counts. fix additionally writes recovered data back to the
// owning disk file (§4.I "fix").
func (e *Engine) Check(blockStart, blockCount uint32, fix bool) (*CheckReport, error) {
	report := &CheckReport{}
	disks := e.Repo.Disks()
	verifier := NewRehashVerifier(e.Repo)

	referenced := make(map[uint32]bool)
	for _, d := range disks {
		for _, f := range d.Files().All() {
			for _, pos := range f.Blocks {
				referenced[pos] = true
			}
		}
	}

	for pos := blockStart; pos < blockCount; pos++ {
		if e.Interrupted() {
			return report, Wrap(KindInterrupted, "check", ErrInterrupted)
		}

		anyAllocated := false
		for _, d := range disks {
			if b := e.Repo.BlockAt(d, pos); b != nil && !b.State.Tombstone() {
				anyAllocated = true
				break
			}
		}
		if !anyAllocated {
			if e.readParityNonZero(pos) {
				report.Garbage++
			}
			continue
		}
		if !referenced[pos] {
			report.Garbage++
			continue
		}

		data := make([][]byte, len(disks))
		missing := 0
		for i, d := range disks {
			b := e.Repo.BlockAt(d, pos)
			if b == nil || b.State.Tombstone() {
				continue
			}
			buf, err := e.readBlockBytes(d, pos)
			if err != nil || !verifier.Verify(buf, b.Hash) {
				logger.LogIf(logger.Fields{Phase: "check", Disk: d.Name, Pos: pos}, err)
				missing++
				continue
			}
			data[i] = buf
		}

		full := append(append([][]byte{}, data...), e.readParityBlocks(pos)...)
		if missing == 0 && allPresent(full) {
			var ok bool
			cpuErr := e.Sched.RunCPU(func() error {
				var err error
				ok, err = e.Codec.VerifyParity(full, len(disks))
				return err
			})
			if cpuErr == nil && ok {
				report.Verified++
				continue
			}
		}

		if missing > e.Repo.Parity {
			report.Unrecoverable++
			continue
		}

		var recovered [][]byte
		cpuErr := e.Sched.RunCPU(func() error {
			var err error
			recovered, err = e.Codec.Recover(full, len(disks))
			return err
		})
		if cpuErr != nil {
			report.Unrecoverable++
			continue
		}
		report.Recovered++

		if !fix {
			continue
		}
		for i, d := range disks {
			if data[i] != nil {
				continue
			}
			if err := e.writeBlockBytesExtend(d, pos, recovered[i]); err != nil {
				logger.LogIf(logger.Fields{Phase: "check.fix", Disk: d.Name, Pos: pos}, err)
				continue
			}
			if b := e.Repo.BlockAt(d, pos); b != nil {
				b.Hash = verifier.Current(recovered[i])
			}
		}
		if err := e.rewriteStaleParity(pos, recovered[:len(disks)], full[len(disks):]); err != nil {
			logger.LogIf(logger.Fields{Phase: "check.fix", Pos: pos}, err)
		}
	}

	if fix {
		if err := e.saveContentIndex(); err != nil {
			return report, err
		}
	}
	return report, nil
}

// writeBlockBytesExtend is writeBlockBytes but first extends the owning
// file to at least the recovered size if needed, preserving mtime (§4.I
// "fix... extending files to at least the recovered size, preserving
// mtime").
func (e *Engine) writeBlockBytesExtend(d *Disk, pos uint32, data []byte) error {
	f, idx := e.Repo.OwningFile(d, pos)
	if f == nil {
		return Wrap(KindSilentCorruption, "check.fix", ErrTooManyMissingBlk)
	}
	offset := int64(idx) * int64(e.Repo.BlockSize)
	want := offset + int64(len(data))
	if want > f.Size {
		f.Size = want
	}
	if err := e.writeBlockBytes(d, pos, data); err != nil {
		return err
	}
	mtime := time.Unix(f.MtimeSec, int64(f.MtimeNs))
	return os.Chtimes(path.Join(d.Path, f.Path), mtime, mtime)
}

// readParityNonZero reports whether any parity level has non-zero bytes
// at pos, used to flag "garbage" positions that carry parity data for no
// referenced block (§4.I "garbage (present-but-unreferenced)").
func (e *Engine) readParityNonZero(pos uint32) bool {
	for _, pf := range e.ParityFiles {
		buf := make([]byte, e.Repo.BlockSize)
		if err := pf.Read(pos, buf); err != nil {
			continue
		}
		for _, b := range buf {
			if b != 0 {
				return true
			}
		}
	}
	return false
}
