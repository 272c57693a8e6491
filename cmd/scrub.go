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
	"path"
	"sort"
	"time"

	"github.com/snapguard/snapguard/cmd/logger"
)

// ScrubReport summarizes one scrub run (§4.H).
type ScrubReport struct {
	Scanned          int
	Verified         int
	Repaired         int
	SilentCorruption int
	Unrecoverable    int
}

// SelectForScrub picks the positions to verify per §4.H: every BLK
// position older than olderThan by recorded scrub timestamp, plus the
// oldest percentage% of all BLK positions (by scrub timestamp, unscrubbed
// positions sorting first). Positions are deduplicated and returned
// sorted.
func SelectForScrub(repo *Repository, index *ContentIndexIO, olderThan time.Duration, percentage float64) []uint32 {
	type scored struct {
		pos      uint32
		scrubbed time.Time
	}
	var all []scored
	seen := map[uint32]bool{}
	now := time.Now()

	for _, d := range repo.Disks() {
		repo.Blocks().ForEachDisk(d.Index(), func(pos uint32, b *Block) {
			if b.State != BlockBLK || seen[pos] {
				return
			}
			seen[pos] = true
			all = append(all, scored{pos: pos, scrubbed: index.ScrubTimestamp(d.Index(), pos)})
		})
	}

	sort.Slice(all, func(i, j int) bool { return all[i].scrubbed.Before(all[j].scrubbed) })

	selected := map[uint32]bool{}
	if percentage > 0 {
		n := int(float64(len(all)) * percentage / 100)
		for i := 0; i < n && i < len(all); i++ {
			selected[all[i].pos] = true
		}
	}
	if olderThan > 0 {
		cutoff := now.Add(-olderThan)
		for _, s := range all {
			if s.scrubbed.IsZero() || s.scrubbed.Before(cutoff) {
				selected[s.pos] = true
			}
		}
	}

	out := make([]uint32, 0, len(selected))
	for pos := range selected {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Scrub verifies (and repairs) every position in positions (§4.H): reads
// each disk's data block and every parity level, recomputes hashes and
// parity, and classifies any mismatch as silent corruption (recoverable)
// or unrecoverable depending on how many disks disagree.
func (e *Engine) Scrub(positions []uint32) (*ScrubReport, error) {
	report := &ScrubReport{}
	disks := e.Repo.Disks()
	verifier := NewRehashVerifier(e.Repo)

	for _, pos := range positions {
		if e.Interrupted() {
			return report, Wrap(KindInterrupted, "scrub", ErrInterrupted)
		}
		report.Scanned++

		data := make([][]byte, len(disks))
		mismatches := 0
		readable := 0

		for i, d := range disks {
			b := e.Repo.BlockAt(d, pos)
			if b == nil || b.State.Tombstone() {
				data[i] = make([]byte, e.Repo.BlockSize)
				continue
			}
			buf, err := e.readBlockBytes(d, pos)
			if err != nil {
				logger.LogIf(logger.Fields{Phase: "scrub", Disk: d.Name, Pos: pos}, err)
				data[i] = nil
				mismatches++
				continue
			}
			readable++
			if !verifier.Verify(buf, b.Hash) {
				mismatches++
				data[i] = nil
				continue
			}
			data[i] = buf
		}

		parityOK := true
		full := append(append([][]byte{}, data...), e.readParityBlocks(pos)...)
		if allPresent(full) {
			var ok bool
			cpuErr := e.Sched.RunCPU(func() error {
				var err error
				ok, err = e.Codec.VerifyParity(full, len(disks))
				return err
			})
			if cpuErr == nil {
				parityOK = ok
			}
		}

		if mismatches == 0 && parityOK {
			report.Verified++
			e.markScrubbed(positions, pos)
			continue
		}

		if mismatches > e.Repo.Parity {
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
		for i, d := range disks {
			if data[i] != nil {
				continue
			}
			if err := e.writeBlockBytes(d, pos, recovered[i]); err != nil {
				logger.LogIf(logger.Fields{Phase: "scrub.repair", Disk: d.Name, Pos: pos}, err)
				continue
			}
			if b := e.Repo.BlockAt(d, pos); b != nil {
				b.Hash = verifier.Current(recovered[i])
			}
		}
		if err := e.rewriteStaleParity(pos, recovered[:len(disks)], full[len(disks):]); err != nil {
			logger.LogIf(logger.Fields{Phase: "scrub.repair", Pos: pos}, err)
		}
		report.Repaired++
		report.SilentCorruption++
		e.markScrubbed(positions, pos)
	}

	if err := e.saveContentIndex(); err != nil {
		return report, err
	}
	return report, nil
}

func (e *Engine) markScrubbed(_ []uint32, pos uint32) {
	for _, d := range e.Repo.Disks() {
		if b := e.Repo.BlockAt(d, pos); b != nil {
			e.Index.SetScrubTimestamp(d.Index(), pos, time.Now())
		}
	}
}

// rewriteStaleParity recomputes parity from recoveredData (now fully
// trusted, whether it was already hash-verified or just reconstructed) and
// rewrites any parity level whose on-disk bytes (oldParity, nil if the read
// itself failed) disagree with the recomputation. This is what actually
// repairs a corrupted or unreadable parity block (§4.H/§4.I): Recover only
// fills in shards the caller marked missing, so a parity block that read
// back with the wrong bytes (rather than an I/O error) is never "missing"
// and must be caught here instead.
func (e *Engine) rewriteStaleParity(pos uint32, recoveredData [][]byte, oldParity [][]byte) error {
	var want [][]byte
	cpuErr := e.Sched.RunCPU(func() error {
		var err error
		want, err = e.Codec.Encode(recoveredData)
		return err
	})
	if cpuErr != nil {
		return cpuErr
	}
	for lvl, pf := range e.ParityFiles {
		if lvl >= len(want) {
			break
		}
		if lvl < len(oldParity) && oldParity[lvl] != nil && bytes.Equal(oldParity[lvl], want[lvl]) {
			continue
		}
		if err := e.Sched.RunParity(lvl, func() error { return pf.Write(pos, want[lvl]) }); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) readParityBlocks(pos uint32) [][]byte {
	out := make([][]byte, len(e.ParityFiles))
	for i, pf := range e.ParityFiles {
		buf := make([]byte, e.Repo.BlockSize)
		if err := pf.Read(pos, buf); err != nil {
			out[i] = nil
			continue
		}
		out[i] = buf
	}
	return out
}

func (e *Engine) writeBlockBytes(d *Disk, pos uint32, data []byte) error {
	f, idx := e.Repo.OwningFile(d, pos)
	if f == nil {
		return Wrap(KindSilentCorruption, "scrub.write", ErrTooManyMissingBlk)
	}
	offset := int64(idx) * int64(e.Repo.BlockSize)
	length := int64(e.Repo.BlockSize)
	if offset+length > f.Size {
		length = f.Size - offset
	}
	if length <= 0 {
		return nil
	}

	wf, err := e.Storage.Create(path.Join(d.Path, f.Path))
	if err != nil {
		return err
	}
	defer wf.Close()
	_, err = wf.WriteAt(data[:length], offset)
	return err
}

func allPresent(shards [][]byte) bool {
	for _, s := range shards {
		if s == nil {
			return false
		}
	}
	return true
}
