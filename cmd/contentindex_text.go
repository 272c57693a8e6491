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
	"bufio"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteText serializes repo to w as the human-readable, one-record-per-
// line format of §4.D ("used only when forced; must be semantically
// equivalent to the binary form"). Fields that can contain whitespace
// (paths) are CSV-quoted with encoding/csv so the line-oriented grammar
// stays unambiguous without a bespoke escaping scheme.
func (c *ContentIndexIO) WriteText(w io.Writer, repo *Repository) error {
	cw := csv.NewWriter(w)
	cw.Comma = ' '
	cw.UseCRLF = false

	write := func(fields ...string) error { return cw.Write(fields) }

	if err := write(tagBlkSize, strconv.FormatUint(uint64(repo.BlockSize), 10)); err != nil {
		return err
	}
	if err := write(tagHash, strconv.Itoa(int(repo.HashAlgo)), hex.EncodeToString(repo.HashSeed[:])); err != nil {
		return err
	}
	if repo.PrevHash != nil {
		if err := write(tagPrevHash, strconv.Itoa(int(repo.PrevHash.Algo)), hex.EncodeToString(repo.PrevHash.Seed[:])); err != nil {
			return err
		}
	}

	for _, d := range repo.Disks() {
		if err := write(tagMap, strconv.Itoa(int(d.Index())), d.Name, d.UUID); err != nil {
			return err
		}
		for _, f := range d.Files().All() {
			if err := write(tagFile, strconv.Itoa(int(d.Index())), strconv.FormatInt(f.Size, 10),
				strconv.FormatInt(f.MtimeSec, 10), strconv.FormatUint(uint64(f.MtimeNs), 10),
				strconv.FormatUint(f.Inode, 10), f.Path); err != nil {
				return err
			}
			for _, pos := range f.Blocks {
				b := repo.BlockAt(d, pos)
				if b == nil {
					if err := write(tagHole, strconv.Itoa(int(d.Index())), strconv.FormatUint(uint64(pos), 10)); err != nil {
						return err
					}
					continue
				}
				tag := textTagFor(b.State)
				if err := write(tag, strconv.Itoa(int(d.Index())), strconv.FormatUint(uint64(b.Pos), 10), hex.EncodeToString(b.Hash[:])); err != nil {
					return err
				}
			}
		}
	}

	for key, info := range c.scrub {
		if err := write(tagInfo, strconv.Itoa(int(key.diskIndex)), strconv.FormatUint(uint64(key.pos), 10),
			strconv.FormatInt(info.ScrubbedAt, 10), strconv.Itoa(int(info.ParityFlags))); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func textTagFor(s BlockState) string {
	switch s {
	case BlockCHG:
		return tagChg
	case BlockREL:
		return tagRel
	case BlockDeleted:
		return tagInf
	default:
		return tagBlk
	}
}

// ReadText parses the textual format produced by WriteText. It shares no
// code with ReadBinary's varint/tag decoder since the textual format is a
// line-oriented, whitespace-separated grammar, not the binary wire
// format — §4.D only requires the two be semantically equivalent, not
// bit-compatible.
func (c *ContentIndexIO) ReadText(r io.Reader) (*Repository, error) {
	repo := NewRepository(0, 0)
	disksByIdx := map[uint16]*Disk{}
	var curFile *File
	var curDisk *Disk

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		// The raw line is kept: an empty last field (an empty path) is
		// written as a trailing separator that trimming would drop.
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec := csv.NewReader(strings.NewReader(line))
		rec.Comma = ' '
		fields, err := rec.Read()
		if err != nil {
			return nil, Wrap(KindConfiguration, "contentindex.readtext", err)
		}
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case tagBlkSize:
			v, _ := strconv.ParseUint(fields[1], 10, 32)
			repo.BlockSize = uint32(v)
		case tagHash, tagPrevHash:
			algo, _ := strconv.Atoi(fields[1])
			seedBytes, err := hex.DecodeString(fields[2])
			if err != nil || len(seedBytes) != HashSize {
				return nil, Wrap(KindConfiguration, "contentindex.readtext", fmt.Errorf("bad seed"))
			}
			var seed [HashSize]byte
			copy(seed[:], seedBytes)
			if fields[0] == tagHash {
				repo.HashAlgo = HashAlgoID(algo)
				repo.HashSeed = seed
			} else {
				repo.PrevHash = &PrevHash{Algo: HashAlgoID(algo), Seed: seed}
			}
		case tagMap:
			idx, _ := strconv.Atoi(fields[1])
			d := NewDisk(fields[2], "", fields[3])
			d.index = uint16(idx)
			disksByIdx[d.index] = d
			repo.AddDisk(d)
			curDisk = d
		case tagFile:
			idx, _ := strconv.Atoi(fields[1])
			size, _ := strconv.ParseInt(fields[2], 10, 64)
			sec, _ := strconv.ParseInt(fields[3], 10, 64)
			ns, _ := strconv.ParseUint(fields[4], 10, 32)
			inode, _ := strconv.ParseUint(fields[5], 10, 64)
			f := &File{Path: fields[6], Size: size, MtimeSec: sec, MtimeNs: uint32(ns), Inode: inode}
			d := disksByIdx[uint16(idx)]
			if d == nil {
				d = curDisk
			}
			d.Files().Add(f)
			curFile = f
		case tagBlk, tagChg, tagRel, tagInf:
			idx, _ := strconv.Atoi(fields[1])
			pos, _ := strconv.ParseUint(fields[2], 10, 32)
			hashBytes, err := hex.DecodeString(fields[3])
			if err != nil || len(hashBytes) != HashSize {
				return nil, Wrap(KindConfiguration, "contentindex.readtext", fmt.Errorf("bad hash"))
			}
			var hash [HashSize]byte
			copy(hash[:], hashBytes)
			state := BlockBLK
			switch fields[0] {
			case tagChg:
				state = BlockCHG
			case tagRel:
				state = BlockREL
			case tagInf:
				state = BlockDeleted
			}
			b := &Block{Pos: uint32(pos), State: state, Hash: hash}
			if curFile != nil {
				b.fileID = curFile.ID
				curFile.Blocks = append(curFile.Blocks, b.Pos)
			}
			repo.Blocks().Set(uint16(idx), b.Pos, b)
		case tagHole:
			pos, _ := strconv.ParseUint(fields[2], 10, 32)
			if curFile != nil {
				curFile.Blocks = append(curFile.Blocks, uint32(pos))
			}
		case tagInfo:
			idx, _ := strconv.Atoi(fields[1])
			pos, _ := strconv.ParseUint(fields[2], 10, 32)
			ts, _ := strconv.ParseInt(fields[3], 10, 64)
			flags, _ := strconv.Atoi(fields[4])
			c.scrub[blockKey{uint16(idx), uint32(pos)}] = scrubInfo{Pos: uint32(pos), ScrubbedAt: ts, ParityFlags: uint8(flags)}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, Wrap(KindConfiguration, "contentindex.readtext", err)
	}
	return repo, nil
}
