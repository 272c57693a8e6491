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
	"bytes"
	"encoding/binary"
	"io"

	"github.com/minio/highwayhash"
)

// Varints use the standard little-endian 7-bit continuation encoding
// (§4.D). All other fixed-width fields are big-endian, per §4.D's
// "(big-endian, self-describing)".

func writeVarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func readVarint(r *bufio.Reader) (uint64, error) {
	return binary.ReadUvarint(r)
}

func writeString(buf *bytes.Buffer, s string) {
	writeVarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func readString(r *bufio.Reader) (string, error) {
	n, err := readVarint(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeTagU32(buf *bytes.Buffer, tag string, v uint32) {
	writeString(buf, tag)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func readU32(r *bufio.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func writeVarintTag(buf *bytes.Buffer, tag string, v uint64) {
	writeString(buf, tag)
	writeVarint(buf, v)
}

func readVarintTagU16(r *bufio.Reader) (uint16, error) {
	v, err := readVarint(r)
	return uint16(v), err
}

func writeHashRecord(buf *bytes.Buffer, tag string, algo HashAlgoID, seed [HashSize]byte) {
	writeString(buf, tag)
	buf.WriteByte(byte(algo))
	buf.Write(seed[:])
}

func readHashRecord(r *bufio.Reader) (HashAlgoID, [HashSize]byte, error) {
	var seed [HashSize]byte
	algoByte, err := r.ReadByte()
	if err != nil {
		return 0, seed, err
	}
	if _, err := io.ReadFull(r, seed[:]); err != nil {
		return 0, seed, err
	}
	return HashAlgoID(algoByte), seed, nil
}

func writeMapRecord(buf *bytes.Buffer, d *Disk) {
	writeString(buf, tagMap)
	var idx [2]byte
	binary.BigEndian.PutUint16(idx[:], d.Index())
	buf.Write(idx[:])
	writeString(buf, d.Name)
	writeString(buf, d.UUID)
}

func readMapRecord(r *bufio.Reader) (idx uint16, name, duuid string, err error) {
	var tmp [2]byte
	if _, err = io.ReadFull(r, tmp[:]); err != nil {
		return
	}
	idx = binary.BigEndian.Uint16(tmp[:])
	if name, err = readString(r); err != nil {
		return
	}
	duuid, err = readString(r)
	return
}

func writeFileRecord(buf *bytes.Buffer, diskIndex uint16, f *File) {
	writeString(buf, tagFile)
	var idx [2]byte
	binary.BigEndian.PutUint16(idx[:], diskIndex)
	buf.Write(idx[:])
	writeVarint(buf, uint64(f.Size))
	var sec [8]byte
	binary.BigEndian.PutUint64(sec[:], uint64(f.MtimeSec))
	buf.Write(sec[:])
	var ns [4]byte
	binary.BigEndian.PutUint32(ns[:], f.MtimeNs)
	buf.Write(ns[:])
	writeVarint(buf, f.Inode)
	writeString(buf, f.Path)
}

func readFileRecord(r *bufio.Reader) (uint16, *File, error) {
	var idxb [2]byte
	if _, err := io.ReadFull(r, idxb[:]); err != nil {
		return 0, nil, err
	}
	idx := binary.BigEndian.Uint16(idxb[:])
	size, err := readVarint(r)
	if err != nil {
		return 0, nil, err
	}
	var secb [8]byte
	if _, err := io.ReadFull(r, secb[:]); err != nil {
		return 0, nil, err
	}
	var nsb [4]byte
	if _, err := io.ReadFull(r, nsb[:]); err != nil {
		return 0, nil, err
	}
	inode, err := readVarint(r)
	if err != nil {
		return 0, nil, err
	}
	path, err := readString(r)
	if err != nil {
		return 0, nil, err
	}
	f := &File{
		Path:     path,
		Size:     int64(size),
		MtimeSec: int64(binary.BigEndian.Uint64(secb[:])),
		MtimeNs:  binary.BigEndian.Uint32(nsb[:]),
		Inode:    inode,
	}
	return idx, f, nil
}

func writeBlockRecord(buf *bytes.Buffer, diskIndex uint16, b *Block) {
	tag := tagBlk
	switch b.State {
	case BlockCHG:
		tag = tagChg
	case BlockREL:
		tag = tagRel
	case BlockDeleted:
		tag = tagInf
	}
	writeString(buf, tag)
	var idx [2]byte
	binary.BigEndian.PutUint16(idx[:], diskIndex)
	buf.Write(idx[:])
	writeVarint(buf, uint64(b.Pos))
	buf.Write(b.Hash[:])
}

func readBlockRecord(r *bufio.Reader, tag string) (uint16, *Block, error) {
	var idxb [2]byte
	if _, err := io.ReadFull(r, idxb[:]); err != nil {
		return 0, nil, err
	}
	idx := binary.BigEndian.Uint16(idxb[:])
	pos, err := readVarint(r)
	if err != nil {
		return 0, nil, err
	}
	var hash [HashSize]byte
	if _, err := io.ReadFull(r, hash[:]); err != nil {
		return 0, nil, err
	}
	state := BlockBLK
	switch tag {
	case tagChg:
		state = BlockCHG
	case tagRel:
		state = BlockREL
	case tagInf:
		state = BlockDeleted
	}
	return idx, &Block{Pos: uint32(pos), State: state, Hash: hash}, nil
}

func writeInfoRecord(buf *bytes.Buffer, key blockKey, info scrubInfo) {
	writeString(buf, tagInfo)
	var idx [2]byte
	binary.BigEndian.PutUint16(idx[:], key.diskIndex)
	buf.Write(idx[:])
	writeVarint(buf, uint64(key.pos))
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(info.ScrubbedAt))
	buf.Write(ts[:])
	buf.WriteByte(info.ParityFlags)
}

func readInfoRecord(r *bufio.Reader) (blockKey, scrubInfo, error) {
	var idxb [2]byte
	if _, err := io.ReadFull(r, idxb[:]); err != nil {
		return blockKey{}, scrubInfo{}, err
	}
	idx := binary.BigEndian.Uint16(idxb[:])
	pos, err := readVarint(r)
	if err != nil {
		return blockKey{}, scrubInfo{}, err
	}
	var tsb [8]byte
	if _, err := io.ReadFull(r, tsb[:]); err != nil {
		return blockKey{}, scrubInfo{}, err
	}
	flags, err := r.ReadByte()
	if err != nil {
		return blockKey{}, scrubInfo{}, err
	}
	key := blockKey{diskIndex: idx, pos: uint32(pos)}
	info := scrubInfo{Pos: uint32(pos), ScrubbedAt: int64(binary.BigEndian.Uint64(tsb[:])), ParityFlags: flags}
	return key, info, nil
}

// highwaySum computes the HighwayHash-128 signature of payload under key,
// used for both the content-index signature (§4.D) and nowhere else, kept
// separate from HashAlgo.Hash because the signature covers an
// arbitrary-length payload rather than one blockSize-length block.
func highwaySum(key, payload []byte) [HashSize]byte {
	hh, err := highwayhash.New128(key)
	if err != nil {
		panic(err)
	}
	hh.Write(payload)
	var out [HashSize]byte
	copy(out[:], hh.Sum(nil))
	return out
}
