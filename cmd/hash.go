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
	"encoding/binary"

	"github.com/minio/highwayhash"
	"github.com/spaolacci/murmur3"
)

// HashAlgoID selects one of the two supported 128-bit block hash
// algorithms (§4.B).
type HashAlgoID uint8

// Hash algorithm identifiers, also used as the on-disk tag in the
// hash/prevhash content-index records (§4.D).
const (
	HashMurmur3 HashAlgoID = iota + 1
	HashHighway
)

func (a HashAlgoID) String() string {
	switch a {
	case HashMurmur3:
		return "murmur3"
	case HashHighway:
		return "highway"
	default:
		return "unknown"
	}
}

// HashAlgo computes a keyed 128-bit content hash of a block (§4.B). It
// does not pad: a short final block is zero-padded by the caller.
type HashAlgo interface {
	Algo() HashAlgoID
	// Hash returns the 128-bit digest of block, which must be exactly
	// blockSize bytes (the caller zero-pads the file's logical tail).
	Hash(block []byte) [HashSize]byte
}

// NewHashAlgo returns the HashAlgo for id, keyed with seed.
func NewHashAlgo(id HashAlgoID, seed [HashSize]byte) HashAlgo {
	switch id {
	case HashHighway:
		return highwayHash{seed: seed}
	default:
		return murmur3Hash{seed: seed}
	}
}

// murmur3Hash is the "fast, general-purpose" algorithm (§4.B). Murmur3's
// 128-bit variant takes a single uint32 seed; the repository's 16-byte
// seed is folded into that uint32 by XOR-ing its four 32-bit words, so
// the full key material participates without widening murmur3's own API.
type murmur3Hash struct {
	seed [HashSize]byte
}

func (h murmur3Hash) Algo() HashAlgoID { return HashMurmur3 }

func (h murmur3Hash) foldedSeed() uint32 {
	var s uint32
	for i := 0; i < HashSize; i += 4 {
		s ^= binary.BigEndian.Uint32(h.seed[i : i+4])
	}
	return s
}

func (h murmur3Hash) Hash(block []byte) [HashSize]byte {
	h1, h2 := murmur3.Sum128WithSeed(block, h.foldedSeed())
	var out [HashSize]byte
	binary.BigEndian.PutUint64(out[0:8], h1)
	binary.BigEndian.PutUint64(out[8:16], h2)
	return out
}

// highwayHash is the "alternate" algorithm (§4.B). HighwayHash takes a
// 32-byte key; the repository's 16-byte seed is expanded by repeating it
// twice, which keeps every seed byte significant.
type highwayHash struct {
	seed [HashSize]byte
}

func (h highwayHash) Algo() HashAlgoID { return HashHighway }

func (h highwayHash) key() []byte {
	key := make([]byte, 32)
	copy(key[:16], h.seed[:])
	copy(key[16:], h.seed[:])
	return key
}

func (h highwayHash) Hash(block []byte) [HashSize]byte {
	hh, err := highwayhash.New128(h.key())
	if err != nil {
		// Only fails for a key of the wrong length, which key() never
		// produces; a logic error here is a compile-time invariant, not
		// a runtime condition to recover from.
		panic(err)
	}
	hh.Write(block)
	var out [HashSize]byte
	copy(out[:], hh.Sum(nil))
	return out
}

// PaddedBlock returns a blockSize-length copy of data, zero-padding a
// short final block per §3 "File" ("the last block is logically
// zero-padded to block_size for hashing and parity").
func PaddedBlock(data []byte, blockSize uint32) []byte {
	if uint32(len(data)) == blockSize {
		return data
	}
	out := make([]byte, blockSize)
	copy(out, data)
	return out
}

// RehashVerifier checks a block's hash against whichever of the current
// and previous (seed, algorithm) pairs is active, as required during a
// rehash transition (§4.B "every read must be checkable against either").
type RehashVerifier struct {
	current HashAlgo
	prev    HashAlgo // nil outside a rehash transition
}

// NewRehashVerifier builds a verifier for repo's current hash, and its
// previous one if repo is mid-rehash.
func NewRehashVerifier(repo *Repository) *RehashVerifier {
	v := &RehashVerifier{current: NewHashAlgo(repo.HashAlgo, repo.HashSeed)}
	if repo.PrevHash != nil {
		v.prev = NewHashAlgo(repo.PrevHash.Algo, repo.PrevHash.Seed)
	}
	return v
}

// Verify reports whether block's content hashes to want, under either the
// current or (if active) previous hash algorithm/seed.
func (v *RehashVerifier) Verify(block []byte, want [HashSize]byte) bool {
	if v.current.Hash(block) == want {
		return true
	}
	if v.prev != nil && v.prev.Hash(block) == want {
		return true
	}
	return false
}

// Current hashes block with the repository's current (non-previous)
// algorithm, the one new hashes are always recorded under.
func (v *RehashVerifier) Current(block []byte) [HashSize]byte {
	return v.current.Hash(block)
}
