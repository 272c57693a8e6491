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
	"sync"

	"github.com/klauspost/reedsolomon"
)

// MaxDataDisks is the implementation limit on the number of data disks a
// single codec invocation supports (§4.A: "at least 1024").
const MaxDataDisks = 4096

// Codec is the Galois-field encode/recover engine (§4.A). It is a thin,
// pure adapter over github.com/klauspost/reedsolomon: same inputs always
// yield bitwise-identical outputs, and the same Vandermonde-style matrix
// is used by every instance for a given (dataDisks, parity) pair.
type Codec struct {
	parity int

	mu       sync.Mutex
	encoders map[int]reedsolomon.Encoder // dataDisks -> cached Encoder
}

// NewCodec returns a Codec for the given parity level, 1..MaxParityLevel.
func NewCodec(parity int) *Codec {
	return &Codec{parity: parity, encoders: make(map[int]reedsolomon.Encoder)}
}

// Parity returns the codec's configured parity level.
func (c *Codec) Parity() int { return c.parity }

// encoderFor returns (and caches) the reedsolomon.Encoder for d data
// disks; rebuilding one per distinct d is cheap relative to the I/O that
// surrounds it, and avoids recomputing the generator matrix for every
// pos when d does not change within a sync/scrub/check run.
func (c *Codec) encoderFor(d int) (reedsolomon.Encoder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encoders[d]; ok {
		return enc, nil
	}
	enc, err := reedsolomon.New(d, c.parity)
	if err != nil {
		return nil, Wrap(KindInvariant, "codec.new", err)
	}
	c.encoders[d] = enc
	return enc, nil
}

// Encode computes c.Parity() parity blocks from data, the d data-disk
// contributions for one pos. Each element of data must be blockSize bytes;
// missing disks are represented by the caller as zero-filled buffers, per
// §4.A. Encode returns the parity blocks, one per level.
func (c *Codec) Encode(data [][]byte) ([][]byte, error) {
	d := len(data)
	enc, err := c.encoderFor(d)
	if err != nil {
		return nil, err
	}
	blockSize := len(data[0])
	shards := make([][]byte, d+c.parity)
	copy(shards, data)
	for i := d; i < d+c.parity; i++ {
		shards[i] = make([]byte, blockSize)
	}
	if err := enc.Encode(shards); err != nil {
		return nil, Wrap(KindInvariant, "codec.encode", err)
	}
	return shards[d:], nil
}

// Recover reconstructs every missing data and parity shard it can, given
// whatever data/parity shards are present. present[i] is nil for a missing
// data shard (i < d) or missing parity shard (i >= d); d is the number of
// data disks for this pos. Recover succeeds (per §4.A) iff the number of
// non-nil shards is >= d. The returned slice has the same length and
// layout as present (data shards first, then parity), so a missing parity
// shard (an unreadable parity block) is reconstructed right alongside any
// missing data, not just silently dropped.
func (c *Codec) Recover(present [][]byte, d int) ([][]byte, error) {
	enc, err := c.encoderFor(d)
	if err != nil {
		return nil, err
	}
	shards := make([][]byte, len(present))
	copy(shards, present)
	if err := enc.Reconstruct(shards); err != nil {
		return nil, Wrap(KindUnrecoverable, "codec.recover", err)
	}
	return shards, nil
}

// VerifyParity reports whether the parity shards in full (index >= d)
// match what Encode would produce from the data shards (index < d), i.e.
// the "Block hash<->parity equation" invariant (§8.1).
func (c *Codec) VerifyParity(full [][]byte, d int) (bool, error) {
	enc, err := c.encoderFor(d)
	if err != nil {
		return false, err
	}
	ok, err := enc.Verify(full)
	if err != nil {
		return false, Wrap(KindInvariant, "codec.verify", err)
	}
	return ok, nil
}
