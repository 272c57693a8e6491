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
	"testing"
)

func fillShard(n int, b byte) []byte {
	s := make([]byte, n)
	for i := range s {
		s[i] = b
	}
	return s
}

func TestCodecEncodeRecover(t *testing.T) {
	tests := []struct {
		name   string
		data   int
		parity int
	}{
		{"single-parity-three-data", 3, 1},
		{"double-parity-five-data", 5, 2},
		{"single-data-single-parity", 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec := NewCodec(tt.parity)
			shards := make([][]byte, tt.data)
			for i := range shards {
				shards[i] = fillShard(64, byte(i+1))
			}
			parity, err := codec.Encode(shards)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if len(parity) != tt.parity {
				t.Fatalf("got %d parity shards, want %d", len(parity), tt.parity)
			}

			full := append(append([][]byte{}, shards...), parity...)
			ok, err := codec.VerifyParity(full, tt.data)
			if err != nil {
				t.Fatalf("VerifyParity: %v", err)
			}
			if !ok {
				t.Fatal("VerifyParity: fresh encode did not verify")
			}

			missing := append([][]byte{}, full...)
			missing[0] = nil
			recovered, err := codec.Recover(missing, tt.data)
			if err != nil {
				t.Fatalf("Recover: %v", err)
			}
			if !bytes.Equal(recovered[0], shards[0]) {
				t.Fatalf("Recover: got %x, want %x", recovered[0], shards[0])
			}
		})
	}
}

func TestCodecVerifyParityDetectsCorruption(t *testing.T) {
	codec := NewCodec(1)
	shards := [][]byte{fillShard(32, 1), fillShard(32, 2)}
	parity, err := codec.Encode(shards)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	full := append(append([][]byte{}, shards...), parity...)
	full[1][0] ^= 0xFF

	ok, err := codec.VerifyParity(full, 2)
	if err != nil {
		t.Fatalf("VerifyParity: %v", err)
	}
	if ok {
		t.Fatal("VerifyParity: corrupted shard verified as intact")
	}
}

func TestCodecRecoverReconstructsMissingParityShard(t *testing.T) {
	codec := NewCodec(2)
	shards := [][]byte{fillShard(32, 1), fillShard(32, 2), fillShard(32, 3)}
	parity, err := codec.Encode(shards)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	full := append(append([][]byte{}, shards...), parity...)
	missing := append([][]byte{}, full...)
	missing[len(shards)] = nil // an unreadable parity-level-0 block, not a data shard

	recovered, err := codec.Recover(missing, len(shards))
	if err != nil {
		t.Fatalf("Recover with a missing parity shard: %v", err)
	}
	if !bytes.Equal(recovered[len(shards)], parity[0]) {
		t.Fatalf("Recover did not reconstruct the missing parity shard: got %x, want %x",
			recovered[len(shards)], parity[0])
	}
}

func TestCodecRecoverFailsBeyondParityBudget(t *testing.T) {
	codec := NewCodec(1)
	shards := [][]byte{fillShard(32, 1), fillShard(32, 2), fillShard(32, 3)}
	parity, err := codec.Encode(shards)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	full := append(append([][]byte{}, shards...), parity...)
	full[0] = nil
	full[1] = nil

	if _, err := codec.Recover(full, 3); err == nil {
		t.Fatal("Recover: expected an error with two missing shards and one parity level")
	}
}
