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

func TestHashAlgoDeterministic(t *testing.T) {
	var seed [HashSize]byte
	for i := range seed {
		seed[i] = byte(i)
	}
	for _, id := range []HashAlgoID{HashMurmur3, HashHighway} {
		algo := NewHashAlgo(id, seed)
		block := []byte("the quick brown fox jumps over the lazy dog")
		a := algo.Hash(block)
		b := algo.Hash(append([]byte{}, block...))
		if a != b {
			t.Errorf("%s: Hash not deterministic: %x != %x", id, a, b)
		}
	}
}

func TestHashAlgoDiffersBySeed(t *testing.T) {
	var seedA, seedB [HashSize]byte
	seedB[0] = 1
	block := []byte("payload")
	for _, id := range []HashAlgoID{HashMurmur3, HashHighway} {
		a := NewHashAlgo(id, seedA).Hash(block)
		b := NewHashAlgo(id, seedB).Hash(block)
		if a == b {
			t.Errorf("%s: Hash did not change with seed", id)
		}
	}
}

func TestPaddedBlock(t *testing.T) {
	out := PaddedBlock([]byte("abc"), 8)
	if len(out) != 8 {
		t.Fatalf("got length %d, want 8", len(out))
	}
	if string(out[:3]) != "abc" {
		t.Fatalf("got prefix %q, want %q", out[:3], "abc")
	}
	for _, b := range out[3:] {
		if b != 0 {
			t.Fatalf("expected zero padding, got %x", out[3:])
		}
	}

	exact := PaddedBlock([]byte("12345678"), 8)
	if len(exact) != 8 || string(exact) != "12345678" {
		t.Fatalf("exact-length block was modified: %q", exact)
	}
}

func TestRehashVerifierAcceptsPreviousAlgorithm(t *testing.T) {
	var oldSeed, newSeed [HashSize]byte
	newSeed[0] = 0xFF
	repo := NewRepository(4096, 1)
	repo.HashAlgo = HashHighway
	repo.HashSeed = newSeed
	repo.PrevHash = &PrevHash{Algo: HashMurmur3, Seed: oldSeed}

	block := PaddedBlock([]byte("data"), 16)
	oldHash := NewHashAlgo(HashMurmur3, oldSeed).Hash(block)

	v := NewRehashVerifier(repo)
	if !v.Verify(block, oldHash) {
		t.Fatal("Verify: did not accept a hash computed under the previous algorithm/seed")
	}

	newHash := v.Current(block)
	if newHash == oldHash {
		t.Fatal("Current: new hash should differ from the old algorithm/seed's hash")
	}
	if !v.Verify(block, newHash) {
		t.Fatal("Verify: did not accept a hash computed under the current algorithm/seed")
	}
}
