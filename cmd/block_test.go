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

func TestBlockStateTombstoneAndProtected(t *testing.T) {
	tests := []struct {
		state     BlockState
		tombstone bool
		protected bool
	}{
		{BlockEmpty, false, false},
		{BlockBLK, false, true},
		{BlockCHG, false, false},
		{BlockREL, true, false},
		{BlockDeleted, true, false},
	}
	for _, tt := range tests {
		if got := tt.state.Tombstone(); got != tt.tombstone {
			t.Errorf("%s.Tombstone() = %v, want %v", tt.state, got, tt.tombstone)
		}
		if got := tt.state.Protected(); got != tt.protected {
			t.Errorf("%s.Protected() = %v, want %v", tt.state, got, tt.protected)
		}
	}
}

func TestBlockTableGetSetDelete(t *testing.T) {
	bt := NewBlockTable()
	if b := bt.Get(1, 0); b != nil {
		t.Fatalf("Get on empty table: got %v, want nil", b)
	}

	b := &Block{Pos: 0, State: BlockBLK}
	bt.Set(1, 0, b)
	if got := bt.Get(1, 0); got != b {
		t.Fatalf("Get after Set: got %v, want %v", got, b)
	}
	if got := bt.Get(2, 0); got != nil {
		t.Fatalf("Get on a different disk index: got %v, want nil", got)
	}

	bt.Delete(1, 0)
	if got := bt.Get(1, 0); got != nil {
		t.Fatalf("Get after Delete: got %v, want nil", got)
	}
}

func TestBlockTableForEachDisk(t *testing.T) {
	bt := NewBlockTable()
	bt.Set(1, 0, &Block{Pos: 0, State: BlockBLK})
	bt.Set(1, 1, &Block{Pos: 1, State: BlockCHG})
	bt.Set(2, 0, &Block{Pos: 0, State: BlockBLK})

	seen := map[uint32]BlockState{}
	bt.ForEachDisk(1, func(pos uint32, b *Block) {
		seen[pos] = b.State
	})
	if len(seen) != 2 {
		t.Fatalf("got %d blocks for disk 1, want 2", len(seen))
	}
	if seen[0] != BlockBLK || seen[1] != BlockCHG {
		t.Fatalf("unexpected states: %v", seen)
	}
}
