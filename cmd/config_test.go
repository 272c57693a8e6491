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
	"strings"
	"testing"
)

func TestParseConfigBasics(t *testing.T) {
	src := `
# a comment, and a blank line follow

blocksize 256KiB
parity /mnt/parity/snapguard.parity
content /mnt/d1/.content
content /mnt/d2/.content
autosave 1GiB
disk d1 /mnt/d1
disk d2 /mnt/d2
exclude *.tmp
include keep/*.tmp
`
	cfg, err := ParseConfig(strings.NewReader(src))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.BlockSize != 256*1024 {
		t.Errorf("BlockSize = %d, want %d", cfg.BlockSize, 256*1024)
	}
	if cfg.Parity != 1 || len(cfg.ParityFile) != 1 || cfg.ParityFile[0] != "/mnt/parity/snapguard.parity" {
		t.Errorf("parity parse mismatch: %+v", cfg)
	}
	if len(cfg.ContentFile) != 2 {
		t.Fatalf("got %d content files, want 2", len(cfg.ContentFile))
	}
	if cfg.Autosave != 1<<30 {
		t.Errorf("Autosave = %d, want %d", cfg.Autosave, uint64(1<<30))
	}
	if len(cfg.Disks) != 2 || cfg.Disks[0].Name != "d1" || cfg.Disks[1].Path != "/mnt/d2" {
		t.Fatalf("disk parse mismatch: %+v", cfg.Disks)
	}
	if len(cfg.Filters) != 2 {
		t.Fatalf("got %d filter rules, want 2", len(cfg.Filters))
	}
	if cfg.Filters[0].Action != FilterExclude || cfg.Filters[1].Action != FilterInclude {
		t.Fatalf("filter rule action mismatch: %+v", cfg.Filters)
	}
}

func TestParseConfigMultiParityCommaList(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader("parity /mnt/p1/x.parity,/mnt/p2/x.parity\n"))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Parity != 2 || len(cfg.ParityFile) != 2 {
		t.Fatalf("comma-separated parity list mismatch: %+v", cfg.ParityFile)
	}
}

func TestParseConfigDefaultsAppliedWhenUnset(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader("disk d1 /mnt/d1\n"))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.BlockSize != 256*1024 {
		t.Errorf("default BlockSize = %d, want %d", cfg.BlockSize, 256*1024)
	}
	if cfg.Parity != 1 {
		t.Errorf("default Parity = %d, want 1", cfg.Parity)
	}
}

func TestParseConfigRejectsMissingArgument(t *testing.T) {
	_, err := ParseConfig(strings.NewReader("blocksize\n"))
	if err == nil {
		t.Fatal("expected an error for a blocksize line with no argument")
	}
}

func TestParseConfigIgnoresUnknownKeyword(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader("nfsmount /mnt/d1 rw\ndisk d1 /mnt/d1\n"))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if len(cfg.Disks) != 1 {
		t.Fatalf("unknown keyword should be ignored, not abort parsing: %+v", cfg)
	}
}
