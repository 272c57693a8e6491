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
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
)

// Options carries every per-run knob that changes an engine operation's
// behavior without changing its semantics: safety-gate overrides, I/O
// skip flags, and the exit-code inversions of check/fix.
type Options struct {
	// Safety-gate overrides (§4.E "Safety gates").
	ForceZero   bool
	ForceEmpty  bool
	ForceUUID   bool
	ForceDevice bool
	ForceNocopy bool
	ForceFull   bool

	// Exit-code inversions for check/fix (§7 "Propagation policy").
	ExpectUnrecoverable bool
	ExpectRecoverable   bool

	// Sync engine.
	Prehash bool

	// Hash-algorithm override flag (HighwayHash in place of murmur3). No
	// engine path reads it: the algorithm used is Repository.HashAlgo.
	ForceHighwayhash bool

	// I/O skip flags.
	SkipSign       bool
	SkipFallocate  bool
	SkipSequential bool
	SkipLock       bool
}

// DiskConfig is one `disk <name> <path>` line of the configuration file.
type DiskConfig struct {
	Name string
	Path string
}

// ParsedConfig is the result of parsing a repository configuration file
// (§6): the repository's static parameters, its member disks, the
// configured content-index/parity file paths, and the filter rules.
type ParsedConfig struct {
	BlockSize   uint32
	Parity      int
	Autosave    uint64 // bytes; 0 means "no autosave"
	ContentFile []string
	ParityFile  []string
	Disks       []DiskConfig
	Filters     []Rule
}

// ParseConfig reads the whitespace-separated configuration grammar of §6
// from r. Unrecognized keywords are ignored rather than rejected, since
// §6 only specifies the keywords this tool acts on and leaves the rest
// as a Non-goal.
func ParseConfig(r io.Reader) (*ParsedConfig, error) {
	cfg := &ParsedConfig{BlockSize: 256 * 1024, Parity: 1}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		kw := fields[0]
		args := fields[1:]

		switch kw {
		case "blocksize":
			if len(args) < 1 {
				return nil, configErr(lineNo, "blocksize requires an argument")
			}
			n, err := humanize.ParseBytes(args[0])
			if err != nil {
				return nil, configErr(lineNo, "bad blocksize: %v", err)
			}
			cfg.BlockSize = uint32(n)
		case "parity", "parity2", "z-parity":
			if len(args) < 1 {
				return nil, configErr(lineNo, "%s requires an argument", kw)
			}
			for _, p := range strings.Split(args[0], ",") {
				cfg.ParityFile = append(cfg.ParityFile, p)
			}
			cfg.Parity = len(cfg.ParityFile)
		case "content":
			if len(args) < 1 {
				return nil, configErr(lineNo, "content requires an argument")
			}
			cfg.ContentFile = append(cfg.ContentFile, args[0])
		case "autosave":
			if len(args) < 1 {
				return nil, configErr(lineNo, "autosave requires an argument")
			}
			n, err := humanize.ParseBytes(args[0])
			if err != nil {
				return nil, configErr(lineNo, "bad autosave size: %v", err)
			}
			cfg.Autosave = n
		case "disk":
			if len(args) < 2 {
				return nil, configErr(lineNo, "disk requires a name and a path")
			}
			cfg.Disks = append(cfg.Disks, DiskConfig{Name: args[0], Path: args[1]})
		case "exclude", "include":
			if len(args) < 1 {
				return nil, configErr(lineNo, "%s requires a pattern", kw)
			}
			action := FilterInclude
			if kw == "exclude" {
				action = FilterExclude
			}
			cfg.Filters = append(cfg.Filters, Rule{Action: action, Dimension: FilterPath, Pattern: args[0]})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, Wrap(KindConfiguration, "config.parse", err)
	}
	return cfg, nil
}

func configErr(lineNo int, format string, a ...interface{}) error {
	return Wrap(KindConfiguration, "config.parse", fmt.Errorf("line %d: %s", lineNo, fmt.Sprintf(format, a...)))
}

// formatAutosave renders bytes back into the humanized suffix form used
// when echoing a loaded configuration (status/diagnostic output only).
func formatAutosave(bytes uint64) string {
	if bytes == 0 {
		return "0"
	}
	return humanize.IBytes(bytes)
}
