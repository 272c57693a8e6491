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

	"github.com/snapguard/snapguard/cmd/logger"
)

// StateWrite implements the atomic update protocol of §4.D: every
// configured content-file path is written to a ".tmp" sibling and
// fsync'd, and only once *all* of them have succeeded is each renamed
// over its original (POSIX rename semantics). If any write fails, the
// partial ".tmp" files are unlinked and the pre-existing state is left
// intact.
func StateWrite(storage StorageAPI, paths []string, repo *Repository, index *ContentIndexIO) error {
	if len(paths) == 0 {
		return Wrap(KindConfiguration, "contentindex.statewrite", ErrBadMagic)
	}

	var payload bytes.Buffer
	if err := index.WriteBinary(&payload, repo); err != nil {
		return err
	}

	tmpPaths := make([]string, 0, len(paths))
	cleanup := func() {
		for _, tp := range tmpPaths {
			_ = storage.Remove(tp)
		}
	}

	for _, p := range paths {
		tmp := p + ".tmp"
		f, err := storage.Create(tmp)
		if err != nil {
			cleanup()
			return Wrap(KindConfiguration, "contentindex.statewrite", err)
		}
		tmpPaths = append(tmpPaths, tmp)
		if _, err := f.WriteAt(payload.Bytes(), 0); err != nil {
			f.Close()
			cleanup()
			return Wrap(KindConfiguration, "contentindex.statewrite", err)
		}
		if err := f.Truncate(int64(payload.Len())); err != nil {
			f.Close()
			cleanup()
			return Wrap(KindConfiguration, "contentindex.statewrite", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			cleanup()
			return Wrap(KindConfiguration, "contentindex.statewrite", err)
		}
		f.Close()
	}

	// Every .tmp write succeeded; commit them all. A failure partway
	// through here leaves a mix of renamed and un-renamed .tmp files,
	// which is the crash window §4.G's autosave accepts (the next
	// successful StateWrite overwrites both).
	for i, p := range paths {
		if err := storage.Rename(tmpPaths[i], p); err != nil {
			logger.LogIf(logger.Fields{Phase: "contentindex"}, err)
			return Wrap(KindConfiguration, "contentindex.statewrite.rename", err)
		}
	}
	return nil
}
