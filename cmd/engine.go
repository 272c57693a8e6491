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
	"go.uber.org/atomic"

	"github.com/snapguard/snapguard/cmd/logger"
)

// Engine wires every component together for one repository: the loaded
// model, storage access, the parity codec, open parity files, the
// content-index reader/writer, and per-run options. It is the shared
// context threaded through sync, scrub and check/fix (§5).
type Engine struct {
	Repo         *Repository
	Storage      StorageAPI
	Codec        *Codec
	Sched        *Scheduler
	Index        *ContentIndexIO
	ContentPaths []string
	ParityFiles  []*ParityFile
	Filters      *FilterList
	Opts         Options

	autosaveBytes uint64
	interrupted   atomic.Bool
	lock          *RepositoryLock
}

// NewEngine constructs an Engine for repo, opening no parity files yet
// (callers open them via OpenParityFiles once blockCount is known).
func NewEngine(repo *Repository, storage StorageAPI, contentPaths []string, opts Options) *Engine {
	return &Engine{
		Repo:         repo,
		Storage:      storage,
		Codec:        NewCodec(repo.Parity),
		Sched:        NewScheduler(len(repo.Disks()), repo.Parity),
		Index:        NewContentIndexIO(),
		ContentPaths: contentPaths,
		Opts:         opts,
	}
}

// WithAutosave sets the autosave threshold in bytes of parity written
// (§4.G step 5); zero disables autosave (only a final save at the end of
// the run).
func (e *Engine) WithAutosave(bytes uint64) *Engine {
	e.autosaveBytes = bytes
	return e
}

// AcquireLock takes the repository's single-process lock (§5) unless
// Opts.SkipLock is set.
func (e *Engine) AcquireLock(lockPath string) error {
	if e.Opts.SkipLock {
		return nil
	}
	l, err := AcquireRepositoryLock(lockPath)
	if err != nil {
		return err
	}
	e.lock = l
	return nil
}

// ReleaseLock releases the repository lock, if held.
func (e *Engine) ReleaseLock() error {
	if e.lock == nil {
		return nil
	}
	err := e.lock.Release()
	e.lock = nil
	return err
}

// OpenParityFiles opens (growing as needed) one ParityFile per configured
// parity path, sized to hold blockCount blocks (§4.G "Preconditions").
func (e *Engine) OpenParityFiles(blockCount uint32) error {
	files := make([]*ParityFile, 0, len(e.Repo.ParityPaths))
	for _, p := range e.Repo.ParityPaths {
		pf, err := OpenParityFile(e.Storage, p, e.Repo.BlockSize, blockCount, e.parityFileOptions())
		if err != nil {
			for _, open := range files {
				open.Close()
			}
			return Wrap(KindConfiguration, "engine.openparity", err)
		}
		files = append(files, pf)
	}
	e.ParityFiles = files
	return nil
}

func (e *Engine) parityFileOptions() Options { return e.Opts }

// CloseParityFiles syncs and closes every open parity file.
func (e *Engine) CloseParityFiles() error {
	var firstErr error
	for _, pf := range e.ParityFiles {
		if err := pf.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := pf.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.ParityFiles = nil
	return firstErr
}

// Interrupt requests cooperative cancellation; in-flight work finishes
// its current pos before observing it (§5 "global interrupt flag...
// polled at each pos boundary").
func (e *Engine) Interrupt() {
	e.interrupted.Store(true)
	logger.Infof(logger.Fields{Phase: "engine"}, "interrupt requested")
}

// Interrupted reports whether Interrupt has been called.
func (e *Engine) Interrupted() bool {
	return e.interrupted.Load()
}
