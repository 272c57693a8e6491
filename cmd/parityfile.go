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
	"io"

	"github.com/snapguard/snapguard/cmd/logger"
)

// fder is satisfied by *os.File; the fallocate/fadvise hints only apply
// when the ReadWriterAtCloser the caller opened us with is backed by a
// real file descriptor.
type fder interface {
	Fd() uintptr
}

// ParityFile is a sparse array of block_size cells indexed by pos (§4.F,
// §3 "ParityFile[i]").
type ParityFile struct {
	path      string
	blockSize uint32
	f         ReadWriterAtCloser
	blocks    uint32 // current capacity, in blocks
	opts      Options
}

// OpenParityFile opens (creating if needed) the parity file at path,
// growing it to at least growToBlocks blocks (§4.F "open(path,
// grow_to_blocks)"). Growth prefers fallocate (platformFallocate) unless
// opts.SkipFallocate is set, falling back to Truncate.
func OpenParityFile(storage StorageAPI, path string, blockSize uint32, growToBlocks uint32, opts Options) (*ParityFile, error) {
	f, err := storage.Create(path)
	if err != nil {
		return nil, Wrap(KindConfiguration, "parityfile.open", err)
	}
	pf := &ParityFile{path: path, blockSize: blockSize, f: f, opts: opts}
	if err := pf.growTo(growToBlocks); err != nil {
		f.Close()
		return nil, err
	}
	return pf, nil
}

func (p *ParityFile) growTo(blocks uint32) error {
	if blocks <= p.blocks {
		return nil
	}
	size := int64(blocks) * int64(p.blockSize)
	if !p.opts.SkipFallocate {
		if fd, ok := p.f.(fder); ok {
			if err := platformFallocate(fd, size); err == nil {
				p.blocks = blocks
				return nil
			}
		}
		// Fall through to the portable path on any fallocate failure
		// (unsupported filesystem, ENOSYS, ...); growth must still
		// succeed via Truncate (§4.F "falls back to a best-effort
		// truncate").
	}
	if err := p.f.Truncate(size); err != nil {
		return Wrap(KindConfiguration, "parityfile.grow", err)
	}
	p.blocks = blocks
	return nil
}

// Read reads the block at pos into buf, which must be exactly blockSize
// bytes. Reading a pos beyond the file's current size is not an error:
// per §3 "Invariant after successful sync", trailing positions the
// content index does not yet need are simply zero.
func (p *ParityFile) Read(pos uint32, buf []byte) error {
	off := int64(pos) * int64(p.blockSize)
	n, err := p.f.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err != nil && err != io.EOF {
		return Wrap(KindTransientIO, "parityfile.read", err)
	}
	// Short/EOF reads past the allocated tail read as zero.
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

// Write writes buf (exactly blockSize bytes) to the block at pos, growing
// the file first if pos is beyond its current capacity.
func (p *ParityFile) Write(pos uint32, buf []byte) error {
	if pos >= p.blocks {
		if err := p.growTo(pos + 1); err != nil {
			return err
		}
	}
	off := int64(pos) * int64(p.blockSize)
	if _, err := p.f.WriteAt(buf, off); err != nil {
		return Wrap(KindTransientIO, "parityfile.write", err)
	}
	return nil
}

// Sync flushes the parity file to stable storage (§4.F "sync()").
func (p *ParityFile) Sync() error {
	if err := p.f.Sync(); err != nil {
		return Wrap(KindTransientIO, "parityfile.sync", err)
	}
	return nil
}

// Close closes the underlying file.
func (p *ParityFile) Close() error { return p.f.Close() }

// Blocks returns the file's current capacity, in blocks.
func (p *ParityFile) Blocks() uint32 { return p.blocks }

// hintSequential applies the sequential-access readahead hint (§4.F
// "Sequential mode hints the OS when enabled") unless opts.SkipSequential
// is set. Failures are logged, not propagated: the hint is an
// optimization, never a correctness requirement.
func (p *ParityFile) hintSequential() {
	if p.opts.SkipSequential {
		return
	}
	fd, ok := p.f.(fder)
	if !ok {
		return
	}
	if err := platformFadviseSequential(fd); err != nil {
		logger.LogIf(logger.Fields{Phase: "parityfile"}, err)
	}
}
