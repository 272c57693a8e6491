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
	"os"

	"golang.org/x/sys/unix"
)

// RepositoryLock enforces the single-process exclusion described in §5
// ("A filesystem lock file (per repository) enforces single-process
// exclusion"). It arbitrates a single repository-wide lock for one local
// process at a time; there is no distributed or multi-server locking
// concern to model here.
type RepositoryLock struct {
	path string
	f    *os.File
}

// AcquireRepositoryLock opens the lock file at path with O_RDWR|O_CREATE
// (no O_EXCL, so an existing file is reused) and takes a non-blocking
// exclusive flock(2) on it; no fcntl lock is used. It returns ErrLockHeld
// if another process already holds the flock. Release does not remove the
// file.
func AcquireRepositoryLock(path string) (*RepositoryLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, Wrap(KindConfiguration, "lock.open", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, ErrLockHeld
		}
		return nil, Wrap(KindConfiguration, "lock.flock", err)
	}
	return &RepositoryLock{path: path, f: f}, nil
}

// Release unlocks and closes the lock file. It is safe to call on every
// exit path (§5 "release on any exit path"), including after a failed
// acquisition attempt has already been cleaned up by the caller.
func (l *RepositoryLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
