//go:build !linux

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

import "errors"

// platformFallocate has no portable equivalent outside Linux; callers
// always fall back to Truncate (§4.F "falls back to a best-effort
// truncate"), which is correctness-preserving, only losing the
// up-front space reservation.
func platformFallocate(f fder, size int64) error {
	return errors.New("fallocate: not supported on this platform")
}

// platformFadviseSequential is a no-op outside Linux; it is an
// optimization hint only (§4.F).
func platformFadviseSequential(f fder) error {
	return nil
}
