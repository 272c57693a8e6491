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

// Package logger provides the leveled, phase-aware diagnostic output used by
// every engine loop (scan, sync, scrub, check/fix). It has no notion of an
// HTTP request; a log line instead carries the repository phase ("sync",
// "scrub", ...), the disk name and the block position it refers to, which are
// the only coordinates the engine ever needs to report.
package logger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
)

var (
	colorBold = color.New(color.Bold).SprintFunc()
	colorRed  = color.New(color.FgRed).SprintfFunc()
	colorCyan = color.New(color.FgCyan).SprintfFunc()
)

// Level is the severity of a log entry.
type Level int8

// Enumerated level types.
const (
	Info Level = iota + 1
	Error
	Fatal
)

func (level Level) String() string {
	switch level {
	case Info:
		return "INFO"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	}
	return "UNKNOWN"
}

// quiet suppresses Info output; Error and Fatal are always printed.
var quiet bool

// EnableQuiet turns the quiet option on.
func EnableQuiet() {
	quiet = true
}

// Fields carries the coordinates of the engine operation a log line belongs
// to. Any field left at its zero value is omitted from the rendered line.
type Fields struct {
	Phase string // "sync", "scrub", "check", "fix", "scan"
	Disk  string
	Pos   uint32
}

func (f Fields) String() string {
	var b strings.Builder
	if f.Phase != "" {
		fmt.Fprintf(&b, "%s", f.Phase)
	}
	if f.Disk != "" {
		fmt.Fprintf(&b, " disk=%s", f.Disk)
	}
	if f.Pos != 0 {
		fmt.Fprintf(&b, " pos=%d", f.Pos)
	}
	return b.String()
}

const timeFormat = "15:04:05.000"

func printLine(level Level, fields Fields, msg string) {
	ts := time.Now().Format(timeFormat)
	ctx := fields.String()
	var line string
	switch level {
	case Info:
		line = fmt.Sprintf("%s %s %s", ts, colorCyan("[%s]", ctx), msg)
	default:
		line = fmt.Sprintf("%s %s %s", ts, colorRed(colorBold("[%s]"), ctx), msg)
	}
	out := os.Stdout
	if level != Info {
		out = os.Stderr
	}
	fmt.Fprintln(out, line)
}

// Infof logs a progress line, suppressed when quiet mode is on.
func Infof(fields Fields, format string, args ...interface{}) {
	if quiet {
		return
	}
	printLine(Info, fields, fmt.Sprintf(format, args...))
}

// LogIf logs err, tagged with fields, unless err is nil. It never exits the
// process: per-block errors are accumulated by the caller (see §7 of the
// engine's error handling design) and must not abort a run in progress.
func LogIf(fields Fields, err error) {
	if err == nil {
		return
	}
	printLine(Error, fields, err.Error())
}

// FatalIf logs err, tagged with fields, and exits the process. Reserved for
// configuration, lock and signature errors that abort before any disk I/O
// begins.
func FatalIf(fields Fields, err error) {
	if err == nil {
		return
	}
	printLine(Fatal, fields, err.Error())
	os.Exit(1)
}
