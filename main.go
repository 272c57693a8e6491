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

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/minio/cli"

	"github.com/snapguard/snapguard/cmd"
	"github.com/snapguard/snapguard/cmd/logger"
)

var commonFlags = []cli.Flag{
	cli.StringFlag{Name: "conf", Value: "snapguard.conf", Usage: "path to the repository configuration file"},
	cli.BoolFlag{Name: "quiet, q", Usage: "suppress informational output"},
	cli.BoolFlag{Name: "force-zero", Usage: "allow files that shrank to zero bytes"},
	cli.BoolFlag{Name: "force-empty", Usage: "allow a disk to lose more than half its known files"},
	cli.BoolFlag{Name: "force-uuid", Usage: "allow a disk whose uuid changed"},
	cli.BoolFlag{Name: "force-device", Usage: "allow a device id clash between disks"},
	cli.BoolFlag{Name: "force-nocopy", Usage: "disable copy/move detection"},
	cli.BoolFlag{Name: "force-full", Usage: "rebuild every block rather than only changed ones"},
	cli.BoolFlag{Name: "skip-sign", Usage: "skip content-index signature verification"},
	cli.BoolFlag{Name: "skip-lock", Usage: "do not take the repository lock"},
}

func main() {
	app := cli.NewApp()
	app.Name = "snapguard"
	app.Usage = "snapshot-based parity protection for independently-managed data disks"
	app.Commands = []cli.Command{
		{Name: "sync", Usage: "reconcile and compute parity for all changes", Flags: append(commonFlags, cli.BoolFlag{Name: "prehash"}, cli.StringFlag{Name: "autosave"}), Action: runSync},
		{Name: "scrub", Usage: "verify a rotating subset of protected blocks", Flags: append(commonFlags, cli.StringFlag{Name: "older-than"}, cli.Float64Flag{Name: "percentage"}), Action: runScrub},
		{Name: "check", Usage: "validate all protected blocks without writing", Flags: commonFlags, Action: runCheck},
		{Name: "fix", Usage: "validate and repair protected blocks", Flags: append(commonFlags, cli.BoolFlag{Name: "expect-unrecoverable"}, cli.BoolFlag{Name: "expect-recoverable"}), Action: runFix},
		{Name: "status", Usage: "print per-disk usage accounting", Flags: commonFlags, Action: runStatus},
	}
	app.Action = func(c *cli.Context) error {
		return cli.ShowAppHelp(c)
	}

	if err := app.Run(os.Args); err != nil {
		logger.FatalIf(logger.Fields{Phase: "main"}, err)
	}
}

func loadEngine(c *cli.Context) (*cmd.Engine, *cmd.ParsedConfig, error) {
	if c.Bool("quiet") {
		logger.EnableQuiet()
	}
	f, err := os.Open(c.String("conf"))
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	parsed, err := cmd.ParseConfig(f)
	if err != nil {
		return nil, nil, err
	}

	repo := cmd.NewRepository(parsed.BlockSize, parsed.Parity)
	repo.ParityPaths = parsed.ParityFile
	for _, dc := range parsed.Disks {
		repo.AddDisk(cmd.NewDisk(dc.Name, dc.Path, ""))
	}

	opts := cmd.Options{
		ForceZero:   c.Bool("force-zero"),
		ForceEmpty:  c.Bool("force-empty"),
		ForceUUID:   c.Bool("force-uuid"),
		ForceDevice: c.Bool("force-device"),
		ForceNocopy: c.Bool("force-nocopy"),
		ForceFull:   c.Bool("force-full"),
		SkipSign:    c.Bool("skip-sign"),
		SkipLock:    c.Bool("skip-lock"),
		Prehash:     c.Bool("prehash"),
	}

	storage := cmd.NewOSStorage()
	engine := cmd.NewEngine(repo, storage, parsed.ContentFile, opts)
	engine.Filters = cmd.NewFilterList(parsed.Filters...)
	if parsed.Autosave > 0 {
		engine = engine.WithAutosave(parsed.Autosave)
	}
	return engine, parsed, nil
}

func runSync(c *cli.Context) error {
	engine, _, err := loadEngine(c)
	if err != nil {
		return err
	}
	if err := reconcileAll(engine); err != nil {
		return err
	}
	blockCount := engine.Repo.GlobalBlockCount()
	if err := engine.OpenParityFiles(blockCount); err != nil {
		return err
	}
	defer engine.CloseParityFiles()
	report, err := engine.Sync(0, blockCount)
	if err != nil {
		return err
	}
	logger.Infof(logger.Fields{Phase: "sync"}, "written=%d delta=%d errored=%d autosaves=%d",
		report.BlocksWritten, report.BlocksDelta, report.BlocksErrored, report.AutosaveCount)
	return nil
}

// reconcileAll walks and reconciles every disk in engine's repository
// before a sync run (§4.E feeds §4.G's "reconciled model" precondition).
func reconcileAll(engine *cmd.Engine) error {
	for _, d := range engine.Repo.Disks() {
		entries, err := cmd.WalkDisk(engine.Storage, d.Path, engine.Filters)
		if err != nil {
			return err
		}
		if _, err := cmd.Reconcile(engine.Repo, d, entries, nil, engine.Opts); err != nil {
			return err
		}
	}
	return nil
}

func runScrub(c *cli.Context) error {
	engine, _, err := loadEngine(c)
	if err != nil {
		return err
	}
	blockCount := engine.Repo.GlobalBlockCount()
	if err := engine.OpenParityFiles(blockCount); err != nil {
		return err
	}
	defer engine.CloseParityFiles()

	olderThan, err := parseDurationDays(c.String("older-than"))
	if err != nil {
		return err
	}
	positions := cmd.SelectForScrub(engine.Repo, engine.Index, olderThan, c.Float64("percentage"))
	report, err := engine.Scrub(positions)
	if err != nil {
		return err
	}
	logger.Infof(logger.Fields{Phase: "scrub"}, "scanned=%d verified=%d repaired=%d unrecoverable=%d",
		report.Scanned, report.Verified, report.Repaired, report.Unrecoverable)
	return nil
}

func runCheck(c *cli.Context) error {
	return checkOrFix(c, false)
}

func runFix(c *cli.Context) error {
	return checkOrFix(c, true)
}

func checkOrFix(c *cli.Context, fix bool) error {
	engine, _, err := loadEngine(c)
	if err != nil {
		return err
	}
	if fix {
		engine.Opts.ExpectUnrecoverable = c.Bool("expect-unrecoverable")
		engine.Opts.ExpectRecoverable = c.Bool("expect-recoverable")
	}
	blockCount := engine.Repo.GlobalBlockCount()
	if err := engine.OpenParityFiles(blockCount); err != nil {
		return err
	}
	defer engine.CloseParityFiles()

	report, err := engine.Check(0, blockCount, fix)
	if err != nil {
		return err
	}
	logger.Infof(logger.Fields{Phase: "check"}, "verified=%d recovered=%d unrecoverable=%d garbage=%d",
		report.Verified, report.Recovered, report.Unrecoverable, report.Garbage)
	os.Exit(report.ExitCode(engine.Opts))
	return nil
}

func runStatus(c *cli.Context) error {
	engine, _, err := loadEngine(c)
	if err != nil {
		return err
	}
	engine.Repo.StorageInfo(engine.Sched)
	return nil
}

// parseDurationDays parses a plain number of days (the "olderthan" unit
// used throughout §4.H and §6) into a time.Duration.
func parseDurationDays(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	var days float64
	if _, err := fmt.Sscanf(s, "%f", &days); err != nil {
		return 0, err
	}
	return time.Duration(days * float64(24*time.Hour)), nil
}
