// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package ctl

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/table"

	"github.com/featurebasedb/spillway"
	"github.com/featurebasedb/spillway/block"
	"github.com/featurebasedb/spillway/errors"
	"github.com/featurebasedb/spillway/spill"
)

// InspectCommand lists the blocks stored under local directories, whether
// or not a worker is still running on them.
type InspectCommand struct {
	// Paths are local directories (spillway-*) or roots containing them.
	Paths []string

	// Verify checks the checksum of every spilled run.
	Verify bool

	*spillway.CmdIO
}

// NewInspectCommand returns a new instance of InspectCommand.
func NewInspectCommand(stdin io.Reader, stdout, stderr io.Writer) *InspectCommand {
	return &InspectCommand{
		CmdIO: spillway.NewCmdIO(stdin, stdout, stderr),
	}
}

type blockFile struct {
	id   block.ID
	path string
	size int64
	note string
}

// Run prints a table of the blocks found.
func (cmd *InspectCommand) Run(_ context.Context) error {
	if len(cmd.Paths) == 0 {
		return errors.New(errors.ErrInvalidConfig, "path required")
	}
	var files []blockFile
	for _, p := range cmd.Paths {
		dirs, err := localDirs(p)
		if err != nil {
			return err
		}
		for _, dir := range dirs {
			found, err := cmd.scan(dir)
			if err != nil {
				return err
			}
			files = append(files, found...)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })

	t := newTable(cmd.Stdout)
	header := table.Row{"Block", "Kind", "Size", "Path"}
	if cmd.Verify {
		header = append(header, "Check")
	}
	t.AppendHeader(header)
	var total int64
	for _, f := range files {
		row := table.Row{f.id.Name(), kindName(f.id), humanize.IBytes(uint64(f.size)), f.path}
		if cmd.Verify {
			row = append(row, f.note)
		}
		t.AppendRow(row)
		total += f.size
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d blocks", len(files)), "", humanize.IBytes(uint64(total))})
	t.Render()
	return nil
}

// localDirs returns p if it is a local directory, or the local directories
// directly under it.
func localDirs(p string) ([]string, error) {
	if strings.HasPrefix(filepath.Base(p), "spillway-") {
		return []string{p}, nil
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", p)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "spillway-") {
			dirs = append(dirs, filepath.Join(p, e.Name()))
		}
	}
	return dirs, nil
}

func (cmd *InspectCommand) scan(dir string) ([]blockFile, error) {
	subs, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", dir)
	}
	var files []blockFile
	for _, sub := range subs {
		if !sub.IsDir() {
			continue
		}
		subDir := filepath.Join(dir, sub.Name())
		entries, err := os.ReadDir(subDir)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", subDir)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			path := filepath.Join(subDir, e.Name())
			id, err := block.Parse(e.Name())
			if err != nil {
				cmd.Logger().Warnf("skipping %s: %v", path, err)
				continue
			}
			info, err := e.Info()
			if err != nil {
				return nil, errors.Wrapf(err, "stat %s", path)
			}
			f := blockFile{id: id, path: path, size: info.Size()}
			if cmd.Verify {
				f.note = verify(id, path)
			}
			files = append(files, f)
		}
	}
	return files, nil
}

// verify checks a spilled run. Other blocks are not checked.
func verify(id block.ID, path string) string {
	switch id.(type) {
	case block.TempLocal, block.TempShuffle:
	default:
		return "-"
	}
	n, err := spill.VerifyRun(path)
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("ok, %d records", n)
}

func kindName(id block.ID) string {
	switch id.(type) {
	case block.RDD:
		return "rdd"
	case block.Shuffle:
		return "shuffle"
	case block.ShuffleData:
		return "shuffle data"
	case block.ShuffleIndex:
		return "shuffle index"
	case block.Broadcast:
		return "broadcast"
	case block.TaskResult:
		return "task result"
	case block.Stream:
		return "stream"
	case block.TempLocal:
		return block.KindTempLocal.String()
	case block.TempShuffle:
		return block.KindTempShuffle.String()
	case block.Test:
		return "test"
	}
	return "unknown"
}
