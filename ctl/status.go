// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package ctl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"

	"github.com/featurebasedb/spillway"
	"github.com/featurebasedb/spillway/errors"
	fbhttp "github.com/featurebasedb/spillway/http"
)

// StatusCommand prints a running worker's memory ledger and local
// directories.
type StatusCommand struct {
	// Host is the worker's metric.bind address.
	Host string

	Timeout time.Duration

	*spillway.CmdIO
}

// NewStatusCommand returns a new instance of StatusCommand.
func NewStatusCommand(stdin io.Reader, stdout, stderr io.Writer) *StatusCommand {
	return &StatusCommand{
		Host:    "localhost:10110",
		Timeout: 10 * time.Second,
		CmdIO:   spillway.NewCmdIO(stdin, stdout, stderr),
	}
}

// Run fetches and prints the status.
func (cmd *StatusCommand) Run(ctx context.Context) error {
	client, err := fbhttp.NewClient(cmd.Host, &http.Client{Timeout: cmd.Timeout})
	if err != nil {
		return errors.Wrap(err, "creating client")
	}
	s, err := client.Status(ctx)
	if err != nil {
		return errors.Wrap(err, "getting status")
	}

	fmt.Fprintf(cmd.Stdout, "%s\n", s.Version)
	fmt.Fprintf(cmd.Stdout, "memory: %s of %s in use, page size %s, %d waiting\n",
		humanize.IBytes(s.Memory.Used), humanize.IBytes(s.Memory.MaxMemory),
		humanize.IBytes(s.Memory.PageSize), s.Memory.Waiting)
	fmt.Fprintf(cmd.Stdout, "workers: %d live, %d unblocked, target %d\n",
		s.Workers.Live, s.Workers.Unblocked, s.Workers.Target)

	t := newTable(cmd.Stdout)
	t.AppendHeader(table.Row{"Attempt", "Memory"})
	for _, u := range s.Memory.Attempts {
		t.AppendRow(table.Row{u.Attempt.String(), humanize.IBytes(u.Bytes)})
	}
	t.Render()

	t = newTable(cmd.Stdout)
	t.AppendHeader(table.Row{"Local dir", "Subdirs", "Available", "Size"})
	for _, d := range s.LocalDirs {
		t.AppendRow(table.Row{d.Path, d.SubDirs, humanize.IBytes(d.Available), humanize.IBytes(d.Size)})
	}
	t.Render()
	return nil
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	// Don't uppercase the header or footer values.
	t.Style().Format.Header = text.FormatDefault
	t.Style().Format.Footer = text.FormatDefault
	return t
}
