// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package server contains the `spillway server` subcommand, which runs a
// worker's memory arbiter, block locator and task executor. The purpose of
// this package is to define an easily tested Command object which handles
// interpreting configuration and setting up all the objects a worker
// needs.
package server

import (
	"encoding/json"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/featurebasedb/spillway"
	"github.com/featurebasedb/spillway/disk"
	"github.com/featurebasedb/spillway/errors"
	"github.com/featurebasedb/spillway/gopsutil"
	fbhttp "github.com/featurebasedb/spillway/http"
	"github.com/featurebasedb/spillway/logger"
	"github.com/featurebasedb/spillway/memory"
	"github.com/featurebasedb/spillway/shutdown"
	"github.com/featurebasedb/spillway/spill"
	"github.com/featurebasedb/spillway/task"
)

// Command represents the state of the spillway server command.
type Command struct {
	// Configuration.
	Config *Config

	Arbiter  *memory.Arbiter
	Locator  *disk.Locator
	Executor *task.Executor

	// Standard input/output
	*spillway.CmdIO

	handler *fbhttp.Handler
	ln      net.Listener

	sys      spillway.SystemInfo
	registry *shutdown.Registry

	// signals receives the first interrupt; watched from Start so that
	// local directories created during startup are still cleaned up.
	signals   <-chan os.Signal
	stopWatch func()

	// done will be closed when Command.Close() is called
	closeMu sync.Mutex
	done    chan struct{}

	logger    logger.Logger
	logOutput io.Writer
	logFile   *logger.FileWriter
}

type CommandOption func(c *Command) error

func OptCommandConfig(config *Config) CommandOption {
	return func(c *Command) error {
		c.Config = config
		return nil
	}
}

// OptCommandSystemInfo replaces the host's memory and core counts.
func OptCommandSystemInfo(sys spillway.SystemInfo) CommandOption {
	return func(c *Command) error {
		c.sys = sys
		return nil
	}
}

// OptCommandShutdown registers cleanup with r instead of shutdown.Default.
func OptCommandShutdown(r *shutdown.Registry) CommandOption {
	return func(c *Command) error {
		c.registry = r
		return nil
	}
}

// NewCommand returns a new instance of Command.
func NewCommand(stdin io.Reader, stdout, stderr io.Writer, opts ...CommandOption) *Command {
	c := &Command{
		Config: NewConfig(),

		CmdIO: spillway.NewCmdIO(stdin, stdout, stderr),

		registry: shutdown.Default,

		done: make(chan struct{}),
	}

	for _, opt := range opts {
		err := opt(c)
		if err != nil {
			panic(err)
		}
	}
	if c.sys == nil {
		c.sys = gopsutil.NewSystemInfo()
	}

	return c
}

// Start builds the worker's components and, if configured, starts serving
// status.
func (m *Command) Start() (err error) {
	if err := m.setupLogger(); err != nil {
		return errors.Wrap(err, "setting up logger")
	}
	m.signals, m.stopWatch = m.registry.Watch(os.Interrupt, syscall.SIGTERM)
	if err := m.setupServer(); err != nil {
		m.stopWatch()
		return errors.Wrap(err, "setting up server")
	}

	if m.handler != nil {
		go func() {
			if err := m.handler.Serve(); err != nil {
				m.logger.Errorf("handler serve error: %v", err)
			}
		}()
		m.logger.Printf("serving status on http://%s", m.ln.Addr())
	}
	return nil
}

// setupServer uses the configuration to set up this server.
func (m *Command) setupServer() error {
	if err := m.Config.Validate(); err != nil {
		return errors.Wrap(err, "validating config")
	}
	conf, err := json.MarshalIndent(m.Config, "", "\t")
	if err != nil {
		return errors.Wrap(err, "marshaling config")
	}
	m.logger.Debugf("config: %s", conf)

	maxMemory, pageSize, err := m.Config.Memory.Resolve(m.sys)
	if err != nil {
		return errors.Wrap(err, "sizing memory pool")
	}
	concurrency := m.Config.TaskConcurrency
	if concurrency == 0 {
		if concurrency, err = m.sys.CPUCount(); err != nil {
			return errors.Wrap(err, "counting cores")
		}
	}

	m.Executor = task.NewExecutor(concurrency, task.OptExecutorLogger(m.logger.WithPrefix("task: ")))
	m.Arbiter = memory.NewArbiter(maxMemory,
		memory.OptArbiterPageSize(pageSize),
		memory.OptArbiterBlocker(m.Executor),
		memory.OptArbiterLogger(m.logger.WithPrefix("memory: ")),
	)
	m.Executor.OnCompletion(m.Arbiter.CompletionFunc())
	m.logger.Printf("memory pool %d bytes, page size %d bytes, %d concurrent tasks", maxMemory, pageSize, concurrency)

	m.Locator, err = disk.New(m.Config.Disk(),
		disk.OptLocatorLogger(m.logger.WithPrefix("disk: ")),
		disk.OptLocatorShutdown(m.registry),
	)
	if err != nil {
		m.Executor.Close()
		return errors.Wrap(err, "creating block locator")
	}

	if m.Config.Metric.Bind == "" {
		return nil
	}
	m.ln, err = net.Listen("tcp", m.Config.Metric.Bind)
	if err != nil {
		m.teardown()
		return errors.Wrap(err, "net.Listen")
	}
	m.handler, err = fbhttp.NewHandler(
		fbhttp.OptHandlerArbiter(m.Arbiter),
		fbhttp.OptHandlerLocator(m.Locator),
		fbhttp.OptHandlerExecutor(m.Executor),
		fbhttp.OptHandlerLogger(m.logger.WithPrefix("http: ")),
		fbhttp.OptHandlerListener(m.ln),
		fbhttp.OptHandlerAllowedOrigins(m.Config.Metric.AllowedOrigins),
	)
	if err != nil {
		m.teardown()
		return errors.Wrap(err, "new handler")
	}
	return nil
}

// teardown releases what setupServer built when a later step fails.
func (m *Command) teardown() {
	if m.ln != nil {
		m.ln.Close()
		m.ln = nil
	}
	m.Executor.Close()
	if err := m.Locator.Stop(); err != nil {
		m.logger.Errorf("stopping locator: %v", err)
	}
}

// setupLogger sets up the logger based on the configuration.
func (m *Command) setupLogger() error {
	if m.Config.LogPath == "" {
		m.logOutput = m.Stderr
	} else {
		f, err := logger.NewFileWriter(m.Config.LogPath)
		if err != nil {
			return errors.Wrap(err, "opening file")
		}
		m.logFile = f
		m.logOutput = f
	}
	if m.Config.Verbose {
		m.logger = logger.NewVerboseLogger(m.logOutput)
	} else {
		m.logger = logger.NewStandardLogger(m.logOutput)
	}
	m.CmdIO.SetLogger(m.logger)

	if m.logFile != nil {
		// reopen log file on SIGHUP
		sighup := make(chan os.Signal, 1)
		signal.Notify(sighup, syscall.SIGHUP)
		go func() {
			defer signal.Stop(sighup)
			for {
				select {
				case <-sighup:
					if err := m.logFile.Reopen(); err != nil {
						m.logger.Infof("reopen: %s", err.Error())
					}
				case <-m.done:
					return
				}
			}
		}()
	}
	return nil
}

// Addr returns the address status is served on, or nil.
func (m *Command) Addr() net.Addr {
	if m.ln == nil {
		return nil
	}
	return m.ln.Addr()
}

// NewSorter returns a spill.Sorter for an attempt running on the command's
// executor, configured from Config.Spill.
func (m *Command) NewSorter(tc *task.Context) *spill.Sorter {
	return spill.NewSorter(tc, m.Arbiter, m.Locator,
		spill.OptSorterCompression(m.Config.Spill.Compress),
		spill.OptSorterLogger(m.logger.WithPrefix("spill: ")),
	)
}

// Done is closed once the command has been closed.
func (m *Command) Done() <-chan struct{} { return m.done }

// Wait waits for the server to be closed or interrupted.
func (m *Command) Wait() error {
	// The first signal shuts down gracefully; a second runs the shutdown
	// hooks and exits. A nil channel (Start not called) never fires.
	select {
	case sig := <-m.signals:
		m.logger.Infof("received signal '%s', gracefully shutting down...", sig.String())
		return errors.Wrap(m.Close(), "closing command")
	case <-m.done:
		m.logger.Infof("server closed externally")
		return nil
	}
}

// Close shuts down the server.
func (m *Command) Close() error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()
	select {
	case <-m.done:
		return nil
	default:
	}
	eg := errgroup.Group{}
	if m.handler != nil {
		eg.Go(m.handler.Close)
	}
	if m.Executor != nil {
		eg.Go(func() error {
			m.Executor.Close()
			return nil
		})
	}
	err := eg.Wait()

	// Attempts have finished, so nothing writes to the local dirs any more.
	if m.Locator != nil {
		if serr := m.Locator.Stop(); serr != nil && err == nil {
			err = serr
		}
	}
	if m.stopWatch != nil {
		m.stopWatch()
	}
	close(m.done)
	if m.logFile != nil {
		if cerr := m.logFile.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return errors.Wrap(err, "closing everything")
}
