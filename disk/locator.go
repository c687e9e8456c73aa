// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package disk places blocks in files under a set of local directories.
//
// Each configured root gets a private spillway-<uuid> directory. A block's
// name is hashed to pick one of those directories and then one of a fixed
// number of subdirectories beneath it, so no single directory collects too
// many files. Subdirectories are created on first use.
package disk

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash"
	"github.com/ricochet2200/go-disk-usage/du"
	uuid "github.com/satori/go.uuid"

	"github.com/featurebasedb/spillway/block"
	"github.com/featurebasedb/spillway/errors"
	"github.com/featurebasedb/spillway/logger"
	"github.com/featurebasedb/spillway/shutdown"
)

const (
	localDirPrefix         = "spillway-"
	maxDirCreationAttempts = 10
)

// Locator maps block IDs to file paths. It is safe for concurrent use.
type Locator struct {
	dirs          []string
	subDirsPerDir int
	deleteOnStop  bool

	// rows[i].subDirs[j] is the path of subdirectory j of dirs[i], or ""
	// until it has been created. Filled slots never change.
	rows []row

	// stopMu is held for reading while a subdirectory may be created, so
	// that stop cannot remove a local directory out from under Resolve.
	stopMu  sync.RWMutex
	stopped atomic.Bool
	hook    *shutdown.Hook

	newTemp  func(kind block.Kind) (block.ID, error)
	registry *shutdown.Registry
	logger   logger.Logger
}

type row struct {
	mu      sync.Mutex
	subDirs []string
}

type LocatorOption func(l *Locator)

func OptLocatorLogger(lg logger.Logger) LocatorOption {
	return func(l *Locator) {
		l.logger = lg
	}
}

// OptLocatorShutdown registers the locator's cleanup with r instead of
// shutdown.Default.
func OptLocatorShutdown(r *shutdown.Registry) LocatorOption {
	return func(l *Locator) {
		l.registry = r
	}
}

// New creates a local directory under each root in cfg.LocalDirs. Roots
// that cannot be used are logged and skipped; if none can be used New
// fails with ErrNoLocalDirs. The locator's Stop is registered as a
// shutdown hook.
func New(cfg Config, opts ...LocatorOption) (*Locator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Locator{
		subDirsPerDir: cfg.SubDirsPerLocalDir,
		deleteOnStop:  cfg.deleteOnStop(),
		newTemp:       block.NewTemp,
		registry:      shutdown.Default,
		logger:        logger.NopLogger,
	}
	for _, opt := range opts {
		opt(l)
	}

	l.dirs = l.createLocalDirs(cfg.LocalDirs)
	if len(l.dirs) == 0 {
		return nil, errors.Newf(errors.ErrNoLocalDirs, "no usable local directory among %v", cfg.LocalDirs)
	}
	l.rows = make([]row, len(l.dirs))
	for i := range l.rows {
		l.rows[i].subDirs = make([]string, l.subDirsPerDir)
	}
	GaugeLocalDirs.Set(float64(len(l.dirs)))

	l.hook = l.registry.Add("disk locator", l.stop)
	return l, nil
}

func (l *Locator) createLocalDirs(roots []string) []string {
	dirs := make([]string, 0, len(roots))
	for _, root := range roots {
		dir, err := createLocalDir(root)
		if err != nil {
			l.logger.Errorf("failed to create local dir in %s, ignoring it: %v", root, err)
			continue
		}
		usage := du.NewDiskUsage(dir)
		l.logger.Infof("created local directory at %s (%d bytes free of %d)", dir, usage.Available(), usage.Size())
		dirs = append(dirs, dir)
	}
	return dirs
}

// createLocalDir makes a new, uniquely named directory under root.
func createLocalDir(root string) (string, error) {
	var lastErr error
	for i := 0; i < maxDirCreationAttempts; i++ {
		id, err := uuid.NewV4()
		if err != nil {
			lastErr = err
			continue
		}
		dir := filepath.Join(root, localDirPrefix+id.String())
		if _, err := os.Stat(dir); err == nil {
			lastErr = errors.Errorf("%s already exists", dir)
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			lastErr = err
			continue
		}
		return dir, nil
	}
	return "", errors.Wrapf(lastErr, "%d attempts", maxDirCreationAttempts)
}

// Dirs returns the local directories blocks are placed under.
func (l *Locator) Dirs() []string {
	return append([]string(nil), l.dirs...)
}

// Resolve returns the path of the file for id, creating its subdirectory
// if necessary. The same id always resolves to the same path. The file
// itself may not exist.
func (l *Locator) Resolve(id block.ID) (string, error) {
	l.stopMu.RLock()
	defer l.stopMu.RUnlock()
	if l.stopped.Load() {
		return "", errors.New(errors.ErrClosed, "locator is stopped")
	}
	name := id.Name()
	dirIndex, subIndex := l.slot(name)

	r := &l.rows[dirIndex]
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := r.subDirs[subIndex]
	if sub == "" {
		sub = filepath.Join(l.dirs[dirIndex], subDirName(subIndex))
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return "", errors.Wrapf(err, "creating directory for %s", name)
		}
		r.subDirs[subIndex] = sub
		CounterSubDirsCreated.Inc()
	}
	return filepath.Join(sub, name), nil
}

// subDirName is at least two lowercase hex digits.
func subDirName(i int) string {
	return fmt.Sprintf("%02x", i)
}

// slot picks the local directory and subdirectory for a block name.
func (l *Locator) slot(name string) (dirIndex, subIndex int) {
	h := xxhash.Sum64String(name)
	n := uint64(len(l.dirs))
	return int(h % n), int((h / n) % uint64(l.subDirsPerDir))
}

// Contains reports whether the file for id exists right now.
func (l *Locator) Contains(id block.ID) bool {
	path, err := l.Resolve(id)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Files lists every file in every subdirectory created so far.
func (l *Locator) Files() ([]string, error) {
	var files []string
	for i := range l.rows {
		r := &l.rows[i]
		r.mu.Lock()
		subDirs := append([]string(nil), r.subDirs...)
		r.mu.Unlock()

		for _, sub := range subDirs {
			if sub == "" {
				continue
			}
			entries, err := os.ReadDir(sub)
			if os.IsNotExist(err) {
				continue
			} else if err != nil {
				return nil, errors.Wrapf(err, "listing %s", sub)
			}
			for _, e := range entries {
				if !e.IsDir() {
					files = append(files, filepath.Join(sub, e.Name()))
				}
			}
		}
	}
	return files, nil
}

// Blocks lists the IDs of every block stored by the locator. Files whose
// names are not block names are skipped.
func (l *Locator) Blocks() ([]block.ID, error) {
	files, err := l.Files()
	if err != nil {
		return nil, err
	}
	ids := make([]block.ID, 0, len(files))
	for _, f := range files {
		id, err := block.Parse(filepath.Base(f))
		if err != nil {
			l.logger.Debugf("skipping %s: %v", f, err)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CreateTemp mints a temporary block of the given kind whose file does not
// exist yet, and returns it with its path.
func (l *Locator) CreateTemp(kind block.Kind) (block.ID, string, error) {
	for {
		id, err := l.newTemp(kind)
		if err != nil {
			return nil, "", err
		}
		path, err := l.Resolve(id)
		if err != nil {
			return nil, "", err
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			CounterTempBlocks.WithLabelValues(kind.String()).Inc()
			return id, path, nil
		} else if err != nil {
			return nil, "", errors.Wrapf(err, "checking %s", path)
		}
		CounterTempCollisions.Inc()
		l.logger.Warnf("temporary block %s already exists, generating another", id.Name())
	}
}

// DirStatus describes one local directory.
type DirStatus struct {
	Path      string `json:"path"`
	SubDirs   int    `json:"subDirs"`
	Available uint64 `json:"available"`
	Size      uint64 `json:"size"`
}

// Status reports each local directory with the number of subdirectories
// created in it and the space on its volume.
func (l *Locator) Status() []DirStatus {
	status := make([]DirStatus, len(l.dirs))
	for i, dir := range l.dirs {
		r := &l.rows[i]
		r.mu.Lock()
		created := 0
		for _, sub := range r.subDirs {
			if sub != "" {
				created++
			}
		}
		r.mu.Unlock()

		status[i] = DirStatus{Path: dir, SubDirs: created}
		if !l.stopped.Load() {
			usage := du.NewDiskUsage(dir)
			status[i].Available, status[i].Size = usage.Available(), usage.Size()
		}
	}
	return status
}

// Stop removes the local directories, unless this is a worker whose files
// are served by an external shuffle service. Failures are logged and do
// not stop the remaining directories from being removed; the first one is
// returned. Stop deregisters the shutdown hook and may be called more than
// once.
func (l *Locator) Stop() error {
	l.hook.Remove()
	return l.stop()
}

func (l *Locator) stop() error {
	l.stopMu.Lock()
	defer l.stopMu.Unlock()
	if l.stopped.Swap(true) {
		return nil
	}
	if !l.deleteOnStop {
		l.logger.Infof("leaving local directories %v for the external shuffle service", l.dirs)
		return nil
	}

	var firstErr error
	for _, dir := range l.dirs {
		if err := os.RemoveAll(dir); err != nil {
			l.logger.Errorf("removing local dir %s: %v", dir, err)
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "removing %s", dir)
			}
		}
	}
	GaugeLocalDirs.Set(0)
	return firstErr
}
