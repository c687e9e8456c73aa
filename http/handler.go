// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package http serves a worker's status: the memory arbiter's ledger, the
// local directories, the blocks stored in them and prometheus metrics.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"sort"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/featurebasedb/spillway"
	"github.com/featurebasedb/spillway/block"
	"github.com/featurebasedb/spillway/disk"
	"github.com/featurebasedb/spillway/errors"
	"github.com/featurebasedb/spillway/logger"
	"github.com/featurebasedb/spillway/memory"
)

// Arbiter is the part of *memory.Arbiter the handler reports on.
type Arbiter interface {
	Snapshot() memory.Snapshot
}

// Locator is the part of *disk.Locator the handler reports on.
type Locator interface {
	Status() []disk.DirStatus
	Blocks() ([]block.ID, error)
}

// Executor is the part of *task.Executor the handler reports on.
type Executor interface {
	Stats() (live, unblocked, target int)
}

// Status is the body of GET /status.
type Status struct {
	Version   string           `json:"version"`
	Memory    memory.Snapshot  `json:"memory"`
	Workers   WorkerStatus     `json:"workers"`
	LocalDirs []disk.DirStatus `json:"localDirs"`
}

// WorkerStatus describes the task worker pool.
type WorkerStatus struct {
	Live      int `json:"live"`
	Unblocked int `json:"unblocked"`
	Target    int `json:"target"`
}

// Handler represents an HTTP handler.
type Handler struct {
	Handler http.Handler

	arbiter  Arbiter
	locator  Locator
	executor Executor

	logger logger.Logger

	ln           net.Listener
	closeTimeout time.Duration
	server       *http.Server
}

// HandlerOption is a functional option type for Handler
type HandlerOption func(h *Handler) error

func OptHandlerArbiter(a Arbiter) HandlerOption {
	return func(h *Handler) error {
		h.arbiter = a
		return nil
	}
}

func OptHandlerLocator(l Locator) HandlerOption {
	return func(h *Handler) error {
		h.locator = l
		return nil
	}
}

func OptHandlerExecutor(e Executor) HandlerOption {
	return func(h *Handler) error {
		h.executor = e
		return nil
	}
}

func OptHandlerLogger(l logger.Logger) HandlerOption {
	return func(h *Handler) error {
		h.logger = l
		return nil
	}
}

func OptHandlerListener(ln net.Listener) HandlerOption {
	return func(h *Handler) error {
		h.ln = ln
		return nil
	}
}

func OptHandlerAllowedOrigins(origins []string) HandlerOption {
	return func(h *Handler) error {
		h.Handler = handlers.CORS(
			handlers.AllowedOrigins(origins),
			handlers.AllowedHeaders([]string{"Content-Type"}),
		)(h.Handler)
		return nil
	}
}

// OptHandlerCloseTimeout controls how long to wait for the http Server to
// shutdown cleanly before forcibly destroying it. Default is 30 seconds.
func OptHandlerCloseTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) error {
		h.closeTimeout = d
		return nil
	}
}

// NewHandler returns a new instance of Handler with a default logger.
func NewHandler(opts ...HandlerOption) (*Handler, error) {
	h := &Handler{
		logger:       logger.NopLogger,
		closeTimeout: time.Second * 30,
	}
	h.Handler = newRouter(h)

	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, errors.Wrap(err, "applying option")
		}
	}
	if h.arbiter == nil || h.locator == nil {
		return nil, errors.New(errors.ErrInvalidConfig, "handler requires an arbiter and a locator")
	}
	h.server = &http.Server{Handler: h}
	return h, nil
}

// newRouter creates a new mux http router.
func newRouter(h *Handler) *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/status", h.handleGetStatus).Methods("GET").Name("GetStatus")
	router.HandleFunc("/blocks", h.handleGetBlocks).Methods("GET").Name("GetBlocks")
	router.HandleFunc("/version", h.handleGetVersion).Methods("GET").Name("GetVersion")
	return router
}

// Serve serves on the listener until Close is called.
func (h *Handler) Serve() error {
	if h.ln == nil {
		return errors.New(errors.ErrInvalidConfig, "handler has no listener")
	}
	err := h.server.Serve(h.ln)
	if err != nil && err != http.ErrServerClosed {
		h.logger.Errorf("HTTP handler terminated with error: %s", err)
		return errors.Wrap(err, "serve http")
	}
	return nil
}

// Close tries to cleanly shutdown the HTTP server, and failing that, after a
// timeout, calls Server.Close.
func (h *Handler) Close() error {
	deadlineCtx, cancelFunc := context.WithDeadline(context.Background(), time.Now().Add(h.closeTimeout))
	defer cancelFunc()
	err := h.server.Shutdown(deadlineCtx)
	if err != nil {
		err = h.server.Close()
	}
	return errors.Wrap(err, "shutdown/close http server")
}

// ServeHTTP handles an HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if err := recover(); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			stack := debug.Stack()
			msg := "PANIC: %s\n%s"
			h.logger.Errorf(msg, err, stack)
			fmt.Fprintf(w, msg, err, stack)
		}
	}()
	h.Handler.ServeHTTP(w, r)
}

// Status assembles the body of GET /status.
func (h *Handler) Status() Status {
	s := Status{
		Version:   spillway.Version,
		Memory:    h.arbiter.Snapshot(),
		LocalDirs: h.locator.Status(),
	}
	if h.executor != nil {
		s.Workers.Live, s.Workers.Unblocked, s.Workers.Target = h.executor.Stats()
	}
	return s
}

// handleGetStatus handles GET /status requests.
func (h *Handler) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.Status())
}

// handleGetBlocks handles GET /blocks requests.
func (h *Handler) handleGetBlocks(w http.ResponseWriter, r *http.Request) {
	ids, err := h.locator.Blocks()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, errors.Wrap(err, "listing blocks"))
		return
	}
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.Name()
	}
	sort.Strings(names)
	h.writeJSON(w, names)
}

// handleGetVersion handles GET /version requests.
func (h *Handler) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, struct {
		Version string `json:"version"`
	}{Version: spillway.Version})
}

func (h *Handler) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Errorf("write response: %s", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.logger.Errorf("%v", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprint(w, errors.MarshalJSON(err))
}
