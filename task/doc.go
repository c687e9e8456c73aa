// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package task runs task attempts and gives each one an explicit Context
// handle.
//
// Every attempt is identified by an AttemptID carried in its Context. The
// memory arbiter and the spill-capable collections key all of their
// accounting on that handle, so many attempts can share a goroutine, or move
// between goroutines, without their memory being attributed to the wrong
// attempt.
//
// Attempts run on a Pool, which aims to keep a target number of workers
// unblocked. An attempt that parks waiting for memory marks its worker as
// blocked (see Executor.Block), and the pool starts another worker so that
// attempts which could make progress, including the ones that will
// eventually release the memory, are not starved of workers. This can run
// more than the target number of goroutines at once, but rarely many more:
// when a blocked worker wakes, the pool retires an excess worker the next
// time one finishes an attempt.
package task
