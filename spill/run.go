// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package spill

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/golang/snappy"
	"github.com/zeebo/blake3"

	"github.com/featurebasedb/spillway/errors"
)

// A run file is
//
//	magic [4]byte | flags byte | records | count uint64 | blake3 [32]byte
//
// where records is a sequence of uvarint-length-prefixed key and value
// pairs, snappy framed if flagCompressed is set. The checksum covers
// everything before it.
var runMagic = [4]byte{'S', 'P', 'R', '1'}

const (
	flagCompressed = 1 << 0

	headerSize   = len(runMagic) + 1
	checksumSize = 32
	footerSize   = 8 + checksumSize
)

// runWriter writes one run file.
type runWriter struct {
	f      *os.File
	hasher *blake3.Hasher
	bw     *bufio.Writer // over f and hasher
	sw     *snappy.Writer
	body   io.Writer
	count  uint64
	n      int64
	varint [binary.MaxVarintLen64]byte
}

func createRun(path string, compress bool) (*runWriter, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "creating run file")
	}
	w := &runWriter{f: f, hasher: blake3.New()}
	w.bw = bufio.NewWriter(io.MultiWriter(f, w.hasher))
	w.body = w.bw

	var flags byte
	if compress {
		flags |= flagCompressed
	}
	w.bw.Write(runMagic[:])
	w.bw.WriteByte(flags)
	if compress {
		w.sw = snappy.NewBufferedWriter(w.bw)
		w.body = w.sw
	}
	return w, nil
}

func (w *runWriter) write(key, value []byte) error {
	for _, b := range [][]byte{key, value} {
		n := binary.PutUvarint(w.varint[:], uint64(len(b)))
		if _, err := w.body.Write(w.varint[:n]); err != nil {
			return errors.Wrap(err, "writing run")
		}
		if _, err := w.body.Write(b); err != nil {
			return errors.Wrap(err, "writing run")
		}
		w.n += int64(n + len(b))
	}
	w.count++
	return nil
}

// close writes the footer, syncs and closes the file. The file is removed
// if anything fails.
func (w *runWriter) close() (err error) {
	defer func() {
		if err != nil {
			w.f.Close()
			os.Remove(w.f.Name())
		}
	}()
	if w.sw != nil {
		if err := w.sw.Close(); err != nil {
			return errors.Wrap(err, "closing snappy stream")
		}
	}
	var count [8]byte
	binary.LittleEndian.PutUint64(count[:], w.count)
	if _, err := w.bw.Write(count[:]); err != nil {
		return errors.Wrap(err, "writing run footer")
	}
	if err := w.bw.Flush(); err != nil {
		return errors.Wrap(err, "flushing run")
	}
	if _, err := w.f.Write(w.hasher.Sum(nil)); err != nil {
		return errors.Wrap(err, "writing run checksum")
	}
	if err := w.f.Sync(); err != nil {
		return errors.Wrap(err, "syncing run")
	}
	return errors.Wrap(w.f.Close(), "closing run")
}

// abort discards a partly written run.
func (w *runWriter) abort() {
	w.f.Close()
	os.Remove(w.f.Name())
}

// runReader reads records back from a run file after verifying it.
type runReader struct {
	f         *os.File
	r         *bufio.Reader
	remaining uint64
}

func openRun(path string) (*runReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening run file")
	}
	rr, err := newRunReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return rr, nil
}

func newRunReader(f *os.File) (*runReader, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat run file")
	}
	size := info.Size()
	if size < int64(headerSize+footerSize) {
		return nil, errors.Newf(errors.ErrSpillCorrupt, "%s: %d bytes is too short for a run", f.Name(), size)
	}

	hasher := blake3.New()
	if _, err := io.Copy(hasher, io.NewSectionReader(f, 0, size-checksumSize)); err != nil {
		return nil, errors.Wrap(err, "hashing run")
	}
	var tail [footerSize]byte
	if _, err := f.ReadAt(tail[:], size-footerSize); err != nil {
		return nil, errors.Wrap(err, "reading run footer")
	}
	if !bytes.Equal(hasher.Sum(nil), tail[8:]) {
		return nil, errors.Newf(errors.ErrSpillCorrupt, "%s: checksum mismatch", f.Name())
	}
	var header [headerSize]byte
	if _, err := f.ReadAt(header[:], 0); err != nil {
		return nil, errors.Wrap(err, "reading run header")
	}
	if !bytes.Equal(header[:len(runMagic)], runMagic[:]) {
		return nil, errors.Newf(errors.ErrSpillCorrupt, "%s: not a run file", f.Name())
	}

	var body io.Reader = io.NewSectionReader(f, int64(headerSize), size-int64(headerSize+footerSize))
	if header[len(runMagic)]&flagCompressed != 0 {
		body = snappy.NewReader(body)
	}
	return &runReader{
		f:         f,
		r:         bufio.NewReader(body),
		remaining: binary.LittleEndian.Uint64(tail[:8]),
	}, nil
}

// next returns the next record, or io.EOF after the last one.
func (rr *runReader) next() (key, value []byte, err error) {
	if rr.remaining == 0 {
		return nil, nil, io.EOF
	}
	if key, err = rr.field(); err != nil {
		return nil, nil, err
	}
	if value, err = rr.field(); err != nil {
		return nil, nil, err
	}
	rr.remaining--
	return key, value, nil
}

func (rr *runReader) field() ([]byte, error) {
	n, err := binary.ReadUvarint(rr.r)
	if err != nil {
		return nil, errors.Newf(errors.ErrSpillCorrupt, "%s: reading length: %v", rr.f.Name(), err)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(rr.r, b); err != nil {
		return nil, errors.Newf(errors.ErrSpillCorrupt, "%s: reading %d bytes: %v", rr.f.Name(), n, err)
	}
	return b, nil
}

func (rr *runReader) close() error {
	return rr.f.Close()
}

// VerifyRun checks the checksum of the run file at path and returns how
// many records it holds.
func VerifyRun(path string) (uint64, error) {
	rr, err := openRun(path)
	if err != nil {
		return 0, err
	}
	defer rr.close()
	return rr.remaining, nil
}
