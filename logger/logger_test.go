// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package logger_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/featurebasedb/spillway/logger"
	"github.com/stretchr/testify/assert"
)

func TestStandardLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New(&buf, logger.LevelWarn)
	l.Debugf("debug %d", 1)
	l.Infof("info %d", 2)
	l.Warnf("warn %d", 3)
	l.Errorf("error %d", 4)

	out := buf.String()
	assert.NotContains(t, out, "debug 1")
	assert.NotContains(t, out, "info 2")
	assert.Contains(t, out, "WARN:  warn 3")
	assert.Contains(t, out, "ERROR: error 4")
}

func TestWithPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewVerboseLogger(&buf).WithPrefix("[disk] ")
	l.Debugf("created %s", "dir")
	assert.True(t, strings.Contains(buf.String(), "[disk] DEBUG: created dir"), buf.String())
}

func TestBufferLogger(t *testing.T) {
	l := logger.NewBufferLogger()
	l.Errorf("failed to delete %s", "/tmp/x")
	assert.Equal(t, "ERROR: failed to delete /tmp/x\n", l.String())
}
