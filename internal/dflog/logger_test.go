/*
 *     Copyright 2022 The Dragonfly Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSugaredLoggerOnWith(t *testing.T) {
	assert := assert.New(t)
	core, logs := observer.New(zapcore.InfoLevel)
	log := New(zap.New(core).Sugar()).WithLoader("id", "http://example.com/a.ts", "0-")

	log.Debugf("dropped %d", 1)
	log.Infof("received %d bytes", 10)
	log.With("attempt", 2).Warn("retry")
	log.Error("failed")

	assert.False(log.IsDebug())
	entries := logs.AllUntimed()
	assert.Len(entries, 3)
	assert.Equal("received 10 bytes", entries[0].Message)
	assert.Equal("id", entries[0].ContextMap()["exchangeID"])
	assert.Equal("0-", entries[0].ContextMap()["range"])
	assert.Equal(zapcore.WarnLevel, entries[1].Level)
	assert.EqualValues(2, entries[1].ContextMap()["attempt"])
	assert.Equal("http://example.com/a.ts", entries[1].ContextMap()["url"])
	assert.Equal(zapcore.ErrorLevel, entries[2].Level)
}

func TestNop(t *testing.T) {
	log := Nop()
	log.Infof("nothing %s", "here")
	log.SetLevel(zapcore.DebugLevel)
	assert.False(t, log.IsDebug())
}

func TestConsoleLoggerSetLevel(t *testing.T) {
	log, err := NewConsoleLogger(false)
	assert.Nil(t, err)
	assert.False(t, log.IsDebug())

	log.SetLevel(zapcore.DebugLevel)
	assert.True(t, log.IsDebug())
	assert.True(t, log.With("k", "v").IsDebug())
}

func TestFileLogger(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()

	_, err := NewFileLogger(false, "")
	assert.Error(err)

	log, err := Init(true, false, dir)
	assert.Nil(err)
	assert.True(log.IsDebug())
	log.Infof("hello %s", "world")
	_ = log.Sync()

	content, err := os.ReadFile(filepath.Join(dir, "rangeget", CoreLogFileName))
	assert.Nil(err)
	assert.Contains(string(content), "hello world")
}
