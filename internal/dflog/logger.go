/*
 *     Copyright 2020 The Dragonfly Authors
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
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SugaredLoggerOnWith is a leveled logger carrying a set of context fields,
// it is handed to the components that log instead of a global logger.
type SugaredLoggerOnWith struct {
	sugar    *zap.SugaredLogger
	enabler  zapcore.LevelEnabler
	level    *zap.AtomicLevel
	withArgs []any
}

// New wraps sugar.
func New(sugar *zap.SugaredLogger) *SugaredLoggerOnWith {
	return &SugaredLoggerOnWith{
		sugar:   sugar,
		enabler: sugar.Desugar().Core(),
	}
}

func newWithLevel(log *zap.Logger, level zap.AtomicLevel) *SugaredLoggerOnWith {
	l := New(log.Sugar())
	l.level = &level
	return l
}

// Nop returns a logger discarding everything.
func Nop() *SugaredLoggerOnWith {
	return New(zap.NewNop().Sugar())
}

// WithLoader returns a logger tagged with the exchange of one loader.
func (log *SugaredLoggerOnWith) WithLoader(exchangeID, url, rg string) *SugaredLoggerOnWith {
	return log.With("exchangeID", exchangeID, "url", url, "range", rg)
}

func (log *SugaredLoggerOnWith) With(args ...any) *SugaredLoggerOnWith {
	withArgs := make([]any, 0, len(args)+len(log.withArgs))
	withArgs = append(withArgs, args...)
	withArgs = append(withArgs, log.withArgs...)
	return &SugaredLoggerOnWith{
		sugar:    log.sugar,
		enabler:  log.enabler,
		level:    log.level,
		withArgs: withArgs,
	}
}

// SetLevel changes the level of loggers built by NewConsoleLogger and NewFileLogger.
func (log *SugaredLoggerOnWith) SetLevel(level zapcore.Level) {
	if log.level == nil {
		return
	}
	log.level.SetLevel(level)
}

func (log *SugaredLoggerOnWith) Infof(template string, args ...any) {
	if !log.enabler.Enabled(zap.InfoLevel) {
		return
	}
	log.sugar.Infow(fmt.Sprintf(template, args...), log.withArgs...)
}

func (log *SugaredLoggerOnWith) Info(args ...any) {
	if !log.enabler.Enabled(zap.InfoLevel) {
		return
	}
	log.sugar.Infow(fmt.Sprint(args...), log.withArgs...)
}

func (log *SugaredLoggerOnWith) Warnf(template string, args ...any) {
	if !log.enabler.Enabled(zap.WarnLevel) {
		return
	}
	log.sugar.Warnw(fmt.Sprintf(template, args...), log.withArgs...)
}

func (log *SugaredLoggerOnWith) Warn(args ...any) {
	if !log.enabler.Enabled(zap.WarnLevel) {
		return
	}
	log.sugar.Warnw(fmt.Sprint(args...), log.withArgs...)
}

func (log *SugaredLoggerOnWith) Errorf(template string, args ...any) {
	if !log.enabler.Enabled(zap.ErrorLevel) {
		return
	}
	log.sugar.Errorw(fmt.Sprintf(template, args...), log.withArgs...)
}

func (log *SugaredLoggerOnWith) Error(args ...any) {
	if !log.enabler.Enabled(zap.ErrorLevel) {
		return
	}
	log.sugar.Errorw(fmt.Sprint(args...), log.withArgs...)
}

func (log *SugaredLoggerOnWith) Debugf(template string, args ...any) {
	if !log.enabler.Enabled(zap.DebugLevel) {
		return
	}
	log.sugar.Debugw(fmt.Sprintf(template, args...), log.withArgs...)
}

func (log *SugaredLoggerOnWith) Debug(args ...any) {
	if !log.enabler.Enabled(zap.DebugLevel) {
		return
	}
	log.sugar.Debugw(fmt.Sprint(args...), log.withArgs...)
}

func (log *SugaredLoggerOnWith) IsDebug() bool {
	return log.enabler.Enabled(zap.DebugLevel)
}

// Sync flushes buffered entries.
func (log *SugaredLoggerOnWith) Sync() error {
	return log.sugar.Sync()
}
