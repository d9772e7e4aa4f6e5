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
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// NewConsoleLogger returns a development logger writing to stderr.
func NewConsoleLogger(verbose bool) (*SugaredLoggerOnWith, error) {
	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	log, err := config.Build(zap.AddCaller(), zap.AddStacktrace(zap.WarnLevel), zap.AddCallerSkip(1))
	if err != nil {
		return nil, errors.Wrap(err, "build console logger")
	}
	return newWithLevel(log, config.Level), nil
}

// NewFileLogger returns a logger writing to the core log file under dir/rangeget.
func NewFileLogger(verbose bool, dir string) (*SugaredLoggerOnWith, error) {
	if dir == "" {
		return nil, errors.New("log dir is empty")
	}
	log, level := CreateLogger(filepath.Join(dir, "rangeget", CoreLogFileName), false, verbose)
	return newWithLevel(log, level), nil
}

// Init returns the console logger when console is set, the file logger otherwise.
func Init(verbose, console bool, dir string) (*SugaredLoggerOnWith, error) {
	if console {
		return NewConsoleLogger(verbose)
	}
	return NewFileLogger(verbose, dir)
}
