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
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	CoreLogFileName = fmt.Sprintf("core-%d.log", time.Now().UnixNano())
)

const (
	defaultRotateMaxSize    = 300
	defaultRotateMaxBackups = 50
	defaultRotateMaxAge     = 7
)

const (
	encodeTimeFormat = "2006-01-02 15:04:05.000"
)

// CreateLogger returns a json logger writing to a rotated file.
func CreateLogger(filePath string, compress bool, verbose bool) (*zap.Logger, zap.AtomicLevel) {
	rotateConfig := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    defaultRotateMaxSize,
		MaxAge:     defaultRotateMaxAge,
		MaxBackups: defaultRotateMaxBackups,
		LocalTime:  true,
		Compress:   compress,
	}
	syncer := zapcore.AddSync(rotateConfig)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(encodeTimeFormat)

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbose {
		level.SetLevel(zapcore.DebugLevel)
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		syncer,
		level,
	)

	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.WarnLevel), zap.AddCallerSkip(1)), level
}
