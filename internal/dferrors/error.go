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

package dferrors

import (
	"errors"
	"fmt"
)

// common and framework errors
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidHeader   = errors.New("invalid Header")
	ErrEmptyValue      = errors.New("empty value")
)

// Code classifies a DfError, it is also the exit status of the command.
type Code int

const (
	CodeUnknown         Code = 1
	CodeInvalidArgument Code = 2
	CodeDownloadFailed  Code = 3
	CodeOutputFailed    Code = 4
)

type DfError struct {
	Code    Code
	Message string
}

func (s *DfError) Error() string {
	return fmt.Sprintf("[%d]%s", s.Code, s.Message)
}

func New(code Code, msg string) *DfError {
	return &DfError{
		Code:    code,
		Message: msg,
	}
}

func Newf(code Code, format string, a ...any) *DfError {
	return &DfError{
		Code:    code,
		Message: fmt.Sprintf(format, a...),
	}
}

func CheckError(err error, code Code) bool {
	if err == nil {
		return false
	}

	var e *DfError
	return errors.As(err, &e) && e.Code == code
}

// ExitCode returns the code carried by err, CodeUnknown otherwise.
func ExitCode(err error) int {
	var e *DfError
	if errors.As(err, &e) {
		return int(e.Code)
	}
	return int(CodeUnknown)
}
