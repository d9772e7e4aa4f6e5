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

// Package loader defines the contract shared by range loaders: the byte range
// being fetched, the loader status, the error taxonomy and the callback slots
// through which a loader reports an exchange.
package loader

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoErrorHandler is returned when a loader is constructed without an error handler.
	ErrNoErrorHandler = errors.New("loader: error handler is required")

	// ErrAlreadyOpened is returned when Open is called more than once on the same loader.
	ErrAlreadyOpened = errors.New("loader: already opened")

	// ErrDestroyed is returned when a destroyed loader is used.
	ErrDestroyed = errors.New("loader: destroyed")

	// ErrInvalidRange is returned when a byte range is malformed.
	ErrInvalidRange = errors.New("loader: invalid range")

	// ErrNoSupportedBackend is returned when no registered backend supports a url.
	ErrNoSupportedBackend = errors.New("loader: no supported backend")
)

// ByteRange is the inclusive span [From, To] of a resource. To is -1 for an
// open-ended range reaching the end of the resource.
type ByteRange struct {
	From int64
	To   int64
}

// FullRange is the whole resource.
var FullRange = ByteRange{From: 0, To: -1}

// Validate checks the range bounds.
func (r ByteRange) Validate() error {
	if r.From < 0 || r.To < -1 || (r.To != -1 && r.To < r.From) {
		return fmt.Errorf("%w: %s", ErrInvalidRange, r)
	}

	return nil
}

// IsFull reports whether the range covers the whole resource.
func (r ByteRange) IsFull() bool {
	return r.From == 0 && r.To == -1
}

// IsOpenEnded reports whether the range reaches the end of the resource.
func (r ByteRange) IsOpenEnded() bool {
	return r.To == -1
}

func (r ByteRange) String() string {
	if r.To == -1 {
		return fmt.Sprintf("%d-", r.From)
	}

	return fmt.Sprintf("%d-%d", r.From, r.To)
}

// Status is the state of a loader.
type Status string

const (
	// StatusIdle means the loader has not been opened.
	StatusIdle Status = "Idle"

	// StatusConnecting means the request is sent and headers are pending.
	StatusConnecting Status = "Connecting"

	// StatusBuffering means the response body is being received.
	StatusBuffering Status = "Buffering"

	// StatusComplete means the exchange ended successfully or was aborted.
	StatusComplete Status = "Complete"

	// StatusError means the exchange failed.
	StatusError Status = "Error"
)

// ErrorKind classifies a failed exchange.
type ErrorKind int

const (
	// ErrorKindException is an uncategorized transport fault.
	ErrorKindException ErrorKind = iota

	// ErrorKindHTTPStatusCodeInvalid is a response status outside 2xx.
	ErrorKindHTTPStatusCodeInvalid

	// ErrorKindConnectingTimeout means no activity arrived within the timeout.
	ErrorKindConnectingTimeout

	// ErrorKindEarlyEOF means the stream ended before the advertised length.
	ErrorKindEarlyEOF
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindException:
		return "Exception"
	case ErrorKindHTTPStatusCodeInvalid:
		return "HttpStatusCodeInvalid"
	case ErrorKindConnectingTimeout:
		return "ConnectingTimeout"
	case ErrorKindEarlyEOF:
		return "EarlyEof"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// ErrorInfo carries the diagnostic details of a failed exchange.
type ErrorInfo struct {
	Code    int
	Message string
}

// Error is a failed exchange as an error value.
type Error struct {
	Kind ErrorKind
	ErrorInfo
}

// NewError returns an Error of kind with info.
func NewError(kind ErrorKind, info ErrorInfo) *Error {
	return &Error{Kind: kind, ErrorInfo: info}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: [%d]%s", e.Kind, e.Code, e.Message)
}

// IsKind reports whether err is an Error of kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// ContentLengthKnownHandler is called once when the total length of the response is known.
type ContentLengthKnownHandler func(total int64)

// DataArrivalHandler is called for every chunk. byteStart is the absolute offset of
// the chunk in the resource and receivedLength the bytes delivered so far, chunk included.
// It must not block.
type DataArrivalHandler func(chunk []byte, byteStart, receivedLength int64)

// CompleteHandler is called when the exchange ends with the inclusive span delivered.
type CompleteHandler func(from, to int64)

// ErrorHandler is called when the exchange fails.
type ErrorHandler func(kind ErrorKind, info ErrorInfo)

// Loader fetches one byte range of a resource and reports it through callbacks.
// A loader is single use: re-fetching requires a new instance.
type Loader interface {
	// Type returns the backend name of the loader.
	Type() string

	// Open starts the exchange and returns immediately. The returned error only
	// reports misuse; results of the exchange are delivered through callbacks.
	Open(ctx context.Context, url string, rg ByteRange) error

	// Abort cancels the exchange. No completion or error callback fires afterwards.
	Abort()

	// Destroy aborts a working loader and releases the transport.
	Destroy()

	// Status returns the current status.
	Status() Status

	// IsWorking reports whether the loader is connecting or buffering.
	IsWorking() bool

	// ReceivedLength returns the bytes delivered in the current exchange.
	ReceivedLength() int64

	// ContentLength returns the advertised length of the response, -1 if unknown.
	ContentLength() int64

	OnContentLengthKnown(handler ContentLengthKnownHandler)
	OnDataArrival(handler DataArrivalHandler)
	OnComplete(handler CompleteHandler)

	// OnError replaces the error handler, nil is ignored.
	OnError(handler ErrorHandler)
}
