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

// Package chunked implements a loader fetching a byte range over a single
// streaming GET, delivering the body chunk by chunk as it arrives.
package chunked

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-http-utils/headers"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	logger "d7y.io/rangeloader/internal/dflog"
	"d7y.io/rangeloader/pkg/loader"
	nethttp "d7y.io/rangeloader/pkg/net/http"
	neturl "d7y.io/rangeloader/pkg/net/url"
	"d7y.io/rangeloader/pkg/source"
)

const (
	// Type is the backend name of the chunked loader.
	Type = "chunked"

	// DefaultTimeout is the inactivity timeout of an exchange.
	DefaultTimeout = 10 * time.Second
)

const (
	// Loader has been opened and waits for the response headers.
	EventOpen = "Open"

	// Response headers carry an accepted status.
	EventHeadersReceived = "HeadersReceived"

	// Exchange failed.
	EventFail = "Fail"

	// Exchange ended with all data delivered.
	EventComplete = "Complete"

	// Loader was aborted by its owner.
	EventAbort = "Abort"
)

var (
	statusIdle       = string(loader.StatusIdle)
	statusConnecting = string(loader.StatusConnecting)
	statusBuffering  = string(loader.StatusBuffering)
	statusComplete   = string(loader.StatusComplete)
	statusError      = string(loader.StatusError)
)

const (
	messageConnectionTimeout = "Connection timeout"
	messageEarlyEOF          = "chunked stream meet early-eof"
)

var _ loader.Loader = (*Loader)(nil)

// Option configures a Loader.
type Option func(l *Loader)

// WithClient sets the transport, the scheme dispatching source manager by default.
func WithClient(client source.ChunkedClient) Option {
	return func(l *Loader) {
		l.client = client
	}
}

// WithTimeout sets the inactivity timeout, zero disables it.
func WithTimeout(timeout time.Duration) Option {
	return func(l *Loader) {
		l.timeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(log *logger.SugaredLoggerOnWith) Option {
	return func(l *Loader) {
		l.log = log
	}
}

// WithHeader adds headers to the request. A Range header is overridden by the opened range.
func WithHeader(header source.Header) Option {
	return func(l *Loader) {
		l.header = header.Clone()
	}
}

// NewBackend returns the registry entry of the chunked loader, loaders it
// constructs are configured with opts.
func NewBackend(opts ...Option) loader.Backend {
	probe := &Loader{client: source.DefaultManager()}
	for _, opt := range opts {
		opt(probe)
	}

	return loader.Backend{
		Name: Type,
		IsSupported: func(rawURL string) bool {
			if m, ok := probe.client.(interface{ IsSupported(string) bool }); ok {
				return m.IsSupported(rawURL)
			}
			return probe.client != nil
		},
		New: func(onError loader.ErrorHandler) (loader.Loader, error) {
			return New(onError, opts...)
		},
	}
}

// Loader fetches one byte range with a single GET and delivers the body as it
// arrives. Transport events of an exchange are handled sequentially, Abort,
// Destroy and the accessors may be called from any goroutine, including from
// inside a callback.
type Loader struct {
	// Loader state machine
	fsm *fsm.FSM

	log     *logger.SugaredLoggerOnWith
	client  source.ChunkedClient
	timeout time.Duration
	header  source.Header

	id  string
	url string
	rg  loader.ByteRange

	opened         *atomic.Bool
	destroyed      *atomic.Bool
	finished       *atomic.Bool
	abortRequested *atomic.Bool
	receivedLength *atomic.Int64
	contentLength  *atomic.Int64

	// mu guards the exchange handle and the callbacks
	mu                   sync.Mutex
	exchange             source.Exchange
	cancel               context.CancelFunc
	onContentLengthKnown loader.ContentLengthKnownHandler
	onDataArrival        loader.DataArrivalHandler
	onComplete           loader.CompleteHandler
	onError              loader.ErrorHandler
}

// New returns an idle chunked loader reporting failures to onError.
func New(onError loader.ErrorHandler, opts ...Option) (*Loader, error) {
	if onError == nil {
		return nil, loader.ErrNoErrorHandler
	}

	l := &Loader{
		log:            logger.Nop(),
		client:         source.DefaultManager(),
		timeout:        DefaultTimeout,
		header:         source.Header{},
		id:             uuid.New().String(),
		opened:         atomic.NewBool(false),
		destroyed:      atomic.NewBool(false),
		finished:       atomic.NewBool(false),
		abortRequested: atomic.NewBool(false),
		receivedLength: atomic.NewInt64(0),
		contentLength:  atomic.NewInt64(-1),
		onError:        onError,
	}
	for _, opt := range opts {
		opt(l)
	}

	l.fsm = fsm.NewFSM(
		statusIdle,
		fsm.Events{
			{Name: EventOpen, Src: []string{statusIdle}, Dst: statusConnecting},
			{Name: EventHeadersReceived, Src: []string{statusConnecting}, Dst: statusBuffering},
			{Name: EventFail, Src: []string{statusConnecting, statusBuffering}, Dst: statusError},
			{Name: EventComplete, Src: []string{statusConnecting, statusBuffering}, Dst: statusComplete},
			{Name: EventAbort, Src: []string{statusIdle, statusConnecting, statusBuffering, statusError}, Dst: statusComplete},
		},
		fsm.Callbacks{
			EventOpen: func(ctx context.Context, e *fsm.Event) {
				l.log.Infof("loader state is %s", e.Dst)
			},
			EventHeadersReceived: func(ctx context.Context, e *fsm.Event) {
				l.log.Infof("loader state is %s", e.Dst)
			},
			EventFail: func(ctx context.Context, e *fsm.Event) {
				l.log.Infof("loader state is %s", e.Dst)
			},
			"after_" + EventComplete: func(ctx context.Context, e *fsm.Event) {
				l.log.Infof("loader state is %s", e.Dst)
			},
			"after_" + EventAbort: func(ctx context.Context, e *fsm.Event) {
				l.log.Infof("loader state is %s, aborted from %s", e.Dst, e.Src)
			},
		},
	)

	return l, nil
}

// Type returns the backend name.
func (l *Loader) Type() string {
	return Type
}

// Open sends the range request and returns immediately.
func (l *Loader) Open(ctx context.Context, url string, rg loader.ByteRange) error {
	if l.destroyed.Load() {
		return loader.ErrDestroyed
	}
	if err := rg.Validate(); err != nil {
		return err
	}
	request, err := source.NewRequest(url)
	if err != nil {
		return err
	}
	if !l.fsm.Can(EventOpen) || !l.opened.CAS(false, true) {
		return loader.ErrAlreadyOpened
	}

	l.url = url
	l.rg = rg
	l.receivedLength.Store(0)
	l.contentLength.Store(-1)
	l.abortRequested.Store(false)
	l.log = l.log.WithLoader(l.id, neturl.Redact(url), rg.String())

	request.Header = l.header.Clone()
	request.Header.Del(headers.Range)
	if !rg.IsFull() {
		request.Header.Set(headers.Range, nethttp.FormatRange(rg.From, rg.To))
	}
	request.Timeout = l.timeout

	if err := l.event(EventOpen); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()

	ActiveExchanges.Inc()
	exchange, err := l.client.Send(ctx, request, &exchangeHandler{l})
	if err != nil {
		cancel()
		l.finish()
		if ferr := l.event(EventFail); ferr != nil {
			l.log.Warnf("mark send failure: %v", ferr)
		}
		return errors.Wrapf(err, "send request %s", url)
	}

	l.mu.Lock()
	l.exchange = exchange
	l.mu.Unlock()

	// Destroyed while sending, the deferred detach needs the handle.
	if l.destroyed.Load() {
		exchange.Abort()
		exchange.Detach()
	}
	return nil
}

// Abort cancels the exchange, no completion or error callback fires for it afterwards.
func (l *Loader) Abort() {
	if l.abortRequested.CAS(false, true) && l.IsWorking() {
		ExchangeCount.WithLabelValues(exchangeResultAborted).Inc()
	}

	l.cancelExchange()
	if l.fsm.Can(EventAbort) {
		if err := l.event(EventAbort); err != nil {
			l.log.Debugf("abort: %v", err)
		}
	}
}

// Destroy aborts a working loader and releases the exchange. The loader must
// not be used afterwards.
func (l *Loader) Destroy() {
	if !l.destroyed.CAS(false, true) {
		return
	}
	if l.IsWorking() {
		l.Abort()
	}

	l.mu.Lock()
	exchange, cancel := l.exchange, l.cancel
	l.exchange, l.cancel = nil, nil
	l.onContentLengthKnown = nil
	l.onDataArrival = nil
	l.onComplete = nil
	l.mu.Unlock()

	if exchange != nil {
		exchange.Detach()
	}
	if cancel != nil {
		cancel()
	}
	if l.opened.Load() {
		l.finish()
	}
	l.log.Debug("loader destroyed")
}

// Status returns the current status.
func (l *Loader) Status() loader.Status {
	return loader.Status(l.fsm.Current())
}

// IsWorking reports whether the loader is connecting or buffering.
func (l *Loader) IsWorking() bool {
	switch l.Status() {
	case loader.StatusConnecting, loader.StatusBuffering:
		return true
	default:
		return false
	}
}

// ReceivedLength returns the bytes delivered so far.
func (l *Loader) ReceivedLength() int64 {
	return l.receivedLength.Load()
}

// ContentLength returns the advertised length of the response, -1 if unknown.
func (l *Loader) ContentLength() int64 {
	return l.contentLength.Load()
}

func (l *Loader) OnContentLengthKnown(handler loader.ContentLengthKnownHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onContentLengthKnown = handler
}

func (l *Loader) OnDataArrival(handler loader.DataArrivalHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onDataArrival = handler
}

func (l *Loader) OnComplete(handler loader.CompleteHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onComplete = handler
}

// OnError replaces the error handler, nil is ignored.
func (l *Loader) OnError(handler loader.ErrorHandler) {
	if handler == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.onError = handler
}

func (l *Loader) event(name string) error {
	return l.fsm.Event(context.Background(), name)
}

// cancelExchange asks the transport to stop the exchange.
func (l *Loader) cancelExchange() {
	l.mu.Lock()
	exchange, cancel := l.exchange, l.cancel
	l.mu.Unlock()

	if exchange != nil {
		exchange.Abort()
	}
	if cancel != nil {
		cancel()
	}
}

// finish releases the exchange slot once.
func (l *Loader) finish() {
	if l.finished.CAS(false, true) {
		ActiveExchanges.Dec()
	}
}

// suppressed reports whether callbacks of the exchange must be dropped.
func (l *Loader) suppressed() bool {
	return l.destroyed.Load() || l.abortRequested.Load()
}

// fail moves the loader to Error and reports the failure, at most once per exchange.
func (l *Loader) fail(kind loader.ErrorKind, info loader.ErrorInfo) bool {
	if err := l.event(EventFail); err != nil {
		l.log.Debugf("drop %s failure: %v", kind, err)
		return false
	}
	ExchangeCount.WithLabelValues(kind.String()).Inc()
	l.log.Warnf("exchange failed, %s", loader.NewError(kind, info))

	l.mu.Lock()
	onError := l.onError
	l.mu.Unlock()
	if !l.suppressed() {
		onError(kind, info)
	}
	return true
}

// exchangeHandler receives the transport events of the loader's exchange.
type exchangeHandler struct {
	l *Loader
}

func (h *exchangeHandler) OnHeadersReceived(statusCode int, statusText string) {
	l := h.l
	if l.suppressed() {
		return
	}

	l.log.Debugf("headers received, status %d %s", statusCode, statusText)
	if statusCode != 0 && (statusCode < 200 || statusCode > 299) {
		if l.fail(loader.ErrorKindHTTPStatusCodeInvalid, loader.ErrorInfo{Code: statusCode, Message: statusText}) {
			l.cancelExchange()
		}
		return
	}

	if err := l.event(EventHeadersReceived); err != nil {
		l.log.Debugf("headers received: %v", err)
	}
}

func (h *exchangeHandler) OnProgress(chunk []byte, total int64) {
	l := h.l
	if l.suppressed() || l.Status() == loader.StatusError {
		return
	}

	if total > 0 && l.contentLength.CAS(-1, total) {
		l.mu.Lock()
		onContentLengthKnown := l.onContentLengthKnown
		l.mu.Unlock()
		if onContentLengthKnown != nil {
			onContentLengthKnown(total)
		}
		if l.suppressed() {
			return
		}
	}

	byteStart := l.rg.From + l.receivedLength.Load()
	receivedLength := l.receivedLength.Add(int64(len(chunk)))
	ReceivedBytesCount.Add(float64(len(chunk)))
	if l.log.IsDebug() {
		l.log.Debugf("received chunk, size = %d, total_received = %d", len(chunk), receivedLength)
	}

	l.mu.Lock()
	onDataArrival := l.onDataArrival
	l.mu.Unlock()
	if onDataArrival != nil {
		onDataArrival(chunk, byteStart, receivedLength)
	}
}

func (h *exchangeHandler) OnTimeout() {
	l := h.l
	if l.suppressed() {
		return
	}

	l.fail(loader.ErrorKindConnectingTimeout, loader.ErrorInfo{Code: -1, Message: messageConnectionTimeout})
}

func (h *exchangeHandler) OnError(err error, loaded int64) {
	l := h.l
	if l.suppressed() {
		return
	}

	if contentLength := l.contentLength.Load(); contentLength > 0 && loaded < contentLength {
		l.fail(loader.ErrorKindEarlyEOF, loader.ErrorInfo{Code: -1, Message: messageEarlyEOF})
		return
	}
	l.fail(loader.ErrorKindException, loader.ErrorInfo{Code: -1, Message: fmt.Sprintf("%T %v", errors.Cause(err), err)})
}

func (h *exchangeHandler) OnLoadEnd() {
	l := h.l
	defer l.finish()

	if l.abortRequested.CAS(true, false) {
		l.log.Debug("load end after abort")
		return
	}
	if l.destroyed.Load() || l.Status() == loader.StatusError {
		return
	}

	if err := l.event(EventComplete); err != nil {
		l.log.Debugf("complete: %v", err)
		return
	}
	ExchangeCount.WithLabelValues(exchangeResultComplete).Inc()

	receivedLength := l.receivedLength.Load()
	l.log.Infof("exchange complete, received %d bytes", receivedLength)

	l.mu.Lock()
	onComplete := l.onComplete
	l.mu.Unlock()
	if onComplete != nil {
		onComplete(l.rg.From, l.rg.From+receivedLength-1)
	}
}
