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

package httpprotocol

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-http-utils/headers"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	nethttp "d7y.io/rangeloader/pkg/net/http"
	"d7y.io/rangeloader/pkg/source"
)

const (
	HTTPClient  = "http"
	HTTPSClient = "https"

	// DefaultChunkSize is the size of the buffer the body is read with,
	// a chunk is never larger than it.
	DefaultChunkSize = 64 * 1024
)

var defaultHTTPClient *http.Client
var _ source.ChunkedClient = (*httpSourceClient)(nil)

func init() {
	transport := source.DefaultTransport()
	transport.DialContext = (&net.Dialer{
		Timeout:   3 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext
	defaultHTTPClient = &http.Client{
		Transport: source.WithTraceRoundTripper(transport),
	}
	httpSourceClient := NewHTTPSourceClient()
	source.Register(HTTPClient, httpSourceClient)
	source.Register(HTTPSClient, httpSourceClient)
}

// httpSourceClient is an implementation of the interface of source.ChunkedClient.
type httpSourceClient struct {
	httpClient *http.Client
	chunkSize  int
	limiter    *rate.Limiter
}

// NewHTTPSourceClient returns a new chunked http client.
func NewHTTPSourceClient(opts ...HTTPSourceClientOption) source.ChunkedClient {
	return newHTTPSourceClient(opts...)
}

func newHTTPSourceClient(opts ...HTTPSourceClientOption) *httpSourceClient {
	client := &httpSourceClient{
		httpClient: defaultHTTPClient,
		chunkSize:  DefaultChunkSize,
	}
	for i := range opts {
		opts[i](client)
	}
	return client
}

type HTTPSourceClientOption func(p *httpSourceClient)

func WithHTTPClient(client *http.Client) HTTPSourceClientOption {
	return func(sourceClient *httpSourceClient) {
		sourceClient.httpClient = client
	}
}

// WithChunkSize sets the maximum size of a delivered chunk.
func WithChunkSize(size int) HTTPSourceClientOption {
	return func(sourceClient *httpSourceClient) {
		if size > 0 {
			sourceClient.chunkSize = size
		}
	}
}

// WithRateLimiter limits the body read rate in bytes per second.
func WithRateLimiter(limiter *rate.Limiter) HTTPSourceClientOption {
	return func(sourceClient *httpSourceClient) {
		sourceClient.limiter = limiter
	}
}

func (client *httpSourceClient) Send(ctx context.Context, request *source.Request, handler source.EventHandler) (source.Exchange, error) {
	if request == nil || request.URL == nil {
		return nil, errors.New("request url is nil")
	}
	if handler == nil {
		return nil, errors.New("event handler is nil")
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, request.URL.String(), nil)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "create request")
	}
	req.Header = nethttp.MapToHeader(request.Header)

	ex := &exchange{
		client:   client,
		handler:  handler,
		ctx:      ctx,
		cancel:   cancel,
		timeout:  request.Timeout,
		aborted:  atomic.NewBool(false),
		timedOut: atomic.NewBool(false),
		detached: atomic.NewBool(false),
	}
	if ex.timeout > 0 {
		ex.timer = time.AfterFunc(ex.timeout, ex.expire)
	}

	go ex.run(req)
	return ex, nil
}

// exchange delivers the events of one request from its own goroutine.
type exchange struct {
	client  *httpSourceClient
	handler source.EventHandler
	ctx     context.Context
	cancel  context.CancelFunc

	timeout time.Duration
	timer   *time.Timer

	aborted  *atomic.Bool
	timedOut *atomic.Bool
	detached *atomic.Bool

	loaded int64
}

func (ex *exchange) Abort() {
	ex.aborted.Store(true)
	ex.cancel()
}

func (ex *exchange) Detach() {
	ex.detached.Store(true)
}

func (ex *exchange) expire() {
	ex.timedOut.Store(true)
	ex.cancel()
}

// pause stops the inactivity timer while the exchange throttles itself, the
// next touch re-arms it.
func (ex *exchange) pause() {
	if ex.timer != nil {
		ex.timer.Stop()
	}
}

// touch re-arms the inactivity timer.
func (ex *exchange) touch() {
	if ex.timer != nil && !ex.timedOut.Load() {
		ex.timer.Reset(ex.timeout)
	}
}

func (ex *exchange) emit(fn func(handler source.EventHandler)) {
	if ex.detached.Load() {
		return
	}
	fn(ex.handler)
}

func (ex *exchange) run(req *http.Request) {
	defer ex.emit(func(h source.EventHandler) { h.OnLoadEnd() })
	defer ex.cancel()
	defer func() {
		if ex.timer != nil {
			ex.timer.Stop()
		}
	}()

	resp, err := ex.client.httpClient.Do(req)
	if err != nil {
		ex.fail(err)
		return
	}
	defer resp.Body.Close()

	if ex.aborted.Load() {
		return
	}
	if err := checkContentRange(req.Header.Get(headers.Range), resp); err != nil {
		ex.fail(err)
		return
	}
	ex.touch()
	ex.emit(func(h source.EventHandler) { h.OnHeadersReceived(resp.StatusCode, statusText(resp)) })

	buf := make([]byte, ex.client.chunkSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			ex.pause()
			if werr := ex.wait(n); werr != nil {
				ex.fail(werr)
				return
			}
			if ex.aborted.Load() {
				return
			}

			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			ex.loaded += int64(n)
			ex.touch()
			ex.emit(func(h source.EventHandler) { h.OnProgress(chunk, resp.ContentLength) })
		}

		if err == io.EOF {
			return
		}
		if err != nil {
			ex.fail(err)
			return
		}
	}
}

// wait blocks until the rate limiter admits n bytes.
func (ex *exchange) wait(n int) error {
	limiter := ex.client.limiter
	if limiter == nil || limiter.Limit() == rate.Inf {
		return nil
	}

	burst := limiter.Burst()
	if burst <= 0 {
		return errors.New("rate limiter burst must be positive")
	}
	for n > 0 {
		size := n
		if size > burst {
			size = burst
		}
		if err := limiter.WaitN(ex.ctx, size); err != nil {
			return err
		}
		n -= size
	}
	return nil
}

// fail reports err unless the exchange was aborted.
func (ex *exchange) fail(err error) {
	switch {
	case ex.aborted.Load():
	case ex.timedOut.Load():
		ex.emit(func(h source.EventHandler) { h.OnTimeout() })
	default:
		ex.emit(func(h source.EventHandler) { h.OnError(err, ex.loaded) })
	}
}

// checkContentRange verifies that a partial response covers the requested
// range. Responses other than 206 and 206 without Content-Range pass.
func checkContentRange(requested string, resp *http.Response) error {
	contentRange := resp.Header.Get(headers.ContentRange)
	if resp.StatusCode != http.StatusPartialContent || requested == "" || contentRange == "" {
		return nil
	}

	got, size, err := nethttp.ParseContentRange(contentRange)
	if err != nil {
		return errors.Wrapf(err, "content range %q", contentRange)
	}

	var want nethttp.Range
	if size >= 0 {
		if want, err = nethttp.ParseOneRange(requested, size); err != nil {
			return errors.Wrapf(err, "requested range %q of %d bytes", requested, size)
		}
	} else {
		from, to, err := nethttp.ParseSpan(requested)
		if err != nil {
			return errors.Wrapf(err, "requested range %q", requested)
		}
		want = nethttp.Range{Start: from, Length: got.Length}
		if to != -1 {
			want.Length = to - from + 1
		}
	}

	if got != want {
		return errors.Errorf("content range %q does not match requested %s", contentRange, want)
	}
	return nil
}

// statusText returns the reason phrase of the response, e.g. "Not Found".
func statusText(resp *http.Response) string {
	text := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))
	text = strings.TrimSpace(text)
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}
