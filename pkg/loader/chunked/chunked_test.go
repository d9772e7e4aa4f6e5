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

package chunked

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-http-utils/headers"
	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	logger "d7y.io/rangeloader/internal/dflog"
	"d7y.io/rangeloader/pkg/loader"
	nethttp "d7y.io/rangeloader/pkg/net/http"
	"d7y.io/rangeloader/pkg/source"
	_ "d7y.io/rangeloader/pkg/source/httpprotocol"
	"d7y.io/rangeloader/pkg/source/mocks"
)

const testURL = "http://example.com/segment.ts"

type arrival struct {
	chunk          []byte
	byteStart      int64
	receivedLength int64
}

type failure struct {
	kind loader.ErrorKind
	info loader.ErrorInfo
}

// callbacks records what a loader reports.
type callbacks struct {
	mu             sync.Mutex
	contentLengths []int64
	arrivals       []arrival
	completes      [][2]int64
	failures       []failure
	done           chan struct{}
}

func newCallbacks() *callbacks {
	return &callbacks{done: make(chan struct{}, 2)}
}

func (c *callbacks) onError(kind loader.ErrorKind, info loader.ErrorInfo) {
	c.mu.Lock()
	c.failures = append(c.failures, failure{kind, info})
	c.mu.Unlock()
	c.done <- struct{}{}
}

func (c *callbacks) register(l *Loader) {
	l.OnContentLengthKnown(func(total int64) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.contentLengths = append(c.contentLengths, total)
	})
	l.OnDataArrival(func(chunk []byte, byteStart, receivedLength int64) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.arrivals = append(c.arrivals, arrival{chunk, byteStart, receivedLength})
	})
	l.OnComplete(func(from, to int64) {
		c.mu.Lock()
		c.completes = append(c.completes, [2]int64{from, to})
		c.mu.Unlock()
		c.done <- struct{}{}
	})
}

func (c *callbacks) terminals() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.completes) + len(c.failures)
}

func (c *callbacks) wait(t *testing.T) {
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal callback")
	}
}

// opened opens a loader over a mocked transport and returns the captured
// request and event handler.
func opened(t *testing.T, ctl *gomock.Controller, rg loader.ByteRange, opts ...Option) (*Loader, *callbacks, *mocks.MockExchange, source.EventHandler, *source.Request) {
	var (
		client   = mocks.NewMockChunkedClient(ctl)
		exchange = mocks.NewMockExchange(ctl)
		cb       = newCallbacks()
		handler  source.EventHandler
		request  *source.Request
	)
	client.EXPECT().Send(gomock.Any(), source.RequestEq(testURL), gomock.Any()).DoAndReturn(
		func(ctx context.Context, req *source.Request, h source.EventHandler) (source.Exchange, error) {
			request, handler = req, h
			return exchange, nil
		}).Times(1)

	l, err := New(cb.onError, append([]Option{WithClient(client)}, opts...)...)
	require.NoError(t, err)
	cb.register(l)
	require.NoError(t, l.Open(context.Background(), testURL, rg))
	require.Equal(t, loader.StatusConnecting, l.Status())
	return l, cb, exchange, handler, request
}

func TestNew(t *testing.T) {
	assert := assert.New(t)

	_, err := New(nil)
	assert.ErrorIs(err, loader.ErrNoErrorHandler)

	l, err := New(func(loader.ErrorKind, loader.ErrorInfo) {})
	assert.Nil(err)
	assert.Equal("chunked", l.Type())
	assert.Equal(loader.StatusIdle, l.Status())
	assert.False(l.IsWorking())
	assert.EqualValues(0, l.ReceivedLength())
	assert.EqualValues(-1, l.ContentLength())
	assert.Equal(DefaultTimeout, l.timeout)
	assert.Equal(source.DefaultManager(), l.client)
}

func TestLoader_RangeHeader(t *testing.T) {
	tests := []struct {
		name   string
		rg     loader.ByteRange
		opts   []Option
		expect func(t *testing.T, request *source.Request)
	}{
		{
			name: "full range omits header",
			rg:   loader.FullRange,
			expect: func(t *testing.T, request *source.Request) {
				assert.False(t, request.Header.Has(headers.Range))
			},
		},
		{
			name: "closed range",
			rg:   loader.ByteRange{From: 0, To: 99},
			expect: func(t *testing.T, request *source.Request) {
				assert.Equal(t, "bytes=0-99", request.Header.Get(headers.Range))
			},
		},
		{
			name: "open ended range",
			rg:   loader.ByteRange{From: 100, To: -1},
			expect: func(t *testing.T, request *source.Request) {
				assert.Equal(t, "bytes=100-", request.Header.Get(headers.Range))
			},
		},
		{
			name: "single byte range",
			rg:   loader.ByteRange{From: 5, To: 5},
			expect: func(t *testing.T, request *source.Request) {
				assert.Equal(t, "bytes=5-5", request.Header.Get(headers.Range))
			},
		},
		{
			name: "extra headers and stale range",
			rg:   loader.ByteRange{From: 7, To: -1},
			opts: []Option{WithHeader(source.Header{"Range": "bytes=0-1", "X-Token": "t"})},
			expect: func(t *testing.T, request *source.Request) {
				assert.Equal(t, "bytes=7-", request.Header.Get(headers.Range))
				assert.Equal(t, "t", request.Header.Get("x-token"))
			},
		},
		{
			name: "stale range dropped for full range",
			rg:   loader.FullRange,
			opts: []Option{WithHeader(source.Header{"Range": "bytes=0-1"})},
			expect: func(t *testing.T, request *source.Request) {
				assert.False(t, request.Header.Has(headers.Range))
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctl := gomock.NewController(t)
			defer ctl.Finish()

			_, _, _, _, request := opened(t, ctl, tc.rg, tc.opts...)
			assert.Equal(t, DefaultTimeout, request.Timeout)
			tc.expect(t, request)
		})
	}
}

func TestLoader_RangeHeaderMatchesFormatRange(t *testing.T) {
	for from := int64(0); from < 4; from++ {
		for to := int64(-1); to < 6; to++ {
			rg := loader.ByteRange{From: from, To: to}
			if rg.Validate() != nil || rg.IsFull() {
				continue
			}
			t.Run(rg.String(), func(t *testing.T) {
				ctl := gomock.NewController(t)
				defer ctl.Finish()

				_, _, _, _, request := opened(t, ctl, rg)
				assert.Equal(t, nethttp.FormatRange(from, to), request.Header.Get(headers.Range))
			})
		}
	}
}

func TestLoader_WithTimeout(t *testing.T) {
	ctl := gomock.NewController(t)
	defer ctl.Finish()

	_, _, _, _, request := opened(t, ctl, loader.FullRange, WithTimeout(time.Second))
	assert.Equal(t, time.Second, request.Timeout)
}

func TestLoader_Offsets(t *testing.T) {
	assert := assert.New(t)
	ctl := gomock.NewController(t)
	defer ctl.Finish()

	received := testutil.ToFloat64(ReceivedBytesCount)
	l, cb, _, h, _ := opened(t, ctl, loader.ByteRange{From: 100, To: -1})

	h.OnHeadersReceived(http.StatusPartialContent, "Partial Content")
	assert.Equal(loader.StatusBuffering, l.Status())
	assert.True(l.IsWorking())

	h.OnProgress([]byte("abc"), -1)
	h.OnProgress([]byte("defgh"), 9)
	h.OnProgress([]byte("i"), 20)
	h.OnLoadEnd()

	assert.Equal([]int64{9}, cb.contentLengths)
	assert.EqualValues(9, l.ContentLength())
	assert.Equal([]arrival{
		{[]byte("abc"), 100, 3},
		{[]byte("defgh"), 103, 8},
		{[]byte("i"), 108, 9},
	}, cb.arrivals)
	assert.Equal([][2]int64{{100, 108}}, cb.completes)
	assert.Empty(cb.failures)
	assert.EqualValues(9, l.ReceivedLength())
	assert.Equal(loader.StatusComplete, l.Status())
	assert.False(l.IsWorking())
	assert.Equal(received+9, testutil.ToFloat64(ReceivedBytesCount))
}

func TestLoader_EmptyBody(t *testing.T) {
	ctl := gomock.NewController(t)
	defer ctl.Finish()

	_, cb, _, h, _ := opened(t, ctl, loader.ByteRange{From: 10, To: -1})
	h.OnHeadersReceived(http.StatusOK, "OK")
	h.OnLoadEnd()

	assert.Empty(t, cb.contentLengths)
	assert.Equal(t, [][2]int64{{10, 9}}, cb.completes)
}

func TestLoader_StatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		text   string
		expect func(t *testing.T, l *Loader, cb *callbacks)
	}{
		{
			name: "opaque zero status",
			code: 0,
			expect: func(t *testing.T, l *Loader, cb *callbacks) {
				assert.Equal(t, loader.StatusComplete, l.Status())
				assert.Len(t, cb.completes, 1)
				assert.Len(t, cb.arrivals, 1)
			},
		},
		{
			name: "ok",
			code: http.StatusOK,
			text: "OK",
			expect: func(t *testing.T, l *Loader, cb *callbacks) {
				assert.Len(t, cb.completes, 1)
				assert.Empty(t, cb.failures)
			},
		},
		{
			name: "not found",
			code: http.StatusNotFound,
			text: "Not Found",
			expect: func(t *testing.T, l *Loader, cb *callbacks) {
				assert := assert.New(t)
				assert.Equal([]failure{{loader.ErrorKindHTTPStatusCodeInvalid, loader.ErrorInfo{Code: 404, Message: "Not Found"}}}, cb.failures)
				assert.Empty(cb.arrivals)
				assert.Empty(cb.completes)
				assert.Empty(cb.contentLengths)
				assert.Equal(loader.StatusError, l.Status())
				assert.EqualValues(0, l.ReceivedLength())
			},
		},
		{
			name: "redirect not followed",
			code: http.StatusMovedPermanently,
			text: "Moved Permanently",
			expect: func(t *testing.T, l *Loader, cb *callbacks) {
				assert.Len(t, cb.failures, 1)
				assert.Equal(t, 301, cb.failures[0].info.Code)
			},
		},
		{
			name: "range not satisfiable",
			code: http.StatusRequestedRangeNotSatisfiable,
			text: "Requested Range Not Satisfiable",
			expect: func(t *testing.T, l *Loader, cb *callbacks) {
				assert.Len(t, cb.failures, 1)
				assert.Equal(t, loader.ErrorKindHTTPStatusCodeInvalid, cb.failures[0].kind)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctl := gomock.NewController(t)
			defer ctl.Finish()

			l, cb, exchange, h, _ := opened(t, ctl, loader.FullRange)
			invalid := tc.code != 0 && (tc.code < 200 || tc.code > 299)
			if invalid {
				exchange.EXPECT().Abort().Times(1)
			}

			h.OnHeadersReceived(tc.code, tc.text)
			h.OnProgress([]byte("data"), 4)
			if invalid {
				h.OnError(context.Canceled, 4)
			}
			h.OnLoadEnd()
			tc.expect(t, l, cb)
		})
	}
}

func TestLoader_TransportError(t *testing.T) {
	tests := []struct {
		name   string
		total  int64
		sent   int
		loaded int64
		err    error
		expect func(t *testing.T, cb *callbacks)
	}{
		{
			name:   "early eof with known length",
			total:  1000,
			sent:   400,
			loaded: 400,
			err:    io.ErrUnexpectedEOF,
			expect: func(t *testing.T, cb *callbacks) {
				assert.Equal(t, []failure{{loader.ErrorKindEarlyEOF, loader.ErrorInfo{Code: -1, Message: "chunked stream meet early-eof"}}}, cb.failures)
			},
		},
		{
			name:   "exception with unknown length",
			total:  -1,
			sent:   400,
			loaded: 400,
			err:    io.ErrUnexpectedEOF,
			expect: func(t *testing.T, cb *callbacks) {
				assert.Equal(t, []failure{{loader.ErrorKindException, loader.ErrorInfo{Code: -1, Message: "*errors.errorString unexpected EOF"}}}, cb.failures)
			},
		},
		{
			name:   "exception when all bytes were loaded",
			total:  400,
			sent:   400,
			loaded: 400,
			err:    fmt.Errorf("connection reset"),
			expect: func(t *testing.T, cb *callbacks) {
				assert.Len(t, cb.failures, 1)
				assert.Equal(t, loader.ErrorKindException, cb.failures[0].kind)
				assert.Equal(t, "*errors.errorString connection reset", cb.failures[0].info.Message)
			},
		},
		{
			name:   "exception before any data",
			total:  -1,
			sent:   0,
			loaded: 0,
			err:    &netError{},
			expect: func(t *testing.T, cb *callbacks) {
				assert.Equal(t, "*chunked.netError dial tcp: refused", cb.failures[0].info.Message)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctl := gomock.NewController(t)
			defer ctl.Finish()

			l, cb, _, h, _ := opened(t, ctl, loader.FullRange)
			h.OnHeadersReceived(http.StatusOK, "OK")
			if tc.sent > 0 {
				h.OnProgress(make([]byte, tc.sent), tc.total)
			}
			h.OnError(tc.err, tc.loaded)
			h.OnProgress([]byte("late"), tc.total)
			h.OnLoadEnd()

			tc.expect(t, cb)
			assert.Empty(t, cb.completes)
			assert.Equal(t, loader.StatusError, l.Status())
			assert.EqualValues(t, tc.sent, l.ReceivedLength())
		})
	}
}

type netError struct{}

func (e *netError) Error() string { return "dial tcp: refused" }

func TestLoader_Timeout(t *testing.T) {
	assert := assert.New(t)
	ctl := gomock.NewController(t)
	defer ctl.Finish()

	l, cb, _, h, _ := opened(t, ctl, loader.FullRange)
	h.OnTimeout()
	h.OnTimeout()
	h.OnLoadEnd()

	assert.Equal([]failure{{loader.ErrorKindConnectingTimeout, loader.ErrorInfo{Code: -1, Message: "Connection timeout"}}}, cb.failures)
	assert.Empty(cb.completes)
	assert.Equal(loader.StatusError, l.Status())
}

func TestLoader_Abort(t *testing.T) {
	tests := []struct {
		name  string
		drive func(l *Loader, h source.EventHandler)
	}{
		{
			name: "abort while connecting",
			drive: func(l *Loader, h source.EventHandler) {
				l.Abort()
				h.OnHeadersReceived(http.StatusOK, "OK")
				h.OnProgress([]byte("data"), 4)
				h.OnLoadEnd()
			},
		},
		{
			name: "abort while buffering",
			drive: func(l *Loader, h source.EventHandler) {
				h.OnHeadersReceived(http.StatusOK, "OK")
				h.OnProgress([]byte("data"), 10)
				l.Abort()
				l.Abort()
				h.OnProgress([]byte("more"), 10)
				h.OnError(errors.New("canceled"), 4)
				h.OnLoadEnd()
			},
		},
		{
			name: "abort before a timeout",
			drive: func(l *Loader, h source.EventHandler) {
				h.OnHeadersReceived(http.StatusOK, "OK")
				l.Abort()
				h.OnTimeout()
				h.OnLoadEnd()
			},
		},
		{
			name: "abort from the data callback",
			drive: func(l *Loader, h source.EventHandler) {
				l.OnDataArrival(func(chunk []byte, byteStart, receivedLength int64) {
					l.Abort()
				})
				h.OnHeadersReceived(http.StatusOK, "OK")
				h.OnProgress([]byte("data"), 10)
				h.OnProgress([]byte("more"), 10)
				h.OnLoadEnd()
			},
		},
		{
			name: "abort from the content length callback",
			drive: func(l *Loader, h source.EventHandler) {
				l.OnContentLengthKnown(func(total int64) {
					l.Abort()
				})
				h.OnHeadersReceived(http.StatusOK, "OK")
				h.OnProgress([]byte("data"), 10)
				h.OnLoadEnd()
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctl := gomock.NewController(t)
			defer ctl.Finish()

			l, cb, exchange, h, _ := opened(t, ctl, loader.FullRange)
			exchange.EXPECT().Abort().MinTimes(1)
			tc.drive(l, h)

			assert.Empty(t, cb.completes)
			assert.Empty(t, cb.failures)
			assert.Equal(t, loader.StatusComplete, l.Status())
			assert.False(t, l.IsWorking())
			assert.False(t, l.abortRequested.Load())
		})
	}
}

func TestLoader_StateLogs(t *testing.T) {
	tests := []struct {
		name     string
		drive    func(l *Loader, h source.EventHandler, exchange *mocks.MockExchange)
		expected []string
	}{
		{
			name: "complete",
			drive: func(l *Loader, h source.EventHandler, exchange *mocks.MockExchange) {
				h.OnHeadersReceived(http.StatusOK, "OK")
				h.OnProgress([]byte("data"), 4)
				h.OnLoadEnd()
			},
			expected: []string{"loader state is Complete"},
		},
		{
			name: "abort",
			drive: func(l *Loader, h source.EventHandler, exchange *mocks.MockExchange) {
				exchange.EXPECT().Abort().Times(1)
				h.OnHeadersReceived(http.StatusOK, "OK")
				l.Abort()
				h.OnLoadEnd()
			},
			expected: []string{"loader state is Complete, aborted from Buffering"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctl := gomock.NewController(t)
			defer ctl.Finish()

			core, logs := observer.New(zapcore.InfoLevel)
			l, _, exchange, h, _ := opened(t, ctl, loader.FullRange, WithLogger(logger.New(zap.New(core).Sugar())))
			tc.drive(l, h, exchange)

			var messages []string
			for _, entry := range logs.FilterMessageSnippet("loader state is Complete").All() {
				messages = append(messages, entry.Message)
			}
			assert.Equal(t, tc.expected, messages)
		})
	}
}

func TestLoader_AbortFromErrorCallback(t *testing.T) {
	ctl := gomock.NewController(t)
	defer ctl.Finish()

	var l *Loader
	client := mocks.NewMockChunkedClient(ctl)
	exchange := mocks.NewMockExchange(ctl)
	var h source.EventHandler
	client.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, req *source.Request, handler source.EventHandler) (source.Exchange, error) {
			h = handler
			return exchange, nil
		})
	exchange.EXPECT().Abort().MinTimes(1)

	var kinds []loader.ErrorKind
	l, err := New(func(kind loader.ErrorKind, info loader.ErrorInfo) {
		kinds = append(kinds, kind)
		l.Abort()
	}, WithClient(client))
	require.NoError(t, err)
	require.NoError(t, l.Open(context.Background(), testURL, loader.FullRange))

	h.OnHeadersReceived(http.StatusInternalServerError, "Internal Server Error")
	h.OnLoadEnd()
	assert.Equal(t, []loader.ErrorKind{loader.ErrorKindHTTPStatusCodeInvalid}, kinds)
	assert.Equal(t, loader.StatusComplete, l.Status())
}

func TestLoader_AbortIdle(t *testing.T) {
	l, err := New(func(loader.ErrorKind, loader.ErrorInfo) {})
	require.NoError(t, err)

	l.Abort()
	assert.Equal(t, loader.StatusComplete, l.Status())
	assert.ErrorIs(t, l.Open(context.Background(), testURL, loader.FullRange), loader.ErrAlreadyOpened)
}

func TestLoader_Destroy(t *testing.T) {
	assert := assert.New(t)
	ctl := gomock.NewController(t)
	defer ctl.Finish()

	l, cb, exchange, h, _ := opened(t, ctl, loader.FullRange)
	gomock.InOrder(
		exchange.EXPECT().Abort().MinTimes(1),
		exchange.EXPECT().Detach().Times(1),
	)

	h.OnHeadersReceived(http.StatusOK, "OK")
	h.OnProgress([]byte("data"), 10)
	active := testutil.ToFloat64(ActiveExchanges)
	l.Destroy()
	l.Destroy()
	assert.Equal(active-1, testutil.ToFloat64(ActiveExchanges))

	h.OnProgress([]byte("more"), 10)
	h.OnError(io.ErrUnexpectedEOF, 4)
	h.OnTimeout()
	h.OnLoadEnd()

	assert.Len(cb.arrivals, 1)
	assert.Empty(cb.completes)
	assert.Empty(cb.failures)
	assert.Equal(loader.StatusComplete, l.Status())
	assert.ErrorIs(l.Open(context.Background(), testURL, loader.FullRange), loader.ErrDestroyed)
	assert.Equal(active-1, testutil.ToFloat64(ActiveExchanges))
}

func TestLoader_DestroyAfterComplete(t *testing.T) {
	ctl := gomock.NewController(t)
	defer ctl.Finish()

	l, cb, exchange, h, _ := opened(t, ctl, loader.FullRange)
	exchange.EXPECT().Detach().Times(1)

	h.OnHeadersReceived(http.StatusOK, "OK")
	h.OnLoadEnd()
	l.Destroy()
	assert.Len(t, cb.completes, 1)
}

func TestLoader_DestroyIdle(t *testing.T) {
	l, err := New(func(loader.ErrorKind, loader.ErrorInfo) {})
	require.NoError(t, err)

	l.Destroy()
	assert.Equal(t, loader.StatusIdle, l.Status())
	assert.ErrorIs(t, l.Open(context.Background(), testURL, loader.FullRange), loader.ErrDestroyed)
}

func TestLoader_OpenMisuse(t *testing.T) {
	ctl := gomock.NewController(t)
	defer ctl.Finish()

	l, _, _, _, _ := opened(t, ctl, loader.FullRange)
	assert.ErrorIs(t, l.Open(context.Background(), testURL, loader.FullRange), loader.ErrAlreadyOpened)

	fresh, err := New(func(loader.ErrorKind, loader.ErrorInfo) {}, WithClient(mocks.NewMockChunkedClient(ctl)))
	require.NoError(t, err)
	assert.ErrorIs(t, fresh.Open(context.Background(), testURL, loader.ByteRange{From: 10, To: 5}), loader.ErrInvalidRange)
	assert.Error(t, fresh.Open(context.Background(), "", loader.FullRange))
	assert.Error(t, fresh.Open(context.Background(), "/relative", loader.FullRange))
	assert.Equal(t, loader.StatusIdle, fresh.Status())
}

func TestLoader_SendFailure(t *testing.T) {
	ctl := gomock.NewController(t)
	defer ctl.Finish()

	client := mocks.NewMockChunkedClient(ctl)
	client.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("no client"))

	cb := newCallbacks()
	l, err := New(cb.onError, WithClient(client))
	require.NoError(t, err)
	cb.register(l)

	active := testutil.ToFloat64(ActiveExchanges)
	err = l.Open(context.Background(), testURL, loader.FullRange)
	assert.EqualError(t, err, "send request http://example.com/segment.ts: no client")
	assert.Equal(t, loader.StatusError, l.Status())
	assert.Equal(t, 0, cb.terminals())
	assert.Equal(t, active, testutil.ToFloat64(ActiveExchanges))
}

func TestLoader_OnError(t *testing.T) {
	ctl := gomock.NewController(t)
	defer ctl.Finish()

	l, cb, _, h, _ := opened(t, ctl, loader.FullRange)
	l.OnError(nil)

	var replaced []loader.ErrorKind
	h.OnTimeout()
	l.OnError(func(kind loader.ErrorKind, info loader.ErrorInfo) {
		replaced = append(replaced, kind)
	})
	assert.Len(t, cb.failures, 1)
	assert.Empty(t, replaced)
}

func TestBackend(t *testing.T) {
	assert := assert.New(t)

	registry := loader.NewRegistry()
	registry.Register(NewBackend())

	b, err := registry.Select("https://example.com/a.ts")
	assert.Nil(err)
	assert.Equal(Type, b.Name)

	_, err = registry.Select("ftp://example.com/a.ts")
	assert.ErrorIs(err, loader.ErrNoSupportedBackend)

	l, err := registry.New("http://example.com/a.ts", func(loader.ErrorKind, loader.ErrorInfo) {})
	assert.Nil(err)
	assert.Equal(Type, l.Type())

	_, err = b.New(nil)
	assert.ErrorIs(err, loader.ErrNoErrorHandler)

	ctl := gomock.NewController(t)
	defer ctl.Finish()
	custom := NewBackend(WithClient(mocks.NewMockChunkedClient(ctl)))
	assert.True(custom.IsSupported("custom://example.com/a.ts"))
}

func rangeServer(t *testing.T, content []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := content
		status := http.StatusOK
		if rg := r.Header.Get(headers.Range); rg != "" {
			parsed, err := nethttp.ParseOneRange(rg, int64(len(content)))
			if err != nil {
				w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
				return
			}
			body = content[parsed.Start : parsed.Start+parsed.Length]
			status = http.StatusPartialContent
			w.Header().Set(headers.ContentRange, fmt.Sprintf("bytes %d-%d/%d", parsed.Start, parsed.Start+parsed.Length-1, len(content)))
		}
		w.Header().Set(headers.ContentLength, strconv.Itoa(len(body)))
		w.WriteHeader(status)
		flusher := w.(http.Flusher)
		for i := 0; i < len(body); i += 16 {
			end := i + 16
			if end > len(body) {
				end = len(body)
			}
			w.Write(body[i:end])
			flusher.Flush()
		}
	}))
}

func TestLoader_HTTP(t *testing.T) {
	content := make([]byte, 100)
	for i := range content {
		content[i] = byte(i)
	}
	server := rangeServer(t, content)
	defer server.Close()

	tests := []struct {
		name   string
		rg     loader.ByteRange
		expect func(t *testing.T, l *Loader, cb *callbacks)
	}{
		{
			name: "full resource",
			rg:   loader.FullRange,
			expect: func(t *testing.T, l *Loader, cb *callbacks) {
				assert.Equal(t, [][2]int64{{0, 99}}, cb.completes)
				assert.Equal(t, []int64{100}, cb.contentLengths)
			},
		},
		{
			name: "closed range",
			rg:   loader.ByteRange{From: 20, To: 59},
			expect: func(t *testing.T, l *Loader, cb *callbacks) {
				assert.Equal(t, [][2]int64{{20, 59}}, cb.completes)
				assert.Equal(t, []int64{40}, cb.contentLengths)
			},
		},
		{
			name: "open ended range",
			rg:   loader.ByteRange{From: 90, To: -1},
			expect: func(t *testing.T, l *Loader, cb *callbacks) {
				assert.Equal(t, [][2]int64{{90, 99}}, cb.completes)
			},
		},
		{
			name: "unsatisfiable range",
			rg:   loader.ByteRange{From: 200, To: -1},
			expect: func(t *testing.T, l *Loader, cb *callbacks) {
				assert.Len(t, cb.failures, 1)
				assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, cb.failures[0].info.Code)
				assert.Equal(t, loader.StatusError, l.Status())
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cb := newCallbacks()
			l, err := New(cb.onError, WithTimeout(time.Second))
			require.NoError(t, err)
			cb.register(l)
			defer l.Destroy()

			require.NoError(t, l.Open(context.Background(), server.URL, tc.rg))
			cb.wait(t)

			cb.mu.Lock()
			defer cb.mu.Unlock()
			tc.expect(t, l, cb)
			for _, a := range cb.arrivals {
				assert.Equal(t, content[a.byteStart:a.byteStart+int64(len(a.chunk))], a.chunk)
			}
		})
	}
}

func TestLoader_HTTPEarlyEOF(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, buf, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		defer conn.Close()
		buf.WriteString("HTTP/1.1 206 Partial Content\r\nContent-Length: 1000\r\n\r\n")
		buf.Write(make([]byte, 400))
		buf.Flush()
	}))
	defer server.Close()

	cb := newCallbacks()
	l, err := New(cb.onError)
	require.NoError(t, err)
	cb.register(l)
	defer l.Destroy()

	require.NoError(t, l.Open(context.Background(), server.URL, loader.ByteRange{From: 600, To: 1599}))
	cb.wait(t)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	assert.Equal(t, []failure{{loader.ErrorKindEarlyEOF, loader.ErrorInfo{Code: -1, Message: "chunked stream meet early-eof"}}}, cb.failures)
	assert.EqualValues(t, 400, l.ReceivedLength())
	assert.Equal(t, int64(600), cb.arrivals[0].byteStart)
}

func TestLoader_HTTPTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	cb := newCallbacks()
	l, err := New(cb.onError, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)
	defer l.Destroy()

	require.NoError(t, l.Open(context.Background(), server.URL, loader.FullRange))
	cb.wait(t)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	assert.Equal(t, loader.ErrorKindConnectingTimeout, cb.failures[0].kind)
}
