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

//go:generate mockgen -destination ./mocks/chunked_client_mock.go -package mocks d7y.io/rangeloader/pkg/source ChunkedClient,Exchange

package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var _ ClientManager = (*ClientManagerImpl)(nil)

// EventHandler receives the events of one exchange. Events are delivered
// sequentially from a single goroutine and OnLoadEnd is always the last one.
type EventHandler interface {
	// OnHeadersReceived is called once the response status is known.
	OnHeadersReceived(statusCode int, statusText string)

	// OnProgress is called for every chunk of the body. total is the
	// advertised length of the response, -1 if the source does not disclose it.
	OnProgress(chunk []byte, total int64)

	// OnTimeout is called when no activity arrived within the request timeout.
	OnTimeout()

	// OnError is called on a transport fault, loaded is the number of body
	// bytes received before the fault.
	OnError(err error, loaded int64)

	// OnLoadEnd is called when the exchange is over, whatever the outcome.
	OnLoadEnd()
}

// Exchange is one request in flight.
type Exchange interface {
	// Abort cancels the exchange. No error or timeout event follows, OnLoadEnd still does.
	Abort()

	// Detach stops the delivery of any further event.
	Detach()
}

// ChunkedClient sends requests whose body is delivered incrementally.
type ChunkedClient interface {
	// Send starts the exchange and returns immediately, events are delivered to handler.
	Send(ctx context.Context, request *Request, handler EventHandler) (Exchange, error)
}

// ClientManager dispatches requests to the client registered for the url scheme.
type ClientManager interface {
	ChunkedClient
	Register(scheme string, client ChunkedClient)
	UnRegister(scheme string)
	IsSupported(rawURL string) bool
}

type ClientManagerImpl struct {
	mu      sync.RWMutex
	clients map[string]ChunkedClient
}

var _defaultMgr = NewManager()

func NewManager() ClientManager {
	return &ClientManagerImpl{
		clients: make(map[string]ChunkedClient),
	}
}

// DefaultManager returns the manager clients register themselves to.
func DefaultManager() ClientManager {
	return _defaultMgr
}

func (clientMgr *ClientManagerImpl) Send(ctx context.Context, request *Request, handler EventHandler) (Exchange, error) {
	client, err := clientMgr.getClient(request.URL)
	if err != nil {
		return nil, err
	}
	return client.Send(ctx, request, handler)
}

func (clientMgr *ClientManagerImpl) IsSupported(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	_, err = clientMgr.getClient(u)
	return err == nil
}

func (clientMgr *ClientManagerImpl) Register(scheme string, client ChunkedClient) {
	clientMgr.mu.Lock()
	defer clientMgr.mu.Unlock()
	clientMgr.clients[strings.ToLower(scheme)] = client
}

func (clientMgr *ClientManagerImpl) UnRegister(scheme string) {
	clientMgr.mu.Lock()
	defer clientMgr.mu.Unlock()
	delete(clientMgr.clients, strings.ToLower(scheme))
}

// getClient get a client from manager with specified scheme.
func (clientMgr *ClientManagerImpl) getClient(u *url.URL) (ChunkedClient, error) {
	if u == nil {
		return nil, errors.New("request url is nil")
	}

	clientMgr.mu.RLock()
	defer clientMgr.mu.RUnlock()
	client, ok := clientMgr.clients[strings.ToLower(u.Scheme)]
	if !ok || client == nil {
		return nil, fmt.Errorf("can not find client for supporting url %s", u)
	}
	return client, nil
}

func Register(scheme string, client ChunkedClient) {
	_defaultMgr.Register(scheme, client)
}

func UnRegister(scheme string) {
	_defaultMgr.UnRegister(scheme)
}

func IsSupported(rawURL string) bool {
	return _defaultMgr.IsSupported(rawURL)
}

func Send(ctx context.Context, request *Request, handler EventHandler) (Exchange, error) {
	return _defaultMgr.Send(ctx, request, handler)
}
