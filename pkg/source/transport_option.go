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

package source

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ProxyEnv names the environment variable holding the proxy of the default transport.
var ProxyEnv = "RANGELOADER_SOURCE_PROXY"

// TransportOption tunes an http.Transport, zero values keep the transport's own settings.
type TransportOption struct {
	Proxy                 string        `yaml:"proxy"`
	DialTimeout           time.Duration `yaml:"dialTimeout"`
	KeepAlive             time.Duration `yaml:"keepAlive"`
	MaxIdleConns          int           `yaml:"maxIdleConns"`
	MaxConnsPerHost       int           `yaml:"maxConnsPerHost"`
	IdleConnTimeout       time.Duration `yaml:"idleConnTimeout"`
	ResponseHeaderTimeout time.Duration `yaml:"responseHeaderTimeout"`
	TLSHandshakeTimeout   time.Duration `yaml:"tlsHandshakeTimeout"`
	ExpectContinueTimeout time.Duration `yaml:"expectContinueTimeout"`
	InsecureSkipVerify    bool          `yaml:"insecureSkipVerify"`
}

// ParseTransportOption decodes a yaml encoded TransportOption.
func ParseTransportOption(optionYaml []byte) (*TransportOption, error) {
	opt := &TransportOption{}
	if err := yaml.Unmarshal(optionYaml, opt); err != nil {
		return nil, errors.Wrap(err, "parse transport option")
	}

	if opt.Proxy != "" {
		if _, err := url.Parse(opt.Proxy); err != nil {
			return nil, errors.Wrapf(err, "parse proxy %s", opt.Proxy)
		}
	}
	return opt, nil
}

// Apply sets the non-zero options on transport.
func (opt *TransportOption) Apply(transport *http.Transport) {
	if opt.Proxy != "" {
		if proxy, err := url.Parse(opt.Proxy); err == nil {
			transport.Proxy = http.ProxyURL(proxy)
		}
	}

	if opt.DialTimeout > 0 || opt.KeepAlive > 0 {
		dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		if opt.DialTimeout > 0 {
			dialer.Timeout = opt.DialTimeout
		}
		if opt.KeepAlive > 0 {
			dialer.KeepAlive = opt.KeepAlive
		}
		transport.DialContext = dialer.DialContext
	}

	setInt(&transport.MaxIdleConns, opt.MaxIdleConns)
	setInt(&transport.MaxConnsPerHost, opt.MaxConnsPerHost)
	setDuration(&transport.IdleConnTimeout, opt.IdleConnTimeout)
	setDuration(&transport.ResponseHeaderTimeout, opt.ResponseHeaderTimeout)
	setDuration(&transport.TLSHandshakeTimeout, opt.TLSHandshakeTimeout)
	setDuration(&transport.ExpectContinueTimeout, opt.ExpectContinueTimeout)

	if opt.InsecureSkipVerify {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{}
		}
		transport.TLSClientConfig.InsecureSkipVerify = true
	}
}

// UpdateTransportOption applies the yaml encoded options to transport.
func UpdateTransportOption(transport *http.Transport, optionYaml []byte) error {
	opt, err := ParseTransportOption(optionYaml)
	if err != nil {
		return err
	}

	opt.Apply(transport)
	return nil
}

// DefaultTransport returns the transport used for range requests. Compression
// is disabled so that byte offsets refer to the raw resource.
func DefaultTransport() *http.Transport {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		DisableCompression:    true,
		TLSClientConfig:       &tls.Config{},
		Proxy:                 http.ProxyFromEnvironment,
	}

	if proxyEnv := os.Getenv(ProxyEnv); proxyEnv != "" {
		if proxy, err := url.Parse(proxyEnv); err == nil {
			transport.Proxy = http.ProxyURL(proxy)
		}
	}
	return transport
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}
