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

// Package config holds the runtime configuration of rangeget.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"d7y.io/rangeloader/internal/dferrors"
	"d7y.io/rangeloader/pkg/digest"
	"d7y.io/rangeloader/pkg/loader"
	nethttp "d7y.io/rangeloader/pkg/net/http"
	neturl "d7y.io/rangeloader/pkg/net/url"
	"d7y.io/rangeloader/pkg/source"
	"d7y.io/rangeloader/pkg/unit"
)

// RangegetConfig holds all the runtime config information.
type RangegetConfig struct {
	// URL download URL.
	URL string `yaml:"url,omitempty" mapstructure:"url,omitempty"`

	// Output full output path.
	Output string `yaml:"output,omitempty" mapstructure:"output,omitempty"`

	// Range is the inclusive byte span to fetch, like 0-1023 or 1024-.
	// Empty means the whole resource.
	Range string `yaml:"range,omitempty" mapstructure:"range,omitempty"`

	// Timeout is the deadline of the whole download, zero means no deadline.
	Timeout time.Duration `yaml:"timeout,omitempty" mapstructure:"timeout,omitempty"`

	// ConnectTimeout is the inactivity timeout of one exchange.
	ConnectTimeout time.Duration `yaml:"connect-timeout,omitempty" mapstructure:"connect-timeout,omitempty"`

	// RateLimit limits the download rate per second, zero means unlimited.
	RateLimit unit.Bytes `yaml:"rate-limit,omitempty" mapstructure:"rate-limit,omitempty"`

	// ChunkSize is the maximum size of one delivered chunk.
	ChunkSize unit.Bytes `yaml:"chunk-size,omitempty" mapstructure:"chunk-size,omitempty"`

	// RetryAttempts is the number of exchanges tried before giving up.
	RetryAttempts int `yaml:"retry-attempts,omitempty" mapstructure:"retry-attempts,omitempty"`

	// RetryBackoff is the initial backoff between two exchanges.
	RetryBackoff time.Duration `yaml:"retry-backoff,omitempty" mapstructure:"retry-backoff,omitempty"`

	// RetryMaxBackoff bounds the backoff between two exchanges.
	RetryMaxBackoff time.Duration `yaml:"retry-max-backoff,omitempty" mapstructure:"retry-max-backoff,omitempty"`

	// Header of http request.
	// eg: --header='Accept: *' --header='Host: abc'.
	Header []string `yaml:"header,omitempty" mapstructure:"header,omitempty"`

	// Digest verifies the output after download, in format of sha256:<hex> or md5:<hex>.
	Digest string `yaml:"digest,omitempty" mapstructure:"digest,omitempty"`

	// ShowProgress shows progress bar, it's conflict with `--console`.
	ShowProgress bool `yaml:"show-progress,omitempty" mapstructure:"show-progress,omitempty"`

	// Console prints log on console.
	Console bool `yaml:"console,omitempty" mapstructure:"console,omitempty"`

	// Verbose enables debug log.
	Verbose bool `yaml:"verbose,omitempty" mapstructure:"verbose,omitempty"`

	// LogDir is log directory of rangeget.
	LogDir string `yaml:"log-dir,omitempty" mapstructure:"log-dir,omitempty"`

	// TransportOption is the path of a yaml file tuning the http transport.
	TransportOption string `yaml:"transport-option,omitempty" mapstructure:"transport-option,omitempty"`

	// Insecure skips the verification of the server certificate.
	Insecure bool `yaml:"insecure,omitempty" mapstructure:"insecure,omitempty"`

	// MetricsAddr serves prometheus metrics when set, like :8000.
	MetricsAddr string `yaml:"metrics-addr,omitempty" mapstructure:"metrics-addr,omitempty"`
}

// NewRangegetConfig returns the default config.
func NewRangegetConfig() *RangegetConfig {
	return &RangegetConfig{
		ConnectTimeout:  DefaultConnectTimeout,
		ChunkSize:       DefaultChunkSize,
		RetryAttempts:   DefaultRetryAttempts,
		RetryBackoff:    DefaultRetryBackoff,
		RetryMaxBackoff: DefaultRetryMaxBackoff,
		LogDir:          DefaultLogDir(),
	}
}

func (cfg *RangegetConfig) Validate() error {
	if cfg == nil {
		return errors.Wrap(dferrors.ErrInvalidArgument, "runtime config")
	}

	if !neturl.IsValid(cfg.URL) {
		return errors.Wrapf(dferrors.ErrInvalidArgument, "url %s", cfg.URL)
	}

	if _, err := cfg.ParseRange(); err != nil {
		return errors.Wrapf(dferrors.ErrInvalidArgument, "range %s: %v", cfg.Range, err)
	}

	if _, err := cfg.ParseHeader(); err != nil {
		return err
	}

	if cfg.Digest != "" {
		if _, err := digest.Parse(cfg.Digest); err != nil {
			return errors.Wrapf(dferrors.ErrInvalidArgument, "%v", err)
		}
	}

	if cfg.RetryAttempts < 1 {
		return errors.Wrapf(dferrors.ErrInvalidArgument, "retry attempts %d", cfg.RetryAttempts)
	}

	if cfg.RateLimit < 0 || cfg.ChunkSize < 0 {
		return errors.Wrapf(dferrors.ErrInvalidArgument, "rate limit %s, chunk size %s", cfg.RateLimit, cfg.ChunkSize)
	}

	if err := cfg.checkOutput(); err != nil {
		return errors.Wrapf(dferrors.ErrInvalidArgument, "output: %v", err)
	}

	return nil
}

func (cfg *RangegetConfig) Convert(args []string) error {
	if cfg.URL == "" && len(args) > 0 {
		cfg.URL = args[0]
	}

	if cfg.Output != "" {
		output, err := filepath.Abs(cfg.Output)
		if err != nil {
			return err
		}
		cfg.Output = output
	}

	if cfg.Console {
		cfg.ShowProgress = false
	}

	return nil
}

// ParseRange returns the configured byte range.
func (cfg *RangegetConfig) ParseRange() (loader.ByteRange, error) {
	if strings.TrimSpace(cfg.Range) == "" {
		return loader.FullRange, nil
	}

	from, to, err := nethttp.ParseSpan(cfg.Range)
	if err != nil {
		return loader.ByteRange{}, err
	}

	rg := loader.ByteRange{From: from, To: to}
	if err := rg.Validate(); err != nil {
		return loader.ByteRange{}, err
	}
	return rg, nil
}

// ParseHeader parses the `Key: Value` headers.
func (cfg *RangegetConfig) ParseHeader() (source.Header, error) {
	header := source.Header{}
	for _, h := range cfg.Header {
		idx := strings.Index(h, ":")
		if idx <= 0 {
			return nil, errors.Wrapf(dferrors.ErrInvalidHeader, "header format error: %s", h)
		}

		key, value := strings.TrimSpace(h[:idx]), strings.TrimSpace(h[idx+1:])
		if key == "" || value == "" {
			return nil, errors.Wrapf(dferrors.ErrInvalidHeader, "header format error: %s", h)
		}
		header.Set(key, value)
	}
	return header, nil
}

func (cfg *RangegetConfig) String() string {
	js, _ := json.Marshal(cfg)
	return string(js)
}

// This function must be called after the url is validated.
func (cfg *RangegetConfig) checkOutput() error {
	if strings.TrimSpace(cfg.Output) == "" {
		u, _ := url.Parse(cfg.URL)
		name := filepath.Base(u.Path)
		if name == "." || name == "/" {
			return fmt.Errorf("get output from url[%s] error", cfg.URL)
		}
		cfg.Output = name
	}

	if !filepath.IsAbs(cfg.Output) {
		absPath, err := filepath.Abs(cfg.Output)
		if err != nil {
			return fmt.Errorf("get absolute path[%s] error: %v", cfg.Output, err)
		}
		cfg.Output = absPath
	}

	if f, err := os.Stat(cfg.Output); err == nil && f.IsDir() {
		return fmt.Errorf("path[%s] is directory but requires file path", cfg.Output)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Output), 0755); err != nil {
		return err
	}
	return nil
}

// DecodeHook converts config strings into durations and byte sizes.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToBytesHookFunc(),
	)
}

func stringToBytesHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(unit.Bytes(0)) {
			return data, nil
		}
		return unit.ParseBytes(data.(string))
	}
}
