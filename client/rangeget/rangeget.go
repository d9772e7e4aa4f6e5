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

// Package rangeget downloads one byte range of a resource into a file,
// resuming with a fresh loader after recoverable failures.
package rangeget

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"d7y.io/rangeloader/client/config"
	"d7y.io/rangeloader/internal/dferrors"
	logger "d7y.io/rangeloader/internal/dflog"
	"d7y.io/rangeloader/pkg/digest"
	"d7y.io/rangeloader/pkg/loader"
	"d7y.io/rangeloader/pkg/loader/chunked"
	"d7y.io/rangeloader/pkg/math"
	"d7y.io/rangeloader/pkg/retry"
	"d7y.io/rangeloader/pkg/source"
	"d7y.io/rangeloader/pkg/source/httpprotocol"
)

// LockSuffix is appended to the output path to name its lock file.
const LockSuffix = ".lock"

// Result summarizes a download.
type Result struct {
	// Received is the number of bytes written to the output.
	Received int64

	// ContentLength is the length of the requested range, -1 if the server never told.
	ContentLength int64

	// Attempts is the number of exchanges opened.
	Attempts int

	// Cost is the duration of the whole download.
	Cost time.Duration
}

type downloader struct {
	cfg      *config.RangegetConfig
	log      *logger.SugaredLoggerOnWith
	registry *loader.Registry
	rg       loader.ByteRange
	output   *os.File
	bar      *progressbar.ProgressBar

	written       *atomic.Int64
	contentLength *atomic.Int64
}

// Download fetches the configured range of cfg.URL into cfg.Output. The config
// must have been validated.
func Download(ctx context.Context, cfg *config.RangegetConfig, log *logger.SugaredLoggerOnWith) (result *Result, err error) {
	if log == nil {
		log = logger.Nop()
	}

	rg, err := cfg.ParseRange()
	if err != nil {
		return nil, dferrors.Newf(dferrors.CodeInvalidArgument, "range %s: %v", cfg.Range, err)
	}

	header, err := cfg.ParseHeader()
	if err != nil {
		return nil, dferrors.New(dferrors.CodeInvalidArgument, err.Error())
	}

	registry, err := NewRegistry(cfg, header, log)
	if err != nil {
		return nil, dferrors.New(dferrors.CodeInvalidArgument, err.Error())
	}

	lock := flock.New(cfg.Output + LockSuffix)
	if ok, err := lock.TryLock(); err != nil {
		return nil, dferrors.Newf(dferrors.CodeOutputFailed, "lock output %s: %v", cfg.Output, err)
	} else if !ok {
		return nil, dferrors.Newf(dferrors.CodeOutputFailed, "lock file %s failed, output is used by another download", lock.Path())
	}
	defer func() {
		if uerr := lock.Unlock(); uerr != nil {
			err = multierror.Append(err, errors.Wrap(uerr, "unlock output"))
		}
		if rerr := os.Remove(lock.Path()); rerr != nil && !os.IsNotExist(rerr) {
			err = multierror.Append(err, errors.Wrap(rerr, "remove lock file"))
		}
	}()

	output, err := os.OpenFile(cfg.Output, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, dferrors.Newf(dferrors.CodeOutputFailed, "open %s: %v", cfg.Output, err)
	}
	defer func() {
		if cerr := output.Close(); cerr != nil {
			err = multierror.Append(err, errors.Wrap(cerr, "close output"))
		}
	}()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	d := &downloader{
		cfg:           cfg,
		log:           log,
		registry:      registry,
		rg:            rg,
		output:        output,
		written:       atomic.NewInt64(0),
		contentLength: atomic.NewInt64(-1),
	}
	if rg.To != -1 {
		d.contentLength.Store(rg.To - rg.From + 1)
	}
	if cfg.ShowProgress {
		d.bar = progressbar.DefaultBytes(d.contentLength.Load(), "Downloading")
	}

	return d.run(ctx)
}

func (d *downloader) run(ctx context.Context) (*Result, error) {
	var (
		start    = time.Now()
		attempts int
		policy   = retry.Policy{
			Attempts:   d.cfg.RetryAttempts,
			Backoff:    d.cfg.RetryBackoff,
			MaxBackoff: d.cfg.RetryMaxBackoff,
		}
	)

	err := retry.Run(ctx, policy, func(attempt int) (bool, error) {
		attempts = attempt
		rg := loader.ByteRange{From: d.rg.From + d.written.Load(), To: d.rg.To}
		if attempt > 1 {
			d.log.Infof("resume download from %d, attempt %d", rg.From, attempt)
		}

		err := d.fetch(ctx, rg)
		if err == nil {
			return false, nil
		}
		d.log.Warnf("attempt %d of range %s failed: %v", attempt, rg, err)
		return !retryable(err), err
	})

	result := &Result{
		Received:      d.written.Load(),
		ContentLength: d.contentLength.Load(),
		Attempts:      attempts,
		Cost:          time.Since(start),
	}

	if err != nil {
		if d.bar != nil {
			d.bar.Describe("Failed")
		}
		return result, errors.Wrapf(err, "download %s", d.cfg.URL)
	}

	if d.cfg.Digest != "" {
		if err := d.verify(); err != nil {
			return result, err
		}
	}

	if d.bar != nil {
		d.bar.Describe("Downloaded")
		_ = d.bar.Finish()
	}
	d.log.Infof("download %s to %s success, received %d bytes in %d attempts, cost %dms",
		d.cfg.URL, d.cfg.Output, result.Received, result.Attempts, result.Cost.Milliseconds())
	return result, nil
}

// verify checks the output against the configured digest.
func (d *downloader) verify() error {
	expected, err := digest.Parse(d.cfg.Digest)
	if err != nil {
		return dferrors.New(dferrors.CodeInvalidArgument, err.Error())
	}
	if err := digest.VerifyFile(d.cfg.Output, expected); err != nil {
		return dferrors.Newf(dferrors.CodeDownloadFailed, "verify %s: %v", d.cfg.Output, err)
	}
	d.log.Infof("output %s matches digest %s", d.cfg.Output, expected)
	return nil
}

// fetch runs one exchange of rg and blocks until it completes, fails or ctx is done.
func (d *downloader) fetch(ctx context.Context, rg loader.ByteRange) error {
	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}

	l, err := d.registry.New(d.cfg.URL, func(kind loader.ErrorKind, info loader.ErrorInfo) {
		finish(loader.NewError(kind, info))
	})
	if err != nil {
		return dferrors.New(dferrors.CodeInvalidArgument, err.Error())
	}
	defer l.Destroy()

	resumed := rg.From > d.rg.From
	l.OnContentLengthKnown(func(total int64) {
		if !resumed && d.contentLength.CAS(-1, total) {
			if d.bar != nil {
				d.bar.ChangeMax64(total)
			}
			return
		}

		// A reply of another length than the rest of the range means the
		// server ignored the Range header.
		if expected := d.contentLength.Load(); expected >= 0 && total != expected-d.written.Load() {
			l.Abort()
			finish(dferrors.Newf(dferrors.CodeDownloadFailed,
				"server returned %d bytes for range %s, expected %d", total, rg, expected-d.written.Load()))
		}
	})

	l.OnDataArrival(func(chunk []byte, byteStart, _ int64) {
		if d.rg.To != -1 && byteStart+int64(len(chunk))-1 > d.rg.To {
			l.Abort()
			finish(dferrors.Newf(dferrors.CodeDownloadFailed,
				"server sent bytes %d-%d beyond range %s", byteStart, byteStart+int64(len(chunk))-1, d.rg))
			return
		}

		if _, err := d.output.WriteAt(chunk, byteStart-d.rg.From); err != nil {
			l.Abort()
			finish(dferrors.Newf(dferrors.CodeOutputFailed, "write %s: %v", d.cfg.Output, err))
			return
		}
		d.written.Add(int64(len(chunk)))
		if d.bar != nil {
			_ = d.bar.Add(len(chunk))
		}
	})

	l.OnComplete(func(from, to int64) {
		d.log.Debugf("range %d-%d complete", from, to)
		finish(nil)
	})

	if err := l.Open(ctx, d.cfg.URL, rg); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		l.Abort()
		return ctx.Err()
	}
}

// retryable reports whether a new exchange may recover from err.
func retryable(err error) bool {
	var e *loader.Error
	if errors.As(err, &e) {
		return e.Kind != loader.ErrorKindHTTPStatusCodeInvalid
	}
	return false
}

// NewRegistry builds a loader registry whose chunked backend speaks http and
// https through a transport tuned by cfg.
func NewRegistry(cfg *config.RangegetConfig, header source.Header, log *logger.SugaredLoggerOnWith) (*loader.Registry, error) {
	transport := source.DefaultTransport()
	if cfg.TransportOption != "" {
		data, err := os.ReadFile(cfg.TransportOption)
		if err != nil {
			return nil, errors.Wrapf(err, "read transport option %s", cfg.TransportOption)
		}
		if err := source.UpdateTransportOption(transport, data); err != nil {
			return nil, err
		}
	}
	if cfg.Insecure {
		transport.TLSClientConfig.InsecureSkipVerify = true
	}

	opts := []httpprotocol.HTTPSourceClientOption{
		httpprotocol.WithHTTPClient(&http.Client{Transport: source.WithTraceRoundTripper(transport)}),
		httpprotocol.WithChunkSize(int(cfg.ChunkSize)),
	}
	if cfg.RateLimit > 0 {
		burst := math.Max(int(cfg.RateLimit), int(cfg.ChunkSize), httpprotocol.DefaultChunkSize)
		opts = append(opts, httpprotocol.WithRateLimiter(rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)))
	}
	client := httpprotocol.NewHTTPSourceClient(opts...)

	manager := source.NewManager()
	manager.Register(httpprotocol.HTTPClient, client)
	manager.Register(httpprotocol.HTTPSClient, client)

	registry := loader.NewRegistry()
	registry.Register(chunked.NewBackend(
		chunked.WithClient(manager),
		chunked.WithTimeout(cfg.ConnectTimeout),
		chunked.WithLogger(log),
		chunked.WithHeader(header),
	))
	return registry, nil
}

func (r *Result) String() string {
	return fmt.Sprintf("received: %d bytes, attempts: %d, time cost: %dms", r.Received, r.Attempts, r.Cost.Milliseconds())
}
