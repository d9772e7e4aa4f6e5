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

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"d7y.io/rangeloader/client/config"
	"d7y.io/rangeloader/client/rangeget"
	"d7y.io/rangeloader/cmd/dependency"
	"d7y.io/rangeloader/internal/dferrors"
	logger "d7y.io/rangeloader/internal/dflog"
	"d7y.io/rangeloader/pkg/loader"
)

const (
	// RangegetEnvPrefix is the environment prefix for Viper,
	// e.g. RANGEGET_RATE_LIMIT=20MB.
	RangegetEnvPrefix = "rangeget"
)

var cfg *config.RangegetConfig
var cfgFile string

// rangegetDescription is used to describe rangeget command in details.
var rangegetDescription = `rangeget downloads one byte range of a resource over HTTP(s).
The body is written to the output while it streams in. When the connection
breaks or stalls, the download resumes from the last received byte with a
new request, until the retry attempts are exhausted.`

// rangegetExample shows examples in rangeget command, and is used in auto-generated cli docs.
var rangegetExample = `
$ rangeget https://example.com/video/seg-1.ts -o /tmp/seg-1.ts
$ rangeget -u https://example.com/big.iso -r 1073741824- --rate-limit 20MB --show-progress
$ rangeget https://example.com/a.bin -r 0-1048575 -H 'Authorization: Bearer xxx'
`

var rootCmd = &cobra.Command{
	Use:               "rangeget [flags] [url]",
	Short:             "download a byte range of a resource over HTTP",
	Long:              rangegetDescription,
	Example:           rangegetExample,
	Args:              cobra.MaximumNArgs(1),
	DisableAutoGenTag: true, // disable displaying auto generation tag in cli docs
	SilenceUsage:      true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return dferrors.New(dferrors.CodeInvalidArgument, err.Error())
		}

		if err := cfg.Convert(args); err != nil {
			return dferrors.New(dferrors.CodeInvalidArgument, err.Error())
		}

		// Rangeget config validate
		if err := cfg.Validate(); err != nil {
			return dferrors.New(dferrors.CodeInvalidArgument, err.Error())
		}

		// Init logger
		log, err := logger.Init(cfg.Verbose, cfg.Console, cfg.LogDir)
		if err != nil {
			return errors.Wrap(err, "init rangeget logger")
		}
		defer log.Sync()

		return runRangeget(cmd.Context(), log)
	},
}

// Execute will process rangeget.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func init() {
	// Initialize default rangeget config
	cfg = config.NewRangegetConfig()

	// Add flags
	flagSet := rootCmd.Flags()
	flagSet.StringVar(&cfgFile, "config", "", "the path of rangeget's yaml configuration file")
	flagSet.StringVarP(&cfg.URL, "url", "u", cfg.URL, "URL of the resource, only HTTP/HTTPs supported")
	flagSet.StringVarP(&cfg.Output, "output", "o", cfg.Output,
		"destination path of the downloaded range, defaults to the last element of the url path")
	flagSet.StringVarP(&cfg.Range, "range", "r", cfg.Range,
		"inclusive byte range to download, in format of from-to or from-, empty means the whole resource")
	flagSet.DurationVarP(&cfg.Timeout, "timeout", "e", cfg.Timeout,
		"deadline of the whole download including retries, 0 means no deadline")
	flagSet.DurationVar(&cfg.ConnectTimeout, "connect-timeout", cfg.ConnectTimeout,
		"an exchange fails when no response or data arrives within connect-timeout")
	flagSet.Var(&cfg.RateLimit, "rate-limit",
		"network bandwidth rate limit, in format of G(B)/g/M(B)/m/K(B)/k/B, pure number will also be parsed as Byte, 0 means unlimited")
	flagSet.Var(&cfg.ChunkSize, "chunk-size", "maximum size of one chunk read from the network")
	flagSet.IntVar(&cfg.RetryAttempts, "retry-attempts", cfg.RetryAttempts,
		"number of exchanges tried before giving up, the range resumes from the received bytes")
	flagSet.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "initial backoff between two exchanges")
	flagSet.DurationVar(&cfg.RetryMaxBackoff, "retry-max-backoff", cfg.RetryMaxBackoff, "maximum backoff between two exchanges")
	flagSet.StringArrayVarP(&cfg.Header, "header", "H", cfg.Header, "http header, eg: --header='Accept: *' --header='Host: abc'")
	flagSet.StringVar(&cfg.Digest, "digest", cfg.Digest, "verify the output after download, in format of sha256:<hex> or md5:<hex>")
	flagSet.BoolVarP(&cfg.ShowProgress, "show-progress", "b", cfg.ShowProgress, "show progress bar, conflict with --console")
	flagSet.BoolVar(&cfg.Console, "console", cfg.Console, "print log on console")
	flagSet.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "print verbose log")
	flagSet.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "log directory of rangeget")
	flagSet.StringVar(&cfg.TransportOption, "transport-option", cfg.TransportOption, "the path of a yaml file tuning the http transport")
	flagSet.BoolVarP(&cfg.Insecure, "insecure", "k", cfg.Insecure, "skip the verification of the server certificate")
	flagSet.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve prometheus metrics on the address while downloading, eg: :8000")

	// Bind flags, so that flags take precedence over env and config file
	if err := viper.BindPFlags(flagSet); err != nil {
		panic(errors.Wrap(err, "bind flags to viper"))
	}

	rootCmd.AddCommand(dependency.VersionCmd)
}

// initConfig reads the config file and env into cfg, flags set on the command line win.
func initConfig() error {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "read config file %s", cfgFile)
		}
	}

	viper.SetEnvPrefix(RangegetEnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// Unmarshal config
	if err := viper.Unmarshal(cfg, viper.DecodeHook(config.DecodeHook())); err != nil {
		return errors.Wrap(err, "cannot unmarshal config")
	}
	return nil
}

func runRangeget(ctx context.Context, log *logger.SugaredLoggerOnWith) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Debugf("rangeget option(debug only, can not use as config):\n%s", cfg)

	if cfg.MetricsAddr != "" {
		server := newMetricsServer(cfg.MetricsAddr, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warnf("shutdown metrics server error: %s", err)
			}
		}()
	}

	result, err := rangeget.Download(ctx, cfg, log)
	if err != nil {
		log.Errorf("download %s error: %s", cfg.URL, err)
		if result != nil {
			fmt.Printf("Download failed after %d attempts, received %s\n", result.Attempts, units.HumanSize(float64(result.Received)))
		}
		return err
	}

	fmt.Printf("Download success, length: %s, attempts: %d, time cost: %dms\n",
		units.HumanSize(float64(result.Received)), result.Attempts, result.Cost.Milliseconds())
	fmt.Printf("Output: %s\n", cfg.Output)
	return nil
}

func newMetricsServer(addr string, log *logger.SugaredLoggerOnWith) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		log.Infof("serve metrics at http://%s/metrics", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warnf("serve metrics error: %s", err)
		}
	}()
	return server
}

// exitCode maps err to the exit status of the command.
func exitCode(err error) int {
	var e *loader.Error
	if errors.As(err, &e) {
		return int(dferrors.CodeDownloadFailed)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return int(dferrors.CodeDownloadFailed)
	}
	return dferrors.ExitCode(err)
}
