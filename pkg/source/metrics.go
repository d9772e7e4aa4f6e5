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
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"d7y.io/rangeloader/pkg/types"
)

// Round trip stages observed by WithTraceRoundTripper.
const (
	StageDNSStart          = "DNSStart"
	StageDNSDone           = "DNSDone"
	StageConnectStart      = "ConnectStart"
	StageConnectDone       = "ConnectDone"
	StageTLSHandshakeStart = "TLSHandshakeStart"
	StageTLSHandshakeDone  = "TLSHandshakeDone"
	StageGotConn           = "GotConn"
	StageWroteHeaders      = "WroteHeaders"
	StageWroteRequest      = "WroteRequest"
	StageFirstByte         = "GotFirstResponseByte"
)

// TransportLatency is the seconds elapsed from the start of a round trip to each stage.
var TransportLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: types.MetricsNamespace,
	Subsystem: types.SourceMetricsName,
	Name:      "transport_latency",
	Help:      "Latency of each stage of a source round trip.",
	// From 1 millisecond to about 32 seconds.
	Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
}, []string{"stage"})

func observe(stage string) func(float64) {
	observer := TransportLatency.WithLabelValues(stage)
	return observer.Observe
}

// WithTraceRoundTripper records the latency of each stage of a round trip made through next.
func WithTraceRoundTripper(next http.RoundTripper) http.RoundTripper {
	return promhttp.InstrumentRoundTripperTrace(&promhttp.InstrumentTrace{
		DNSStart:             observe(StageDNSStart),
		DNSDone:              observe(StageDNSDone),
		ConnectStart:         observe(StageConnectStart),
		ConnectDone:          observe(StageConnectDone),
		TLSHandshakeStart:    observe(StageTLSHandshakeStart),
		TLSHandshakeDone:     observe(StageTLSHandshakeDone),
		GotConn:              observe(StageGotConn),
		WroteHeaders:         observe(StageWroteHeaders),
		WroteRequest:         observe(StageWroteRequest),
		GotFirstResponseByte: observe(StageFirstByte),
	}, next)
}
