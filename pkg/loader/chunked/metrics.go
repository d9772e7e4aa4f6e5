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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"d7y.io/rangeloader/pkg/types"
)

const (
	exchangeResultComplete = "complete"
	exchangeResultAborted  = "aborted"
)

// Variables declared for metrics.
var (
	ReceivedBytesCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.ChunkedLoaderMetricsName,
		Name:      "received_bytes_total",
		Help:      "Counter of the number of bytes delivered by chunked loaders.",
	})

	ExchangeCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.ChunkedLoaderMetricsName,
		Name:      "exchange_total",
		Help:      "Counter of the number of finished exchanges.",
	}, []string{"result"})

	ActiveExchanges = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: types.MetricsNamespace,
		Subsystem: types.ChunkedLoaderMetricsName,
		Name:      "active_exchanges",
		Help:      "Gauge of the number of exchanges in flight.",
	})
)
