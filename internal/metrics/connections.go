// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.


package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsCreated tracks total WSFacade peer connections created
	ConnectionsCreated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "created_total",
			Help:      "Total number of peer connections created",
		},
		[]string{"status"}, // success, failure
	)

	// ConnectionsActive tracks currently active peer connections
	ConnectionsActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "active",
			Help:      "Number of currently active peer connections",
		},
	)

	// ConnectionsClosed tracks closed peer connections
	ConnectionsClosed = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "closed_total",
			Help:      "Total number of peer connections closed",
		},
	)

	// ConnectionDuration tracks connection operation duration
	ConnectionDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "duration_seconds",
			Help:      "Peer connection operation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15), // 0.1ms to 1.6s
		},
		[]string{"operation"}, // send, recv
	)

	// ConnectionMessageSize tracks envelope sizes on the wire
	ConnectionMessageSize = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "message_size_bytes",
			Help:      "Size of envelopes sent and received over a connection",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10), // 64B to 16MB
		},
		[]string{"direction"}, // inbound, outbound
	)
)
