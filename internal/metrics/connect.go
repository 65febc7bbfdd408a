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
	// ConnectsInitiated tracks WebSocket dial/upgrade attempts.
	ConnectsInitiated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connects",
			Name:      "initiated_total",
			Help:      "Total number of transport connect attempts",
		},
		[]string{"role"}, // dialer, acceptor
	)

	// ConnectsCompleted tracks completed WebSocket upgrades.
	ConnectsCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connects",
			Name:      "completed_total",
			Help:      "Total number of transport connects completed",
		},
		[]string{"status"}, // success, failure
	)

	// ConnectsFailed tracks failed connects by error type.
	ConnectsFailed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connects",
			Name:      "failed_total",
			Help:      "Total number of failed transport connects by error type",
		},
		[]string{"error_type"}, // timeout, refused, tls
	)

	// ConnectDuration tracks connect stage durations.
	ConnectDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "connects",
			Name:      "duration_seconds",
			Help:      "Transport connect stage duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		},
		[]string{"stage"}, // dial, upgrade
	)
)
