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
	// EnvelopesRouted tracks the router's per-envelope routing decision.
	EnvelopesRouted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "envelopes_routed_total",
			Help:      "Total number of envelopes handed to the router, by decision",
		},
		[]string{"decision"}, // deliver, forward, drop
	)

	// EnvelopesForwarded tracks successfully forwarded envelopes.
	EnvelopesForwarded = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "envelopes_forwarded_total",
			Help:      "Total number of envelopes successfully forwarded to a next hop",
		},
	)

	// EnvelopesRejected tracks envelopes the router dropped, by reason.
	EnvelopesRejected = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "envelopes_rejected_total",
			Help:      "Total number of envelopes dropped by the router, by reason",
		},
		[]string{"reason"}, // no_route, ttl_expired, via_too_deep, duplicate, ...
	)
)
