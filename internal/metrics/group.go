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
	// GroupPayloadsSent tracks group-protocol payloads sent, whether
	// unicast (group.Send) or fanned out (group.Broadcast).
	GroupPayloadsSent = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "group",
			Name:      "payloads_sent_total",
			Help:      "Total number of group-protocol payloads sent, by dispatch kind",
		},
		[]string{"kind"}, // unicast, broadcast
	)

	// GroupFanOutSize tracks how many recipients a single hub broadcast
	// reached.
	GroupFanOutSize = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "group",
			Name:      "fan_out_size",
			Help:      "Number of recipients reached by a single group broadcast",
			Buckets:   prometheus.LinearBuckets(1, 4, 10), // 1 to 37 members
		},
	)

	// GroupHubElections tracks hub election outcomes.
	GroupHubElections = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "group",
			Name:      "hub_elections_total",
			Help:      "Total number of group hub elections, by outcome",
		},
		[]string{"outcome"}, // elected_self, elected_other, no_candidate
	)
)
