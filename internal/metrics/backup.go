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
	// BackupStoreSize tracks the number of envelopes currently held by
	// this node's store-and-forward backup coordinator.
	BackupStoreSize = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "store_size",
			Help:      "Number of envelopes currently held in the store-and-forward backup store",
		},
	)

	// BackupRedeliveries tracks backed-up envelopes redelivered once
	// their recipient came back online.
	BackupRedeliveries = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "redeliveries_total",
			Help:      "Total number of backed-up envelopes redelivered to a recipient",
		},
	)

	// BackupExpirations tracks backed-up envelopes dropped for age.
	BackupExpirations = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "expirations_total",
			Help:      "Total number of backed-up envelopes expired before redelivery",
		},
	)
)
