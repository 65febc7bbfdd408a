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
	"sync"
	"time"
)

// MetricsCollector collects lightweight in-process metrics for a ToM
// runtime, independent of the Prometheus vectors in the rest of this
// package: a cheap rolling window kept for CLI status output, where
// scraping a registry would be overkill.
type MetricsCollector struct {
	mu sync.RWMutex

	// Counters
	SignatureCount       int64
	VerificationCount    int64
	SuccessfulVerifies   int64
	FailedVerifies       int64
	RouteResolutions     int64
	CacheHits            int64
	CacheMisses          int64
	BackupReplications   int64
	BackupReplicationErrors int64

	// Timing metrics (in microseconds)
	SignatureTimes     []int64
	VerificationTimes  []int64
	ReplicationTimes   []int64
	RouteResolutionTimes []int64

	// Start time for uptime calculation
	startTime time.Time

	// Configuration
	maxTimingSamples int
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		startTime:        time.Now(),
		maxTimingSamples: 1000, // Keep last 1000 samples for each timing metric
	}
}

// RecordSignature records a signature operation
func (mc *MetricsCollector) RecordSignature(duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.SignatureCount++
	mc.recordTiming(&mc.SignatureTimes, duration)
}

// RecordVerification records a verification operation
func (mc *MetricsCollector) RecordVerification(success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.VerificationCount++
	if success {
		mc.SuccessfulVerifies++
	} else {
		mc.FailedVerifies++
	}
	mc.recordTiming(&mc.VerificationTimes, duration)
}

// RecordRouteResolution records a next-hop relay selection.
func (mc *MetricsCollector) RecordRouteResolution(cached bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.RouteResolutions++
	if cached {
		mc.CacheHits++
	} else {
		mc.CacheMisses++
	}
	mc.recordTiming(&mc.RouteResolutionTimes, duration)
}

// RecordBackupReplication records a store-and-forward replication call.
func (mc *MetricsCollector) RecordBackupReplication(success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.BackupReplications++
	if !success {
		mc.BackupReplicationErrors++
	}
	mc.recordTiming(&mc.ReplicationTimes, duration)
}

// recordTiming records a timing sample
func (mc *MetricsCollector) recordTiming(timings *[]int64, duration time.Duration) {
	microseconds := duration.Microseconds()
	*timings = append(*timings, microseconds)

	// Keep only last N samples
	if len(*timings) > mc.maxTimingSamples {
		*timings = (*timings)[len(*timings)-mc.maxTimingSamples:]
	}
}

// GetSnapshot returns a snapshot of current metrics
func (mc *MetricsCollector) GetSnapshot() *MetricsSnapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return &MetricsSnapshot{
		Timestamp:               time.Now(),
		Uptime:                  time.Since(mc.startTime),
		SignatureCount:          mc.SignatureCount,
		VerificationCount:       mc.VerificationCount,
		SuccessfulVerifies:      mc.SuccessfulVerifies,
		FailedVerifies:          mc.FailedVerifies,
		RouteResolutions:        mc.RouteResolutions,
		CacheHits:               mc.CacheHits,
		CacheMisses:             mc.CacheMisses,
		BackupReplications:      mc.BackupReplications,
		BackupReplicationErrors: mc.BackupReplicationErrors,
		AvgSignatureTime:        calculateAverage(mc.SignatureTimes),
		AvgVerificationTime:     calculateAverage(mc.VerificationTimes),
		AvgReplicationTime:      calculateAverage(mc.ReplicationTimes),
		AvgRouteResolutionTime:  calculateAverage(mc.RouteResolutionTimes),
		P95SignatureTime:        calculatePercentile(mc.SignatureTimes, 95),
		P95VerificationTime:     calculatePercentile(mc.VerificationTimes, 95),
		P95ReplicationTime:      calculatePercentile(mc.ReplicationTimes, 95),
		P95RouteResolutionTime:  calculatePercentile(mc.RouteResolutionTimes, 95),
	}
}

// Reset resets all metrics
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.SignatureCount = 0
	mc.VerificationCount = 0
	mc.SuccessfulVerifies = 0
	mc.FailedVerifies = 0
	mc.RouteResolutions = 0
	mc.CacheHits = 0
	mc.CacheMisses = 0
	mc.BackupReplications = 0
	mc.BackupReplicationErrors = 0

	mc.SignatureTimes = nil
	mc.VerificationTimes = nil
	mc.ReplicationTimes = nil
	mc.RouteResolutionTimes = nil

	mc.startTime = time.Now()
}

// MetricsSnapshot represents a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	Timestamp time.Time
	Uptime    time.Duration

	// Counters
	SignatureCount          int64
	VerificationCount       int64
	SuccessfulVerifies      int64
	FailedVerifies          int64
	RouteResolutions        int64
	CacheHits               int64
	CacheMisses             int64
	BackupReplications      int64
	BackupReplicationErrors int64

	// Timing averages (microseconds)
	AvgSignatureTime       float64
	AvgVerificationTime    float64
	AvgReplicationTime     float64
	AvgRouteResolutionTime float64

	// 95th percentile timings (microseconds)
	P95SignatureTime       int64
	P95VerificationTime    int64
	P95ReplicationTime     int64
	P95RouteResolutionTime int64
}

// GetCacheHitRate returns the route-resolution cache hit rate as a percentage
func (ms *MetricsSnapshot) GetCacheHitRate() float64 {
	total := ms.CacheHits + ms.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(ms.CacheHits) / float64(total) * 100
}

// GetVerificationSuccessRate returns the verification success rate as a percentage
func (ms *MetricsSnapshot) GetVerificationSuccessRate() float64 {
	if ms.VerificationCount == 0 {
		return 0
	}
	return float64(ms.SuccessfulVerifies) / float64(ms.VerificationCount) * 100
}

// GetBackupReplicationErrorRate returns the backup replication error rate as a percentage
func (ms *MetricsSnapshot) GetBackupReplicationErrorRate() float64 {
	if ms.BackupReplications == 0 {
		return 0
	}
	return float64(ms.BackupReplicationErrors) / float64(ms.BackupReplications) * 100
}

// Helper functions

func calculateAverage(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum int64
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

func calculatePercentile(values []int64, percentile int) int64 {
	if len(values) == 0 {
		return 0
	}

	// Simple implementation - for production, use a proper percentile algorithm
	// This is an approximation
	index := len(values) * percentile / 100
	if index >= len(values) {
		index = len(values) - 1
	}

	// Create a copy and sort (simple bubble sort for small datasets)
	sorted := make([]int64, len(values))
	copy(sorted, values)

	for i := 0; i < len(sorted)-1; i++ {
		for j := 0; j < len(sorted)-i-1; j++ {
			if sorted[j] > sorted[j+1] {
				sorted[j], sorted[j+1] = sorted[j+1], sorted[j]
			}
		}
	}

	return sorted[index]
}

// Global metrics collector instance
var globalCollector = NewMetricsCollector()

// GetGlobalCollector returns the global metrics collector
func GetGlobalCollector() *MetricsCollector {
	return globalCollector
}
