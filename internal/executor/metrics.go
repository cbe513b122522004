// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voxctl_execution_duration_seconds",
			Help:    "Duration of command executions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action_type", "status"},
	)

	executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxctl_executions_total",
			Help: "Total command executions by action type and status",
		},
		[]string{"action_type", "status"},
	)
)

// recordMetrics records one execution outcome.
func recordMetrics(actionType string, result *Result) {
	status := "success"
	if !result.Success {
		status = "failure"
	}
	executionsTotal.WithLabelValues(actionType, status).Inc()
	executionDuration.WithLabelValues(actionType, status).Observe(result.Duration)
}
