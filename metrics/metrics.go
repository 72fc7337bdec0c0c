// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"errors"

	"github.com/luxfi/metric"
)

const opLabel = "op"

var (
	_ Metrics = (*metricsImpl)(nil)

	opLabels = []string{opLabel}
)

// Metrics tracks safe operations.
type Metrics interface {
	metric.APIInterceptor

	// MarkAccepted records a committed operation by name.
	MarkAccepted(op string)
	// MarkExecutionFailed records an execution attempt that consumed its
	// proposal without a successful executor return.
	MarkExecutionFailed()
}

type metricsImpl struct {
	numOps              metric.CounterVec
	numFailedExecutions metric.Counter

	metric.APIInterceptor
}

func (m *metricsImpl) MarkAccepted(op string) {
	m.numOps.With(metric.Labels{
		opLabel: op,
	}).Inc()
}

func (m *metricsImpl) MarkExecutionFailed() {
	m.numFailedExecutions.Inc()
}

func New(registerer metric.Registerer) (Metrics, error) {
	registry, ok := registerer.(metric.Registry)
	if !ok {
		return nil, errors.New("registerer must implement metric.Registry")
	}

	m := &metricsImpl{}
	m.numOps = metric.NewCounterVec(
		metric.CounterOpts{
			Name: "ops_accepted",
			Help: "number of safe operations accepted",
		},
		opLabels,
	)
	m.numFailedExecutions = metric.NewCounter(metric.CounterOpts{
		Name: "executions_failed",
		Help: "number of executions that consumed their proposal and failed",
	})

	apiRequestMetric, err := metric.NewAPIInterceptor(registry)
	m.APIInterceptor = apiRequestMetric
	return m, err
}
