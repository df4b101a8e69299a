// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package intentguard

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ava-labs/avalanchego/utils/wrappers"
)

const metricsNamespace = "intentguard"

// Metrics counts protocol outcomes.
type Metrics struct {
	intents          *prometheus.CounterVec
	verdicts         prometheus.Counter
	driftResets      prometheus.Counter
	executionFailure prometheus.Counter
	slashed          prometheus.Counter
}

// NewMetrics registers the protocol counters on [registerer].
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "intents",
			Help:      "Number of intents that reached each status",
		}, []string{"status"}),
		verdicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "verdicts",
			Help:      "Number of accepted simulator verdicts",
		}),
		driftResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "drift_resets",
			Help:      "Number of intents reopened after state drift",
		}),
		executionFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "execution_failures",
			Help:      "Number of executed intents whose target call failed",
		}),
		slashed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "slashed_stake",
			Help:      "Total stake moved to the insurance pool by slashing",
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		registerer.Register(m.intents),
		registerer.Register(m.verdicts),
		registerer.Register(m.driftResets),
		registerer.Register(m.executionFailure),
		registerer.Register(m.slashed),
	)
	return m, errs.Err
}

func (m *Metrics) status(s Status) {
	m.intents.WithLabelValues(s.String()).Inc()
}
