package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	appErrors "github.com/unclebandit/engagement-escrow/internal/errors"
)

const resultOK = "ok"

// Metrics counts escrow operations and fund movements. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	escrowed   prometheus.Counter
	released   prometheus.Counter
	funded     prometheus.Counter
}

func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_operations_total",
			Help: "escrow operations by name and result code",
		}, []string{"op", "result"}),
		escrowed: factory.NewCounter(prometheus.CounterOpts{
			Name: "escrow_funds_escrowed_total",
			Help: "native units moved into campaign escrow",
		}),
		released: factory.NewCounter(prometheus.CounterOpts{
			Name: "escrow_funds_released_total",
			Help: "native units paid out of campaign escrow",
		}),
		funded: factory.NewCounter(prometheus.CounterOpts{
			Name: "escrow_wallet_funding_total",
			Help: "native units credited to wallets by the faucet",
		}),
	}
}

// ObserveOperation counts one call; the result label is the escrow error
// code, "error" for infrastructure failures, or "ok".
func (m *Metrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	result := resultOK
	if err != nil {
		result = string(appErrors.CodeOf(err))
		if result == "" {
			result = "error"
		}
	}
	m.operations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) AddEscrowed(amount uint64) {
	if m == nil {
		return
	}
	m.escrowed.Add(float64(amount))
}

func (m *Metrics) AddReleased(amount uint64) {
	if m == nil {
		return
	}
	m.released.Add(float64(amount))
}

func (m *Metrics) AddFunded(amount uint64) {
	if m == nil {
		return
	}
	m.funded.Add(float64(amount))
}
