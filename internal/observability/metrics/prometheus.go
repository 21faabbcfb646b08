//revive:disable:var-naming
//revive:disable:exported
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus exposes application metrics and can be injected into the
// replication layer. It implements internal/replication.Metrics through
// method set compatibility, without importing that package.
type Prometheus struct {
	proposalTotal        *prometheus.CounterVec
	forwardTotal         *prometheus.CounterVec
	applyDuration        *prometheus.HistogramVec
	applyLag             *prometheus.GaugeVec
	isLeader             *prometheus.GaugeVec
	caughtUp             *prometheus.GaugeVec
	snapshotSaveDuration *prometheus.HistogramVec
	snapshotSaveBytes    *prometheus.HistogramVec
	snapshotLoadTotal    *prometheus.CounterVec
}

func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Prometheus{
		proposalTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "replicationlab",
				Subsystem: "log",
				Name:      "proposal_total",
				Help:      "Write proposal outcomes on this node (accepted, encode_error, shutdown).",
			},
			[]string{"node_id", "result"},
		),
		forwardTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "replicationlab",
				Subsystem: "log",
				Name:      "forward_total",
				Help:      "Writes forwarded to the leader by result (ok, unavailable, error).",
			},
			[]string{"node_id", "result"},
		),
		applyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "replicationlab",
				Subsystem: "log",
				Name:      "apply_duration_seconds",
				Help:      "Time spent applying a single committed entry to the store.",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
			},
			[]string{"node_id", "result"},
		),
		applyLag: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "replicationlab",
				Subsystem: "log",
				Name:      "apply_lag",
				Help:      "Difference between the leader commit index and this node's applied index.",
			},
			[]string{"node_id"},
		),
		isLeader: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "replicationlab",
				Subsystem: "node",
				Name:      "is_leader",
				Help:      "1 if the node currently believes it is leader, otherwise 0.",
			},
			[]string{"node_id"},
		),
		caughtUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "replicationlab",
				Subsystem: "node",
				Name:      "caught_up",
				Help:      "1 if the node considers itself caught up with the leader, otherwise 0.",
			},
			[]string{"node_id"},
		),
		snapshotSaveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "replicationlab",
				Subsystem: "snapshot",
				Name:      "save_duration_seconds",
				Help:      "Duration of snapshot creation, by result.",
				Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2, 5},
			},
			[]string{"node_id", "result"},
		),
		snapshotSaveBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "replicationlab",
				Subsystem: "snapshot",
				Name:      "save_bytes",
				Help:      "Total snapshot payload size in bytes.",
				Buckets:   []float64{1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864},
			},
			[]string{"node_id"},
		),
		snapshotLoadTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "replicationlab",
				Subsystem: "snapshot",
				Name:      "load_total",
				Help:      "Snapshot load attempts by result.",
			},
			[]string{"node_id", "result"},
		),
	}

	if err := m.register(reg); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Prometheus) register(reg prometheus.Registerer) error {
	if err := registerOrReuseCounterVec(reg, &m.proposalTotal); err != nil {
		return fmt.Errorf("register proposal counter: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.forwardTotal); err != nil {
		return fmt.Errorf("register forward counter: %w", err)
	}
	if err := registerOrReuseHistogramVec(reg, &m.applyDuration); err != nil {
		return fmt.Errorf("register apply duration histogram: %w", err)
	}
	if err := registerOrReuseGaugeVec(reg, &m.applyLag); err != nil {
		return fmt.Errorf("register apply lag gauge: %w", err)
	}
	if err := registerOrReuseGaugeVec(reg, &m.isLeader); err != nil {
		return fmt.Errorf("register is_leader gauge: %w", err)
	}
	if err := registerOrReuseGaugeVec(reg, &m.caughtUp); err != nil {
		return fmt.Errorf("register caught_up gauge: %w", err)
	}
	if err := registerOrReuseHistogramVec(reg, &m.snapshotSaveDuration); err != nil {
		return fmt.Errorf("register snapshot save duration histogram: %w", err)
	}
	if err := registerOrReuseHistogramVec(reg, &m.snapshotSaveBytes); err != nil {
		return fmt.Errorf("register snapshot save bytes histogram: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.snapshotLoadTotal); err != nil {
		return fmt.Errorf("register snapshot load counter: %w", err)
	}
	return nil
}

func registerOrReuseHistogramVec(reg prometheus.Registerer, c **prometheus.HistogramVec) error {
	if err := reg.Register(*c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		existing, ok := already.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return fmt.Errorf("collector type mismatch for %T", *c)
		}
		*c = existing
	}
	return nil
}

func registerOrReuseCounterVec(reg prometheus.Registerer, c **prometheus.CounterVec) error {
	if err := reg.Register(*c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return fmt.Errorf("collector type mismatch for %T", *c)
		}
		*c = existing
	}
	return nil
}

func registerOrReuseGaugeVec(reg prometheus.Registerer, c **prometheus.GaugeVec) error {
	if err := reg.Register(*c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		existing, ok := already.ExistingCollector.(*prometheus.GaugeVec)
		if !ok {
			return fmt.Errorf("collector type mismatch for %T", *c)
		}
		*c = existing
	}
	return nil
}

func (m *Prometheus) IncProposal(nodeID, result string) {
	m.proposalTotal.WithLabelValues(nodeID, result).Inc()
}

func (m *Prometheus) IncForward(nodeID, result string) {
	m.forwardTotal.WithLabelValues(nodeID, result).Inc()
}

func (m *Prometheus) ObserveApplyDuration(nodeID string, d time.Duration, ok bool) {
	result := "error"
	if ok {
		result = "ok"
	}
	m.applyDuration.WithLabelValues(nodeID, result).Observe(d.Seconds())
}

func (m *Prometheus) SetApplyLag(nodeID string, lag int64) {
	if lag < 0 {
		lag = 0
	}
	m.applyLag.WithLabelValues(nodeID).Set(float64(lag))
}

func (m *Prometheus) SetLeader(nodeID string, leader bool) {
	m.isLeader.WithLabelValues(nodeID).Set(boolGauge(leader))
}

func (m *Prometheus) SetCaughtUp(nodeID string, up bool) {
	m.caughtUp.WithLabelValues(nodeID).Set(boolGauge(up))
}

func (m *Prometheus) ObserveSnapshotSave(nodeID string, d time.Duration, result string) {
	m.snapshotSaveDuration.WithLabelValues(nodeID, result).Observe(d.Seconds())
}

func (m *Prometheus) ObserveSnapshotSaveBytes(nodeID string, n int64) {
	if n < 0 {
		n = 0
	}
	m.snapshotSaveBytes.WithLabelValues(nodeID).Observe(float64(n))
}

func (m *Prometheus) IncSnapshotLoad(nodeID, result string) {
	m.snapshotLoadTotal.WithLabelValues(nodeID, result).Inc()
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
