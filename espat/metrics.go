package espat

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func connLabel(conn int) string {
	return strconv.Itoa(conn)
}

// metrics bundles the engine's Prometheus instrumentation
// (SPEC_FULL.md §4.1/§4.3), grounded on runZeroInc-sockstats's and
// malbeclabs-doublezero's per-operation client_golang usage.
type metrics struct {
	commandDuration *prometheus.HistogramVec
	commandResult   *prometheus.CounterVec
	connsActive     prometheus.Gauge
	connRecvBytes   *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "espat_command_duration_seconds",
			Help: "Time from Submit to terminal response, by default command.",
		}, []string{"command"}),
		commandResult: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "espat_command_result_total",
			Help: "Terminal Result outcomes, by default command and result.",
		}, []string{"command", "result"}),
		connsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "espat_connections_active",
			Help: "Number of connection-table slots currently active.",
		}),
		connRecvBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "espat_connection_recv_bytes_total",
			Help: "Bytes delivered via ConnRecv, by connection slot.",
		}, []string{"conn"}),
	}
	if reg != nil {
		reg.MustRegister(m.commandDuration, m.commandResult, m.connsActive, m.connRecvBytes)
	}
	return m
}

func (m *metrics) observeCommand(cmd Cmd, seconds float64, res Result) {
	if m == nil {
		return
	}
	name := cmd.String()
	m.commandDuration.WithLabelValues(name).Observe(seconds)
	m.commandResult.WithLabelValues(name, res.String()).Inc()
}

func (m *metrics) setConnsActive(n int) {
	if m == nil {
		return
	}
	m.connsActive.Set(float64(n))
}

func (m *metrics) addConnRecvBytes(conn int, n int) {
	if m == nil {
		return
	}
	m.connRecvBytes.WithLabelValues(connLabel(conn)).Add(float64(n))
}
