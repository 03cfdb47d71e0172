package observability

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/clusterctl/internal/command"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "clusterctl"

var (
	registerOnce sync.Once

	commandRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "command",
			Name:      "runs_total",
			Help:      "Command runs by cluster, command and outcome kind.",
		},
		[]string{"cluster", "command", "outcome"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "command",
			Name:      "duration_seconds",
			Help:      "Wall time of one command run, including session wait.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		},
		[]string{"outcome"},
	)
	sessionWaitIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "wait_iterations",
			Help:      "Readiness poll sleeps performed before a session was usable.",
			Buckets:   prometheus.LinearBuckets(0, 1, 6),
		},
	)
	dispatchExchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "exchanges_total",
			Help:      "Invoke exchanges by resolution.",
		},
		[]string{"outcome"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	simInvokes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sim",
			Name:      "invokes_total",
			Help:      "Invoke requests handled by the device simulator.",
		},
		[]string{"cluster", "command", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			commandRuns,
			commandDuration,
			sessionWaitIterations,
			dispatchExchanges,
			httpRequests,
			httpDuration,
			simInvokes,
		)
	})
}

func RecordCommandRun(cmd command.Command, outcome string, elapsed time.Duration) {
	RegisterMetrics()
	commandRuns.WithLabelValues(clusterLabel(cmd.ClusterID), commandLabel(cmd.CommandID), outcome).Inc()
	commandDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func RecordSessionWait(iterations int) {
	RegisterMetrics()
	sessionWaitIterations.Observe(float64(iterations))
}

// RecordExchange counts one resolved exchange. outcome is one of
// success, failure, timeout, disconnected, send_error.
func RecordExchange(outcome string) {
	RegisterMetrics()
	dispatchExchanges.WithLabelValues(outcome).Inc()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSimInvoke(clusterID uint32, commandID uint32, status string) {
	RegisterMetrics()
	simInvokes.WithLabelValues(clusterLabel(clusterID), commandLabel(commandID), status).Inc()
}

// WriteTextfile dumps the default registry in text exposition format, for
// node-exporter style collection of short-lived CLI runs.
func WriteTextfile(path string) error {
	RegisterMetrics()
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// CommandObserver feeds command.Runner measurements into the registry.
type CommandObserver struct{}

func (CommandObserver) ObserveRun(cmd command.Command, outcome string, elapsed time.Duration) {
	RecordCommandRun(cmd, outcome, elapsed)
}

func (CommandObserver) ObserveSessionWait(iterations int) {
	RecordSessionWait(iterations)
}

func clusterLabel(id uint32) string { return fmt.Sprintf("0x%04X", id) }

func commandLabel(id uint32) string { return fmt.Sprintf("0x%02X", id) }
