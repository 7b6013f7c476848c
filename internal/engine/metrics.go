package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus instrumentation. One instance is
// shared by the queue, executor, scheduler, and retention loops.
type Metrics struct {
	RunsStarted   *prometheus.CounterVec // by trigger type
	RunsFinished  *prometheus.CounterVec // by terminal status
	TestsFinished *prometheus.CounterVec // by terminal status

	QueueDepth  prometheus.Gauge
	RunningRuns prometheus.Gauge

	ScheduleFires      prometheus.Counter
	ScheduleSuppressed prometheus.Counter

	RetentionRunsDeleted    prometheus.Counter
	RetentionOrphansRemoved prometheus.Counter
}

// NewMetrics registers the engine's collectors with reg and returns them.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mbss_runs_started_total",
			Help: "Runs promoted from the queue to running, by trigger type.",
		}, []string{"trigger"}),
		RunsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mbss_runs_finished_total",
			Help: "Runs reaching a terminal status.",
		}, []string{"status"}),
		TestsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mbss_tests_finished_total",
			Help: "Individual test executions reaching a terminal status.",
		}, []string{"status"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mbss_queue_depth",
			Help: "Runs currently waiting in the queue.",
		}),
		RunningRuns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mbss_running_runs",
			Help: "Runs currently executing.",
		}),
		ScheduleFires: factory.NewCounter(prometheus.CounterOpts{
			Name: "mbss_schedule_fires_total",
			Help: "Runs created by the scheduler.",
		}),
		ScheduleSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mbss_schedule_suppressed_total",
			Help: "Scheduler fires skipped because the previous run was still active.",
		}),
		RetentionRunsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "mbss_retention_runs_deleted_total",
			Help: "Expired runs deleted by the retention sweeper.",
		}),
		RetentionOrphansRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "mbss_retention_orphans_removed_total",
			Help: "Artifact directories removed because no run row references them.",
		}),
	}
}
