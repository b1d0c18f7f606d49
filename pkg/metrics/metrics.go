// Package metrics provides Prometheus instrumentation for taskpool components.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "taskpool"

// Registry holds all metric instances for taskpool components.
type Registry struct {
	// Worker pool metrics, labelled by pool_name
	WorkerPoolSize      *prometheus.GaugeVec
	WorkerPoolMaxSize   *prometheus.GaugeVec
	WorkerPoolAvailable *prometheus.GaugeVec
	WorkerPoolQueued    *prometheus.GaugeVec
	WorkerPoolCapacity  *prometheus.GaugeVec
	WorkerPoolResizes   *prometheus.CounterVec
	AverageInterval     *prometheus.GaugeVec
	AverageWait         *prometheus.GaugeVec

	// Task metrics, labelled by pool_name
	TasksLaunched         *prometheus.CounterVec
	TasksExecuted         *prometheus.CounterVec
	TasksFailed           *prometheus.CounterVec
	TasksPanicked         *prometheus.CounterVec
	TasksAborted          *prometheus.CounterVec
	LaunchTimeouts        *prometheus.CounterVec
	BackpressureEvents    *prometheus.CounterVec
	TaskWaitDuration      *prometheus.HistogramVec
	TaskExecutionDuration *prometheus.HistogramVec

	// Timer metrics, labelled by scheduler_name
	TimersScheduled        *prometheus.CounterVec
	TimersPromoted         *prometheus.CounterVec
	TimersPending          *prometheus.GaugeVec
	TimerPromotionFailures *prometheus.CounterVec
	TimerPromotionLateness *prometheus.HistogramVec
}

// DefaultRegistry is the default metrics registry used by taskpool components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

type registryKey struct {
	reg       prometheus.Registerer
	namespace string
}

var (
	registriesMu sync.Mutex
	registries   = map[registryKey]*Registry{}
)

// ForConfig returns the registry a component should record into: the
// DefaultRegistry for the default registerer, otherwise one Registry per
// registerer and namespace, so components configured with the same
// registerer share metric vectors.
func ForConfig(cfg Config) *Registry {
	if cfg.Registry == nil || cfg.Registry == prometheus.DefaultRegisterer {
		return DefaultRegistry
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}

	registriesMu.Lock()
	defer registriesMu.Unlock()

	key := registryKey{reg: cfg.Registry, namespace: namespace}
	if r, ok := registries[key]; ok {
		return r
	}
	r := NewRegistryWithNamespace(cfg.Registry, namespace)
	registries[key] = r
	return r
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return NewRegistryWithNamespace(reg, DefaultNamespace)
}

// NewRegistryWithNamespace is NewRegistry with a custom metric namespace.
func NewRegistryWithNamespace(reg prometheus.Registerer, namespace string) *Registry {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	poolLabels := []string{"pool_name"}
	timerLabels := []string{"scheduler_name"}

	gauge := func(subsystem, name, help string, labels []string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	counter := func(subsystem, name, help string, labels []string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	histogram := func(subsystem, name, help string, labels []string) *prometheus.HistogramVec {
		return factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, labels)
	}

	return &Registry{
		WorkerPoolSize:      gauge("workerpool", "size", "Current number of worker goroutines", poolLabels),
		WorkerPoolMaxSize:   gauge("workerpool", "max_size", "Configured worker ceiling", poolLabels),
		WorkerPoolAvailable: gauge("workerpool", "available_workers", "Workers not currently executing a task", poolLabels),
		WorkerPoolQueued:    gauge("workerpool", "queued_tasks", "Tasks waiting in the queue", poolLabels),
		WorkerPoolCapacity:  gauge("workerpool", "queue_capacity", "Fixed capacity of the task queue", poolLabels),
		WorkerPoolResizes: counter("workerpool", "resizes_total", "Worker count changes by direction",
			[]string{"pool_name", "direction"}),
		AverageInterval: gauge("workerpool", "average_interval_seconds", "Moving average of the time between task events", poolLabels),
		AverageWait:     gauge("workerpool", "average_wait_seconds", "Moving average of the time tasks wait before execution", poolLabels),

		TasksLaunched:         counter("workerpool", "tasks_launched_total", "Tasks accepted into the queue", poolLabels),
		TasksExecuted:         counter("workerpool", "tasks_executed_total", "Tasks run by a worker", poolLabels),
		TasksFailed:           counter("workerpool", "tasks_failed_total", "Tasks whose result was an error or a panic", poolLabels),
		TasksPanicked:         counter("workerpool", "tasks_panicked_total", "Tasks whose panic reached the worker", poolLabels),
		TasksAborted:          counter("workerpool", "tasks_aborted_total", "Queued tasks dropped on shutdown", poolLabels),
		LaunchTimeouts:        counter("workerpool", "launch_timeouts_total", "Submissions that gave up on a full queue", poolLabels),
		BackpressureEvents:    counter("workerpool", "backpressure_events_total", "Rejected queue pushes", poolLabels),
		TaskWaitDuration:      histogram("workerpool", "task_wait_seconds", "Time between dispatch and execution", poolLabels),
		TaskExecutionDuration: histogram("workerpool", "task_duration_seconds", "Time spent executing tasks", poolLabels),

		TimersScheduled:        counter("timer", "scheduled_total", "Timers added to the pending set", timerLabels),
		TimersPromoted:         counter("timer", "promoted_total", "Timers moved into the worker pool queue", timerLabels),
		TimersPending:          gauge("timer", "pending", "Timers waiting for their deadline", timerLabels),
		TimerPromotionFailures: counter("timer", "promotion_failures_total", "Timers that could not be dispatched", timerLabels),
		TimerPromotionLateness: histogram("timer", "promotion_lateness_seconds", "Delay between a deadline and its promotion", timerLabels),
	}
}
