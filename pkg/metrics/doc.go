// Package metrics provides Prometheus instrumentation for taskpool components.
//
// Worker pools and timer schedulers implement Instrumentable. Metrics are
// labelled with the component's name, so several pools can share one
// registry:
//
//	pool, _ := workerpool.NewWithConfig(workerpool.Config{Name: "ingest", ...})
//	pool.EnableMetrics(metrics.DefaultConfig())
//
//	http.Handle("/metrics", promhttp.Handler())
//
// Use a private registry to keep tests and embedded pools isolated:
//
//	reg := prometheus.NewRegistry()
//	pool.EnableMetrics(metrics.Config{Enabled: true, Registry: reg})
//
// # Available Metrics
//
// Worker pool (label pool_name):
//   - taskpool_workerpool_size, max_size, available_workers
//   - taskpool_workerpool_queued_tasks, queue_capacity
//   - taskpool_workerpool_average_interval_seconds, average_wait_seconds
//   - taskpool_workerpool_resizes_total{direction="grow"|"shrink"}
//   - taskpool_workerpool_tasks_launched_total, tasks_executed_total,
//     tasks_failed_total, tasks_panicked_total, tasks_aborted_total
//   - taskpool_workerpool_launch_timeouts_total, backpressure_events_total
//   - taskpool_workerpool_task_wait_seconds, task_duration_seconds
//
// Timer scheduler (label scheduler_name):
//   - taskpool_timer_scheduled_total, promoted_total, pending
//   - taskpool_timer_promotion_failures_total, promotion_lateness_seconds
package metrics
