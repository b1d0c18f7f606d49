package workerpool

import (
	"time"

	"github.com/vnykmshr/taskpool/pkg/metrics"
)

// NewWithMetrics creates a pool and enables metrics collection on it.
func NewWithMetrics(config Config, metricsConfig metrics.Config) (*Pool, error) {
	p, err := NewWithConfig(config)
	if err != nil {
		return nil, err
	}
	if err := p.EnableMetrics(metricsConfig); err != nil {
		<-p.Shutdown()
		return nil, err
	}
	return p, nil
}

// EnableMetrics starts recording pool metrics, labelled with the pool name.
// A config with Enabled false disables collection.
func (p *Pool) EnableMetrics(config metrics.Config) error {
	if !config.Enabled {
		p.DisableMetrics()
		return nil
	}
	p.metrics.Store(metrics.ForConfig(config))
	p.updateGauges()
	return nil
}

// DisableMetrics stops recording pool metrics.
func (p *Pool) DisableMetrics() {
	p.metrics.Store(nil)
}

// MetricsEnabled returns true if metrics are currently enabled.
func (p *Pool) MetricsEnabled() bool {
	return p.metrics.Load() != nil
}

var _ metrics.Instrumentable = (*Pool)(nil)

// updateGauges refreshes the state metrics.
func (p *Pool) updateGauges() {
	reg := p.metrics.Load()
	if reg == nil {
		return
	}
	name := p.config.Name
	reg.WorkerPoolSize.WithLabelValues(name).Set(float64(p.Workers()))
	reg.WorkerPoolMaxSize.WithLabelValues(name).Set(float64(p.MaxWorkers()))
	reg.WorkerPoolAvailable.WithLabelValues(name).Set(float64(p.Available()))
	reg.WorkerPoolQueued.WithLabelValues(name).Set(float64(p.Pending()))
	reg.WorkerPoolCapacity.WithLabelValues(name).Set(float64(p.Capacity()))
	reg.AverageInterval.WithLabelValues(name).Set(p.AverageInterval().Seconds())
	reg.AverageWait.WithLabelValues(name).Set(p.AverageWait().Seconds())
}

func (p *Pool) recordLaunched() {
	if reg := p.metrics.Load(); reg != nil {
		reg.TasksLaunched.WithLabelValues(p.config.Name).Inc()
		reg.WorkerPoolQueued.WithLabelValues(p.config.Name).Set(float64(p.Pending()))
	}
}

func (p *Pool) recordBackpressure() {
	if reg := p.metrics.Load(); reg != nil {
		reg.BackpressureEvents.WithLabelValues(p.config.Name).Inc()
	}
}

func (p *Pool) recordLaunchTimeout() {
	if reg := p.metrics.Load(); reg != nil {
		reg.LaunchTimeouts.WithLabelValues(p.config.Name).Inc()
	}
}

func (p *Pool) recordWait(d time.Duration) {
	if reg := p.metrics.Load(); reg != nil {
		reg.TaskWaitDuration.WithLabelValues(p.config.Name).Observe(d.Seconds())
		reg.AverageInterval.WithLabelValues(p.config.Name).Set(p.AverageInterval().Seconds())
		reg.AverageWait.WithLabelValues(p.config.Name).Set(p.AverageWait().Seconds())
	}
}

func (p *Pool) recordExecuted(d time.Duration) {
	if reg := p.metrics.Load(); reg != nil {
		reg.TasksExecuted.WithLabelValues(p.config.Name).Inc()
		reg.TaskExecutionDuration.WithLabelValues(p.config.Name).Observe(d.Seconds())
		reg.WorkerPoolQueued.WithLabelValues(p.config.Name).Set(float64(p.Pending()))
	}
}

func (p *Pool) recordFailed() {
	if reg := p.metrics.Load(); reg != nil {
		reg.TasksFailed.WithLabelValues(p.config.Name).Inc()
	}
}

func (p *Pool) recordPanicked() {
	if reg := p.metrics.Load(); reg != nil {
		reg.TasksPanicked.WithLabelValues(p.config.Name).Inc()
	}
}

func (p *Pool) recordAborted(n int) {
	if n == 0 {
		return
	}
	if reg := p.metrics.Load(); reg != nil {
		reg.TasksAborted.WithLabelValues(p.config.Name).Add(float64(n))
	}
}

func (p *Pool) recordResize(direction string, n int) {
	if reg := p.metrics.Load(); reg != nil {
		reg.WorkerPoolResizes.WithLabelValues(p.config.Name, direction).Add(float64(n))
	}
}
