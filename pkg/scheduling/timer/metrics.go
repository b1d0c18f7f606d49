package timer

import (
	"time"

	"github.com/vnykmshr/taskpool/pkg/metrics"
)

// EnableMetrics starts recording timer metrics, labelled with the scheduler
// name. The pool keeps its own metrics settings.
func (s *Scheduler) EnableMetrics(config metrics.Config) error {
	if !config.Enabled {
		s.DisableMetrics()
		return nil
	}
	s.metrics.Store(metrics.ForConfig(config))

	s.mu.Lock()
	s.updatePending()
	s.mu.Unlock()
	return nil
}

// DisableMetrics stops recording timer metrics.
func (s *Scheduler) DisableMetrics() {
	s.metrics.Store(nil)
}

// MetricsEnabled returns true if metrics are currently enabled.
func (s *Scheduler) MetricsEnabled() bool {
	return s.metrics.Load() != nil
}

var _ metrics.Instrumentable = (*Scheduler)(nil)

// updatePending must be called with s.mu held.
func (s *Scheduler) updatePending() {
	if reg := s.metrics.Load(); reg != nil {
		reg.TimersPending.WithLabelValues(s.config.Name).Set(float64(len(s.entries)))
	}
}

func (s *Scheduler) recordScheduled() {
	if reg := s.metrics.Load(); reg != nil {
		reg.TimersScheduled.WithLabelValues(s.config.Name).Inc()
	}
}

func (s *Scheduler) recordPromoted(lateness time.Duration) {
	if reg := s.metrics.Load(); reg != nil {
		reg.TimersPromoted.WithLabelValues(s.config.Name).Inc()
		reg.TimerPromotionLateness.WithLabelValues(s.config.Name).Observe(lateness.Seconds())
	}
}

func (s *Scheduler) recordPromotionFailure() {
	if reg := s.metrics.Load(); reg != nil {
		reg.TimerPromotionFailures.WithLabelValues(s.config.Name).Inc()
	}
}
