package workerpool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/vnykmshr/taskpool/pkg/common/validation"
	"github.com/vnykmshr/taskpool/pkg/metrics"
	"github.com/vnykmshr/taskpool/pkg/scheduling/future"
	"github.com/vnykmshr/taskpool/pkg/scheduling/queue"
)

const module = "workerpool"

// Task is a queued job plus the time it was issued.
type Task struct {
	future.Job

	// Issued is when the task entered the queue.
	Issued time.Time
}

// Clock supplies the time used for pool statistics.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config holds configuration options for creating a worker pool.
type Config struct {
	// Name labels the pool in logs and metrics.
	Name string

	// QueueCapacity is the fixed number of tasks that can wait for a worker.
	// Must be greater than 0.
	QueueCapacity int

	// Workers is the initial number of workers, clamped to MaxWorkers.
	// Must be greater than 0.
	Workers int

	// MaxWorkers is the ceiling for both manual and adaptive resizing.
	// Must be greater than 0.
	MaxWorkers int

	// LaunchTimeout bounds how long a submission retries against a full
	// queue. Zero selects one second.
	LaunchTimeout time.Duration

	// MaxStallInterval, MaxTaskInterval and MaxTaskWait are the adaptive
	// growth thresholds for idle time since the last dequeue, the average
	// interval between task events and the average queue wait. Zero selects
	// one second for each.
	MaxStallInterval time.Duration
	MaxTaskInterval  time.Duration
	MaxTaskWait      time.Duration

	// ReserveThreshold is the number of idle workers at or below which the
	// pool considers growing. Zero selects 1.
	ReserveThreshold int

	// AverageWeight is the weight W of the moving averages,
	// new = (old*W + sample) / (W+1). Zero selects 7.
	AverageWeight int

	// TaskTimeout, when positive, bounds the context each task runs with.
	TaskTimeout time.Duration

	// SubmitRate limits submissions per second; zero disables limiting.
	// SubmitBurst is the limiter's bucket size and defaults to 1.
	SubmitRate  float64
	SubmitBurst int

	// Logger receives worker lifecycle and failure events.
	// If nil, logrus.StandardLogger() is used.
	Logger logrus.FieldLogger

	// Clock drives the statistics. If nil, the system clock is used.
	Clock Clock

	// PanicHandler is called when a task panics on a worker.
	// The panic is recovered and logged either way.
	PanicHandler func(task Task, recovered interface{})

	// OnWorkerStart is called on the worker goroutine when it starts.
	OnWorkerStart func(workerID int)

	// OnWorkerStop is called on the worker goroutine before it exits.
	OnWorkerStop func(workerID int)

	// Metrics enables instrumentation at construction when Metrics.Enabled is set.
	Metrics metrics.Config
}

// DefaultConfig returns a configuration with the default thresholds,
// a 1024-slot queue, GOMAXPROCS workers and a ceiling of 1024 workers.
func DefaultConfig() Config {
	return Config{
		Name:             module,
		QueueCapacity:    1024,
		Workers:          runtime.GOMAXPROCS(0),
		MaxWorkers:       1024,
		LaunchTimeout:    time.Second,
		MaxStallInterval: time.Second,
		MaxTaskInterval:  time.Second,
		MaxTaskWait:      time.Second,
		ReserveThreshold: 1,
		AverageWeight:    7,
	}
}

func (c Config) validate() error {
	if err := validation.ValidatePositive(module, "queueCapacity", c.QueueCapacity); err != nil {
		return err
	}
	if err := validation.ValidatePositive(module, "workers", c.Workers); err != nil {
		return err
	}
	if err := validation.ValidatePositive(module, "maxWorkers", c.MaxWorkers); err != nil {
		return err
	}
	for field, d := range map[string]time.Duration{
		"launchTimeout":    c.LaunchTimeout,
		"maxStallInterval": c.MaxStallInterval,
		"maxTaskInterval":  c.MaxTaskInterval,
		"maxTaskWait":      c.MaxTaskWait,
		"taskTimeout":      c.TaskTimeout,
	} {
		if err := validation.ValidateNonNegativeDuration(module, field, d); err != nil {
			return err
		}
	}
	return validation.ValidateNonNegative(module, "submitRate", c.SubmitRate)
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.LaunchTimeout == 0 {
		c.LaunchTimeout = def.LaunchTimeout
	}
	if c.MaxStallInterval == 0 {
		c.MaxStallInterval = def.MaxStallInterval
	}
	if c.MaxTaskInterval == 0 {
		c.MaxTaskInterval = def.MaxTaskInterval
	}
	if c.MaxTaskWait == 0 {
		c.MaxTaskWait = def.MaxTaskWait
	}
	if c.ReserveThreshold <= 0 {
		c.ReserveThreshold = def.ReserveThreshold
	}
	if c.AverageWeight <= 0 {
		c.AverageWeight = def.AverageWeight
	}
	if c.SubmitBurst <= 0 {
		c.SubmitBurst = 1
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.Clock == nil {
		c.Clock = systemClock{}
	}
	return c
}

// Pool executes tasks on a resizable set of worker goroutines that grows on
// its own under sustained queue pressure.
type Pool struct {
	config  Config
	log     logrus.FieldLogger
	clock   Clock
	limiter *rate.Limiter

	tasks *queue.Bounded[Task]

	// eventMu/event park idle workers until a dispatch or disposal.
	eventMu sync.Mutex
	event   *sync.Cond

	// workersMu serializes resizes.
	workersMu    sync.Mutex
	workers      []*worker
	nextWorkerID int

	numWorkers atomic.Int64
	numWorking atomic.Int64
	maxWorkers atomic.Int64

	// Statistics are advisory; races between updates are tolerated.
	latestActive       atomic.Int64
	latestEvent        atomic.Int64
	latestWorkerChange atomic.Int64
	averageInterval    atomic.Int64
	averageWait        atomic.Int64
	totalLaunched      atomic.Int64
	totalExecuted      atomic.Int64
	totalFailed        atomic.Int64

	ctx          context.Context
	cancel       context.CancelFunc
	closed       atomic.Bool
	shutdownOnce sync.Once
	done         chan struct{}

	metrics atomic.Pointer[metrics.Registry]
}

// worker represents a single worker goroutine in the pool.
type worker struct {
	id       int
	disposed atomic.Bool
	stopped  chan struct{}
}

// New creates a pool with the given queue capacity, initial worker count and
// worker ceiling, using defaults for everything else.
func New(queueCapacity, workers, maxWorkers int) (*Pool, error) {
	cfg := DefaultConfig()
	cfg.QueueCapacity = queueCapacity
	cfg.Workers = workers
	cfg.MaxWorkers = maxWorkers
	return NewWithConfig(cfg)
}

// NewWithConfig creates a pool from config. Zero counts are rejected with a
// validation error.
func NewWithConfig(config Config) (*Pool, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config = config.withDefaults()

	tasks, err := queue.New[Task](config.QueueCapacity)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		config: config,
		log:    config.Logger.WithField("pool", config.Name),
		clock:  config.Clock,
		tasks:  tasks,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.event = sync.NewCond(&p.eventMu)
	if config.SubmitRate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(config.SubmitRate), config.SubmitBurst)
	}

	now := p.clock.Now().UnixNano()
	p.latestActive.Store(now)
	p.latestEvent.Store(now)
	p.latestWorkerChange.Store(now)
	p.maxWorkers.Store(int64(config.MaxWorkers))

	if config.Metrics.Enabled {
		p.metrics.Store(metrics.ForConfig(config.Metrics))
	}

	p.workersMu.Lock()
	p.resizeLocked(config.Workers)
	p.workersMu.Unlock()

	return p, nil
}

// Name returns the configured pool name.
func (p *Pool) Name() string {
	return p.config.Name
}
