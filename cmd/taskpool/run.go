package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/vnykmshr/taskpool/internal/loadgen"
	"github.com/vnykmshr/taskpool/internal/server"
	"github.com/vnykmshr/taskpool/pkg/metrics"
	"github.com/vnykmshr/taskpool/pkg/scheduling/timer"
	"github.com/vnykmshr/taskpool/pkg/scheduling/workerpool"
	"github.com/vnykmshr/taskpool/pkg/stats/redisexport"
)

func runCommand() *cli.Command {
	def := workerpool.DefaultConfig()
	return &cli.Command{
		Name:  "run",
		Usage: "run a pool under synthetic load and serve its metrics",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Value: "taskpool", Usage: "pool name used in logs and metrics", EnvVars: []string{"TASKPOOL_NAME"}},
			&cli.StringFlag{Name: "listen", Value: ":8080", Usage: "HTTP listen address", EnvVars: []string{"TASKPOOL_LISTEN_ADDR"}},
			&cli.IntFlag{Name: "queue-capacity", Value: def.QueueCapacity, Usage: "task queue capacity", EnvVars: []string{"TASKPOOL_QUEUE_CAPACITY"}},
			&cli.IntFlag{Name: "workers", Value: def.Workers, Usage: "initial worker count", EnvVars: []string{"TASKPOOL_WORKERS"}},
			&cli.IntFlag{Name: "max-workers", Value: def.MaxWorkers, Usage: "worker ceiling", EnvVars: []string{"TASKPOOL_MAX_WORKERS"}},
			&cli.DurationFlag{Name: "launch-timeout", Value: def.LaunchTimeout, Usage: "how long a submission waits on a full queue", EnvVars: []string{"TASKPOOL_LAUNCH_TIMEOUT"}},
			&cli.DurationFlag{Name: "max-task-wait", Value: def.MaxTaskWait, Usage: "average queue wait that triggers growth", EnvVars: []string{"TASKPOOL_MAX_TASK_WAIT"}},
			&cli.DurationFlag{Name: "max-task-interval", Value: def.MaxTaskInterval, Usage: "average task interval that triggers growth", EnvVars: []string{"TASKPOOL_MAX_TASK_INTERVAL"}},
			&cli.DurationFlag{Name: "max-stall", Value: def.MaxStallInterval, Usage: "idle time that triggers growth", EnvVars: []string{"TASKPOOL_MAX_STALL"}},
			&cli.Float64Flag{Name: "submit-rate", Usage: "submissions per second, 0 for unlimited", EnvVars: []string{"TASKPOOL_SUBMIT_RATE"}},
			&cli.IntFlag{Name: "producers", Value: 4, Usage: "load generator goroutines"},
			&cli.IntFlag{Name: "tasks", Usage: "tasks per producer, 0 runs until interrupted"},
			&cli.DurationFlag{Name: "work", Value: 20 * time.Millisecond, Usage: "upper bound of simulated task duration"},
			&cli.DurationFlag{Name: "pause", Value: time.Millisecond, Usage: "delay between submissions of one producer"},
			&cli.IntFlag{Name: "delayed-every", Value: 10, Usage: "make every n-th task a timer, 0 disables"},
			&cli.StringFlag{Name: "redis-addr", Usage: "publish stats snapshots to this Redis server", EnvVars: []string{"TASKPOOL_REDIS_ADDR"}},
			&cli.StringFlag{Name: "redis-key", Value: "taskpool", Usage: "Redis key prefix", EnvVars: []string{"TASKPOOL_REDIS_KEY"}},
			&cli.DurationFlag{Name: "publish-interval", Value: 5 * time.Second, Usage: "Redis publish interval"},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	logger := loggerFrom(c)
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsCfg := metrics.Config{Enabled: true, Registry: registry}

	cfg := workerpool.DefaultConfig()
	cfg.Name = c.String("name")
	cfg.QueueCapacity = c.Int("queue-capacity")
	cfg.Workers = c.Int("workers")
	cfg.MaxWorkers = c.Int("max-workers")
	cfg.LaunchTimeout = c.Duration("launch-timeout")
	cfg.MaxTaskWait = c.Duration("max-task-wait")
	cfg.MaxTaskInterval = c.Duration("max-task-interval")
	cfg.MaxStallInterval = c.Duration("max-stall")
	cfg.SubmitRate = c.Float64("submit-rate")
	cfg.Logger = logger
	cfg.Metrics = metricsCfg

	pool, err := workerpool.NewWithConfig(cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid pool configuration: %v", err), 2)
	}
	defer func() { <-pool.Shutdown() }()

	scheduler, err := timer.NewWithConfig(timer.Config{Name: cfg.Name, Pool: pool, Logger: logger})
	if err != nil {
		return err
	}
	defer func() { <-scheduler.Stop() }()
	if err := scheduler.EnableMetrics(metricsCfg); err != nil {
		return err
	}

	if addr := c.String("redis-addr"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		defer client.Close()
		exp, err := redisexport.New(redisexport.Config{
			Client: client,
			Key:    c.String("redis-key"),
			Logger: logger,
		}, pool)
		if err != nil {
			return err
		}
		if err := exp.Start(ctx, scheduler, c.Duration("publish-interval")); err != nil {
			logger.WithError(err).Warn("redis export disabled")
		}
	}

	srv := server.New(c.String("listen"), pool, scheduler, registry, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		res, err := loadgen.Run(gctx, loadgen.Config{
			Producers:    c.Int("producers"),
			Tasks:        c.Int("tasks"),
			Work:         c.Duration("work"),
			Pause:        c.Duration("pause"),
			DelayedEvery: c.Int("delayed-every"),
			Logger:       logger,
		}, pool, scheduler)
		logger.WithFields(logrus.Fields{
			"launched":  res.Launched,
			"completed": res.Completed,
			"failed":    res.Failed,
			"rejected":  res.Rejected,
			"workers":   pool.Workers(),
		}).Info("load finished")
		return err
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
