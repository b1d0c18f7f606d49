package redisexport

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	gferrors "github.com/vnykmshr/taskpool/pkg/common/errors"
	"github.com/vnykmshr/taskpool/pkg/common/validation"
	"github.com/vnykmshr/taskpool/pkg/scheduling/timer"
	"github.com/vnykmshr/taskpool/pkg/scheduling/workerpool"
)

const module = "redisexport"

// StatsSource supplies the snapshot to publish. *workerpool.Pool implements it.
type StatsSource interface {
	Stats() workerpool.Stats
}

// Config holds configuration for an Exporter.
type Config struct {
	// Client is the Redis client snapshots are written to.
	Client redis.UniversalClient

	// Key is the Redis key prefix.
	Key string

	// Name identifies this process under Key. Defaults to the hostname.
	Name string

	// TTL is how long a snapshot outlives its last publish (defaults to 1 minute).
	TTL time.Duration

	// Timeout bounds each publish (defaults to 500ms).
	Timeout time.Duration

	// Logger receives publish failures from Start. If nil, logrus.StandardLogger() is used.
	Logger logrus.FieldLogger
}

// DefaultConfig returns a configuration with the default key, TTL and timeout.
func DefaultConfig() Config {
	return Config{
		Key:     "taskpool",
		TTL:     time.Minute,
		Timeout: 500 * time.Millisecond,
	}
}

// Exporter publishes pool statistics into a Redis hash so that several
// processes can be observed from one place.
type Exporter struct {
	config Config
	source StatsSource
	keys   map[string]string
	log    logrus.FieldLogger
}

// New creates an exporter for source.
func New(config Config, source StatsSource) (*Exporter, error) {
	if err := validation.ValidateNotNil(module, "client", config.Client); err != nil {
		return nil, err
	}
	if err := validation.ValidateNotNil(module, "source", source); err != nil {
		return nil, err
	}
	if err := validation.ValidateNotEmpty(module, "key", config.Key); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegativeDuration(module, "ttl", config.TTL); err != nil {
		return nil, err
	}

	def := DefaultConfig()
	if config.Name == "" {
		config.Name, _ = os.Hostname()
		if config.Name == "" {
			config.Name = strconv.Itoa(os.Getpid())
		}
	}
	if config.TTL == 0 {
		config.TTL = def.TTL
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	return &Exporter{
		config: config,
		source: source,
		keys:   redisKeys(config.Key, config.Name),
		log:    config.Logger.WithFields(logrus.Fields{"exporter": module, "name": config.Name}),
	}, nil
}

// redisKeys generates the keys used by an exporter.
func redisKeys(prefix, name string) map[string]string {
	return map[string]string{
		"stats":     prefix + ":" + name + ":stats",
		"instances": prefix + ":instances",
	}
}

// StatsKey returns the hash the snapshot is written to.
func (e *Exporter) StatsKey() string {
	return e.keys["stats"]
}

// Publish writes the current snapshot and registers the name in the
// instances set. Both keys expire after the configured TTL.
func (e *Exporter) Publish(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	pipe := e.config.Client.Pipeline()
	pipe.HSet(ctx, e.keys["stats"], fields(e.source.Stats(), time.Now()))
	pipe.Expire(ctx, e.keys["stats"], e.config.TTL)
	pipe.SAdd(ctx, e.keys["instances"], e.config.Name)
	pipe.Expire(ctx, e.keys["instances"], e.config.TTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return gferrors.NewOperationError(module, "Publish", err).WithContext(e.keys["stats"])
	}
	return nil
}

// Start publishes every interval on s until ctx is done or s stops.
// The first snapshot is written immediately.
func (e *Exporter) Start(ctx context.Context, s *timer.Scheduler, interval time.Duration) error {
	if err := e.Publish(ctx); err != nil {
		return err
	}
	_, err := s.ScheduleEvery(ctx, interval, func(taskCtx context.Context) {
		if err := e.Publish(taskCtx); err != nil {
			e.log.WithError(err).Warn("publishing stats failed")
		}
	})
	return err
}

// Load reads back the snapshot published under name.
func Load(ctx context.Context, client redis.UniversalClient, key, name string) (map[string]string, error) {
	values, err := client.HGetAll(ctx, redisKeys(key, name)["stats"]).Result()
	if err != nil {
		return nil, gferrors.NewOperationError(module, "Load", err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("no stats published for %q", name)
	}
	return values, nil
}

// Instances lists the names that published under key within the TTL.
func Instances(ctx context.Context, client redis.UniversalClient, key string) ([]string, error) {
	names, err := client.SMembers(ctx, key+":instances").Result()
	if err != nil {
		return nil, gferrors.NewOperationError(module, "Instances", err)
	}
	return names, nil
}

// fields flattens a snapshot into hash fields. Durations are stored in
// seconds.
func fields(s workerpool.Stats, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"pool":             s.Name,
		"workers":          s.Workers,
		"max_workers":      s.MaxWorkers,
		"available":        s.Available,
		"pending":          s.Pending,
		"capacity":         s.Capacity,
		"average_interval": s.AverageInterval.Seconds(),
		"average_wait":     s.AverageWait.Seconds(),
		"total_launched":   s.TotalLaunched,
		"total_executed":   s.TotalExecuted,
		"total_failed":     s.TotalFailed,
		"latest_active":    s.LatestActive.Unix(),
		"published_at":     at.Unix(),
	}
}
