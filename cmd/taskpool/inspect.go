package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/vnykmshr/taskpool/pkg/stats/redisexport"
)

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "print the stats snapshots published to Redis",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "redis-addr", Value: "localhost:6379", Usage: "Redis server", EnvVars: []string{"TASKPOOL_REDIS_ADDR"}},
			&cli.StringFlag{Name: "redis-key", Value: "taskpool", Usage: "Redis key prefix", EnvVars: []string{"TASKPOOL_REDIS_KEY"}},
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "only this instance"},
		},
		Action: inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	client := redis.NewClient(&redis.Options{Addr: c.String("redis-addr")})
	defer client.Close()

	key := c.String("redis-key")
	names := []string{c.String("name")}
	if names[0] == "" {
		var err error
		if names, err = redisexport.Instances(c.Context, client, key); err != nil {
			return cli.Exit(fmt.Sprintf("listing instances: %v", err), 1)
		}
		sort.Strings(names)
	}

	snapshots := make(map[string]map[string]string, len(names))
	for _, name := range names {
		values, err := redisexport.Load(c.Context, client, key, name)
		if err != nil {
			loggerFrom(c).WithError(err).WithField("name", name).Warn("skipping instance")
			continue
		}
		snapshots[name] = values
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snapshots)
}
